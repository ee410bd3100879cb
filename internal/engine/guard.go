package engine

import "golang.org/x/sync/singleflight"

// Guard collapses concurrent duplicates of the same operation on the same
// record into one call whose result every caller shares.
type Guard struct {
	group singleflight.Group
}

func guarded[T any](g *Guard, key, operation string, fn func() (T, error)) (T, bool, error) {
	v, err, shared := g.group.Do(operation+"/"+key, func() (any, error) {
		return fn()
	})
	out, _ := v.(T)
	return out, shared, err
}
