package wizard

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

var ErrUnknownAction = errors.New("unknown wizard action")

type decoder func(props []byte) (Action, error)

func withProps[A Action]() decoder {
	return func(props []byte) (Action, error) {
		var a A
		if len(props) == 0 || string(props) == "null" {
			return a, nil
		}
		if err := json.Unmarshal(props, &a); err != nil {
			return nil, err
		}
		return a, nil
	}
}

func bare[A Action]() decoder {
	return func([]byte) (Action, error) {
		var a A
		return a, nil
	}
}

var registry = map[ActionType]decoder{
	TypeInitFiling:          withProps[InitFiling](),
	TypeInitCorporateFiling: withProps[InitCorporateFiling](),
	TypeInitTrustFiling:     withProps[InitTrustFiling](),
	TypeNextSection:         withProps[NextSection](),
	TypePrevSection:         bare[PrevSection](),
	TypeGoToSection:         withProps[GoToSection](),
	TypeCompletePhase:       bare[CompletePhase](),
	TypeCompletePrimary:     bare[CompletePrimary](),
	TypeCompleteSpouse:      bare[CompleteSpouse](),
	TypeCompleteDependent:   bare[CompleteDependent](),
	TypeCompleteCorporate:   bare[CompleteCorporate](),
	TypeCompleteTrust:       bare[CompleteTrust](),
	TypeStartSpouse:         withProps[StartSpouse](),
	TypeAddDependent:        bare[AddDependent](),
	TypeStartDependent:      withProps[StartDependent](),
	TypeSkipSpouse:          bare[SkipSpouse](),
	TypeSkipDependents:      bare[SkipDependents](),
	TypeGoToReview:          bare[GoToReview](),
	TypeMarkStepComplete:    withProps[MarkStepComplete](),
	TypeRestore:             withProps[Restore](),
	TypeReset:               bare[Reset](),
	TypeSetLoading:          withProps[SetLoading](),
	TypeSetSyncing:          withProps[SetSyncing](),
	TypeSetError:            withProps[SetError](),
}

// Decode builds the action named name from its JSON properties.
func Decode(name string, props []byte) (Action, error) {
	d, ok := registry[ActionType(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	a, err := d(props)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return a, nil
}
