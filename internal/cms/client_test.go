package cms

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"filing-engine/internal/model"
	"filing-engine/internal/store"
	"filing-engine/internal/store/memory"
	"filing-engine/internal/store/storetest"
)

// fakeCMS serves the content service API from an in-memory repository.
type fakeCMS struct {
	repo *memory.Repository
	gets atomic.Int32
}

func (f *fakeCMS) handle(ctx *fasthttp.RequestCtx) {
	path := strings.TrimPrefix(string(ctx.Path()), "/api")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	method := string(ctx.Method())
	c := context.Background()

	var (
		out any
		err error
	)
	switch {
	case method == "POST" && len(parts) == 1 && parts[0] == "filings":
		var body createFilingBody
		if err = json.Unmarshal(ctx.PostBody(), &body); err == nil {
			out, err = f.repo.CreateFiling(c, body.Year, body.Type)
		}
	case method == "GET" && len(parts) == 2 && parts[0] == "filings":
		f.gets.Add(1)
		out, err = f.repo.GetFiling(c, parts[1])
	case method == "POST" && len(parts) == 3 && parts[2] == "personal-filings":
		var body createPersonBody
		if err = json.Unmarshal(ctx.PostBody(), &body); err == nil {
			out, err = f.repo.CreatePersonalFiling(c, parts[1], body.Type)
		}
	case method == "PATCH" && len(parts) == 3 && parts[2] == "form-data":
		var body formDataBody
		if err = json.Unmarshal(ctx.PostBody(), &body); err == nil {
			err = f.repo.SaveFormData(c, parts[1], body.Changes)
		}
	case method == "POST" && len(parts) == 3 && parts[2] == "complete":
		err = f.repo.MarkComplete(c, parts[1])
	case method == "PUT" && len(parts) == 3 && parts[2] == "progress":
		var body model.WizardProgress
		if err = json.Unmarshal(ctx.PostBody(), &body); err == nil {
			err = f.repo.SaveProgress(c, parts[1], body)
		}
	case method == "POST" && len(parts) == 3 && parts[2] == "submit":
		var body submitBody
		if err = json.Unmarshal(ctx.PostBody(), &body); err == nil {
			out, err = f.repo.Submit(c, parts[1], body.TotalPrice)
		}
	default:
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}

	status := fasthttp.StatusOK
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = fasthttp.StatusNotFound
	case errors.Is(err, store.ErrSubmitted):
		status = fasthttp.StatusConflict
	case err != nil:
		status = fasthttp.StatusBadRequest
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	if err != nil {
		out = model.ErrorResponse{Status: status, Message: err.Error()}
	}
	if out == nil {
		ctx.SetStatusCode(fasthttp.StatusNoContent)
		return
	}
	body, _ := json.Marshal(out)
	ctx.SetBody(body)
}

func serve(t *testing.T, h fasthttp.RequestHandler) fasthttp.DialFunc {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: h}
	go srv.Serve(ln) //nolint:errcheck
	t.Cleanup(func() { _ = srv.Shutdown() })
	return func(string) (net.Conn, error) { return ln.Dial() }
}

func newTestClient(t *testing.T, h fasthttp.RequestHandler, timeout time.Duration) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: "http://cms.test/api/", Timeout: timeout, Dial: serve(t, h)})
	require.NoError(t, err)
	return c
}

func TestClientRepository(t *testing.T) {
	fake := &fakeCMS{repo: memory.New()}
	storetest.Run(t, newTestClient(t, fake.handle, time.Second))
}

func TestClientCachesSubmittedFilings(t *testing.T) {
	ctx := context.Background()
	fake := &fakeCMS{repo: memory.New()}
	c := newTestClient(t, fake.handle, time.Second)

	f, err := c.CreateFiling(ctx, 2024, model.FilingTrust)
	require.NoError(t, err)
	_, err = c.GetFiling(ctx, f.ID)
	require.NoError(t, err)
	_, err = c.GetFiling(ctx, f.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, fake.gets.Load())

	_, err = c.Submit(ctx, f.ID, 169.49)
	require.NoError(t, err)
	got, err := c.GetFiling(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, got.Status)
	assert.EqualValues(t, 2, fake.gets.Load())
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/api/filings/slow":
			time.Sleep(200 * time.Millisecond)
		case "/api/filings/broken":
			ctx.SetStatusCode(fasthttp.StatusBadGateway)
			ctx.SetBodyString("upstream down")
		case "/api/filings/garbled":
			ctx.SetBodyString("{not json")
		}
	}, 50*time.Millisecond)

	_, err := c.GetFiling(ctx, "slow")
	assert.ErrorIs(t, err, fasthttp.ErrTimeout)

	_, err = c.GetFiling(ctx, "broken")
	assert.ErrorContains(t, err, "upstream down")
	assert.ErrorContains(t, err, "502")

	_, err = c.GetFiling(ctx, "garbled")
	assert.ErrorContains(t, err, "decode")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.GetFiling(cancelled, "any")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Config{BaseURL: "cms.local"})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}
