// Package cms is a store.Repository backed by the remote content service
// that owns filings. Filings are exchanged as JSON over HTTP.
package cms

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"filing-engine/internal/model"
	"filing-engine/internal/store"
)

const DefaultTimeout = 5 * time.Second

type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
	// Dial replaces the TCP dialer, mainly for tests.
	Dial fasthttp.DialFunc
}

type Client struct {
	baseURL string
	timeout time.Duration
	logger  *zap.Logger
	http    *fasthttp.Client

	// Submitted filings never change, so they are served from here.
	submitted sync.Map
}

var _ store.Repository = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: cms url %q", store.ErrInvalidInput, cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		http: &fasthttp.Client{
			Name:                "filing-engine",
			MaxConnsPerHost:     100,
			MaxIdleConnDuration: 90 * time.Second,
			Dial:                cfg.Dial,
		},
	}, nil
}

type createFilingBody struct {
	Year int              `json:"year"`
	Type model.FilingType `json:"type"`
}

type createPersonBody struct {
	Type model.Role `json:"type"`
}

type formDataBody struct {
	Changes model.FormData `json:"changes"`
}

type submitBody struct {
	TotalPrice float64 `json:"totalPrice"`
}

func (c *Client) CreateFiling(ctx context.Context, year int, filingType model.FilingType) (*model.Filing, error) {
	if _, ok := model.ParseFilingType(string(filingType)); !ok {
		return nil, fmt.Errorf("%w: filing type %q", store.ErrInvalidInput, filingType)
	}
	var f model.Filing
	if err := c.do(ctx, fasthttp.MethodPost, "/filings", createFilingBody{year, filingType}, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *Client) GetFiling(ctx context.Context, filingID string) (*model.Filing, error) {
	if v, ok := c.submitted.Load(filingID); ok {
		return v.(*model.Filing).Clone(), nil
	}
	var f model.Filing
	if err := c.do(ctx, fasthttp.MethodGet, "/filings/"+url.PathEscape(filingID), nil, &f); err != nil {
		return nil, err
	}
	if !model.Editable(f.Status) {
		c.submitted.Store(f.ID, f.Clone())
	}
	return &f, nil
}

func (c *Client) CreatePersonalFiling(ctx context.Context, filingID string, role model.Role) (*model.PersonalFiling, error) {
	var p model.PersonalFiling
	path := "/filings/" + url.PathEscape(filingID) + "/personal-filings"
	if err := c.do(ctx, fasthttp.MethodPost, path, createPersonBody{role}, &p); err != nil {
		return nil, err
	}
	if p.FormData == nil {
		p.FormData = model.FormData{}
	}
	return &p, nil
}

func (c *Client) SaveFormData(ctx context.Context, recordID string, changes model.FormData) error {
	return c.do(ctx, fasthttp.MethodPatch, "/records/"+url.PathEscape(recordID)+"/form-data", formDataBody{changes}, nil)
}

func (c *Client) MarkComplete(ctx context.Context, recordID string) error {
	return c.do(ctx, fasthttp.MethodPost, "/records/"+url.PathEscape(recordID)+"/complete", nil, nil)
}

func (c *Client) SaveProgress(ctx context.Context, filingID string, progress model.WizardProgress) error {
	return c.do(ctx, fasthttp.MethodPut, "/filings/"+url.PathEscape(filingID)+"/progress", progress, nil)
}

func (c *Client) Submit(ctx context.Context, filingID string, totalPrice float64) (*model.Filing, error) {
	var f model.Filing
	if err := c.do(ctx, fasthttp.MethodPost, "/filings/"+url.PathEscape(filingID)+"/submit", submitBody{totalPrice}, &f); err != nil {
		return nil, err
	}
	c.submitted.Store(f.ID, f.Clone())
	return &f, nil
}

// do sends one JSON request and decodes the response into out. The context
// deadline shortens the client timeout but a cancelled context does not
// abort a request already sent.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s: %w", method, path, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBodyRaw(body)
	}

	start := time.Now()
	err := c.http.DoTimeout(req, resp, timeout)
	c.logger.Debug("CMS request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	if err != nil {
		return fmt.Errorf("cms %s %s: %w", method, path, err)
	}

	if err := statusError(resp.StatusCode(), resp.Body()); err != nil {
		return fmt.Errorf("cms %s %s: %w", method, path, err)
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode cms response for %s %s: %w", method, path, err)
	}
	return nil
}

// statusError maps the service's status codes onto the store errors.
func statusError(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	var e model.ErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		msg = e.Message
	}

	var base error
	switch status {
	case fasthttp.StatusNotFound:
		base = store.ErrNotFound
	case fasthttp.StatusConflict:
		base = store.ErrSubmitted
	case fasthttp.StatusBadRequest, fasthttp.StatusUnprocessableEntity:
		base = store.ErrInvalidInput
	default:
		base = errors.New(fasthttp.StatusMessage(status))
	}
	if msg == "" {
		return fmt.Errorf("status %d: %w", status, base)
	}
	return fmt.Errorf("status %d: %s: %w", status, msg, base)
}
