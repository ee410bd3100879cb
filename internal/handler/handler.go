// Package handler exposes the engine over HTTP with fasthttp.
package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"filing-engine/internal/engine"
	"filing-engine/internal/metrics"
	"filing-engine/internal/model"
	"filing-engine/internal/pricing"
	"filing-engine/internal/questions"
	"filing-engine/internal/schema"
	"filing-engine/internal/store"
	"filing-engine/internal/wizard"
)

type Handler struct {
	schemas  *schema.Store
	sessions *engine.Manager
	metrics  *metrics.Metrics
	logger   *zap.Logger
	fees     pricing.LegacyFees
	timeout  time.Duration

	promHandler fasthttp.RequestHandler
}

type Options struct {
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	LegacyFees pricing.LegacyFees
	// Timeout bounds the repository work of one request.
	Timeout time.Duration
}

func New(schemas *schema.Store, sessions *engine.Manager, opts Options) *Handler {
	h := &Handler{
		schemas:  schemas,
		sessions: sessions,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		fees:     opts.LegacyFees,
		timeout:  opts.Timeout,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.fees == (pricing.LegacyFees{}) {
		h.fees = pricing.DefaultLegacyFees
	}
	if h.timeout <= 0 {
		h.timeout = 10 * time.Second
	}
	if reg := opts.Metrics.Registry(); reg != nil {
		h.promHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return h
}

// Handle routes a request and records its latency.
func (h *Handler) Handle(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	route := h.route(ctx)
	h.metrics.Request(route, ctx.Response.StatusCode(), time.Since(start))
}

func (h *Handler) route(ctx *fasthttp.RequestCtx) string {
	method := string(ctx.Method())
	parts := strings.Split(strings.Trim(string(ctx.Path()), "/"), "/")

	switch {
	case method == fasthttp.MethodGet && len(parts) == 1 && parts[0] == "healthz":
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{"status": "ok", "schemas": h.schemas.Len(), "sessions": h.sessions.Len()})
		return "/healthz"
	case method == fasthttp.MethodGet && len(parts) == 1 && parts[0] == "metrics":
		if h.promHandler == nil {
			writeError(ctx, fasthttp.StatusNotFound, "Metrics are disabled")
		} else {
			h.promHandler(ctx)
		}
		return "/metrics"
	case method == fasthttp.MethodGet && len(parts) == 3 && parts[0] == "schemas":
		h.getSchema(ctx, parts[1], parts[2])
		return "/schemas/{year}/{type}"
	case len(parts) >= 1 && parts[0] == "filings":
		return h.routeFiling(ctx, method, parts[1:])
	case method != fasthttp.MethodPost:
		writeError(ctx, fasthttp.StatusMethodNotAllowed, "Method not allowed")
		return "other"
	}

	path := "/" + strings.Join(parts, "/")
	switch path {
	case "/sections":
		h.sections(ctx)
	case "/validate":
		h.validate(ctx)
	case "/fields-to-clear":
		h.fieldsToClear(ctx)
	case "/price":
		h.price(ctx)
	case "/wizard/actions":
		h.actions(ctx)
	default:
		writeError(ctx, fasthttp.StatusNotFound, "Not found")
		return "other"
	}
	return path
}

func (h *Handler) getSchema(ctx *fasthttp.RequestCtx, yearParam, typeParam string) {
	year, err := strconv.Atoi(yearParam)
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "Invalid year: "+yearParam)
		return
	}
	ft, ok := model.ParseFilingType(typeParam)
	if !ok {
		writeError(ctx, fasthttp.StatusBadRequest, "Invalid filing type: "+typeParam)
		return
	}
	sc, err := h.schemas.Get(year, ft)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, sc)
}

// resolve finds the schema and role a stateless request runs against. The
// role defaults to primary.
func (h *Handler) resolve(q model.SchemaQuery) (*schema.Schema, model.Role, error) {
	ft, ok := model.ParseFilingType(string(q.FilingType))
	if !ok {
		return nil, "", badRequest("Invalid filing type: " + string(q.FilingType))
	}
	role := model.RolePrimary
	if q.Role != "" {
		if role, ok = model.ParseRole(string(q.Role)); !ok {
			return nil, "", badRequest("Invalid role: " + string(q.Role))
		}
	}
	year := q.Year
	if year == 0 {
		year = h.schemas.DefaultYear()
	}
	sc, err := h.schemas.Get(year, ft)
	if err != nil {
		return nil, "", err
	}
	return sc, role, nil
}

type sectionsResponse struct {
	Sections []questions.Section         `json:"sections"`
	Progress []questions.SectionProgress `json:"progress"`
}

func (h *Handler) sections(ctx *fasthttp.RequestCtx) {
	var req model.SectionsRequest
	if !decode(ctx, &req) {
		return
	}
	sc, role, err := h.resolve(req.SchemaQuery)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	sections := questions.SectionsForRole(sc, role, req.FormData)
	if sections == nil {
		sections = []questions.Section{}
	}
	writeJSON(ctx, fasthttp.StatusOK, sectionsResponse{
		Sections: sections,
		Progress: questions.Progress(sections, req.FormData),
	})
}

func (h *Handler) validate(ctx *fasthttp.RequestCtx) {
	var req model.ValidateRequest
	if !decode(ctx, &req) {
		return
	}
	sc, role, err := h.resolve(req.SchemaQuery)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	if req.StepID == "" {
		writeJSON(ctx, fasthttp.StatusOK, questions.ValidateAllSectionsForRole(sc, role, req.FormData))
		return
	}
	sec, ok := questions.SectionByStep(sc, role, req.FormData, req.StepID)
	if !ok {
		writeError(ctx, fasthttp.StatusNotFound, "Section not visible: "+req.StepID)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, questions.ValidateSection(sec, req.FormData, sc.Questions))
}

func (h *Handler) fieldsToClear(ctx *fasthttp.RequestCtx) {
	var req model.FieldsToClearRequest
	if !decode(ctx, &req) {
		return
	}
	if req.ChangedField == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "changedField is required")
		return
	}
	sc, role, err := h.resolve(req.SchemaQuery)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	fields := questions.FieldsToClearForConditional(sc, req.ChangedField, req.OldValue, req.NewValue, role, req.FormData)
	if fields == nil {
		fields = []string{}
	}
	writeJSON(ctx, fasthttp.StatusOK, model.FieldsToClearResponse{Fields: fields})
}

// price uses the schema of the filing's year and type. Without one the
// legacy fees apply.
func (h *Handler) price(ctx *fasthttp.RequestCtx) {
	var req model.PriceRequest
	if !decode(ctx, &req) {
		return
	}
	f := &req.Filing
	if _, ok := model.ParseFilingType(string(f.Type)); !ok {
		writeError(ctx, fasthttp.StatusBadRequest, "Invalid filing type: "+string(f.Type))
		return
	}

	sc, err := h.schemas.Get(f.Year, f.Type)
	if err != nil && !errors.Is(err, schema.ErrSchemaNotFound) {
		h.fail(ctx, err)
		return
	}
	b := pricing.Calculate(f, sc, h.fees)
	if b.Mode == pricing.ModeLegacy {
		h.logger.Warn("No schema pricing, using legacy fees", zap.Int("year", f.Year), zap.String("type", string(f.Type)))
	}
	h.metrics.Pricing(string(b.Mode))
	writeJSON(ctx, fasthttp.StatusOK, b)
}

func (h *Handler) actions(ctx *fasthttp.RequestCtx) {
	var req model.ActionRequest
	if !decode(ctx, &req) {
		return
	}
	if len(req.Actions) == 0 {
		writeError(ctx, fasthttp.StatusBadRequest, "At least one action is required")
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, engine.Process(&req, h.metrics))
}

type sessionView struct {
	Filing   *model.Filing               `json:"filing"`
	State    wizard.State                `json:"state"`
	Sections []questions.Section         `json:"sections"`
	Progress []questions.SectionProgress `json:"progress"`
}

func view(s *engine.Session) sessionView {
	sections := s.Sections()
	if sections == nil {
		sections = []questions.Section{}
	}
	return sessionView{
		Filing:   s.Filing(),
		State:    s.State(),
		Sections: sections,
		Progress: s.Progress(),
	}
}

type navigationResponse struct {
	Result questions.Result `json:"result"`
	State  wizard.State     `json:"state"`
}

type submitResponse struct {
	Filing    *model.Filing     `json:"filing"`
	Breakdown pricing.Breakdown `json:"breakdown"`
}

type gotoRequest struct {
	Index int `json:"index"`
}

func (h *Handler) routeFiling(ctx *fasthttp.RequestCtx, method string, rest []string) string {
	c, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if len(rest) == 0 {
		if method != fasthttp.MethodPost {
			writeError(ctx, fasthttp.StatusMethodNotAllowed, "Method not allowed")
			return "/filings"
		}
		var req model.CreateFilingRequest
		if !decode(ctx, &req) {
			return "/filings"
		}
		ft, ok := model.ParseFilingType(string(req.FilingType))
		if !ok {
			writeError(ctx, fasthttp.StatusBadRequest, "Invalid filing type: "+string(req.FilingType))
			return "/filings"
		}
		if req.Year == 0 {
			req.Year = h.schemas.DefaultYear()
		}
		s, err := h.sessions.Create(c, req.Year, ft)
		if err != nil {
			h.fail(ctx, err)
			return "/filings"
		}
		writeJSON(ctx, fasthttp.StatusCreated, view(s))
		return "/filings"
	}

	s, err := h.sessions.Open(c, rest[0])
	if err != nil {
		h.fail(ctx, err)
		return "/filings/{id}"
	}

	action := ""
	if len(rest) > 1 {
		action = rest[1]
	}
	route := "/filings/{id}"
	if action != "" {
		route += "/" + action
	}

	want := fasthttp.MethodPost
	if action == "" || action == "price" {
		want = fasthttp.MethodGet
	}
	if len(rest) > 2 || method != want {
		writeError(ctx, fasthttp.StatusMethodNotAllowed, "Method not allowed")
		return route
	}

	switch action {
	case "":
		writeJSON(ctx, fasthttp.StatusOK, view(s))
	case "start":
		h.respond(ctx, s, s.Start(c))
	case "fields":
		var req model.SetFieldRequest
		if !decode(ctx, &req) {
			return route
		}
		if req.Field == "" {
			writeError(ctx, fasthttp.StatusBadRequest, "field is required")
			return route
		}
		cleared, err := s.SetField(req.Field, req.Value)
		if err != nil {
			h.fail(ctx, err)
			return route
		}
		writeJSON(ctx, fasthttp.StatusOK, model.SetFieldResponse{Cleared: cleared})
	case "next":
		res, err := s.NextSection(c)
		if err != nil {
			h.fail(ctx, err)
			return route
		}
		writeJSON(ctx, fasthttp.StatusOK, navigationResponse{Result: res, State: s.State()})
	case "prev":
		h.respond(ctx, s, s.PrevSection(c))
	case "goto":
		var req gotoRequest
		if !decode(ctx, &req) {
			return route
		}
		h.respond(ctx, s, s.GoToSection(c, req.Index))
	case "complete":
		h.respond(ctx, s, s.CompleteCurrentPhase(c))
	case "spouse":
		_, err := s.AddSpouse(c)
		h.respond(ctx, s, err)
	case "dependents":
		_, err := s.AddDependent(c)
		h.respond(ctx, s, err)
	case "skip-spouse":
		h.respond(ctx, s, s.SkipSpouse(c))
	case "skip-dependents":
		h.respond(ctx, s, s.SkipDependents(c))
	case "review":
		h.respond(ctx, s, s.GoToReview(c))
	case "save":
		h.respond(ctx, s, s.SaveAndExit(c))
	case "price":
		writeJSON(ctx, fasthttp.StatusOK, s.Price())
	case "submit":
		f, b, err := s.Submit(c)
		if err != nil {
			h.fail(ctx, err)
			return route
		}
		writeJSON(ctx, fasthttp.StatusOK, submitResponse{Filing: f, Breakdown: b})
	case "close":
		if err := h.sessions.Close(c, rest[0]); err != nil {
			h.fail(ctx, err)
			return route
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	default:
		writeError(ctx, fasthttp.StatusNotFound, "Not found")
		return "/filings/{id}/other"
	}
	return route
}

func (h *Handler) respond(ctx *fasthttp.RequestCtx, s *engine.Session, err error) {
	if err != nil {
		h.fail(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, view(s))
}

type requestError struct{ msg string }

func (e requestError) Error() string { return e.msg }

func badRequest(msg string) error { return requestError{msg} }

type validationErrorResponse struct {
	model.ErrorResponse
	Validation questions.RoleResult `json:"validation"`
}

// fail maps engine and store errors onto HTTP statuses.
func (h *Handler) fail(ctx *fasthttp.RequestCtx, err error) {
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		writeJSON(ctx, fasthttp.StatusUnprocessableEntity, validationErrorResponse{
			ErrorResponse: model.ErrorResponse{Status: fasthttp.StatusUnprocessableEntity, Message: err.Error()},
			Validation:    verr.Result,
		})
		return
	}

	var rerr requestError
	status := fasthttp.StatusInternalServerError
	switch {
	case errors.As(err, &rerr), errors.Is(err, store.ErrInvalidInput), errors.Is(err, engine.ErrSectionOutOfRange):
		status = fasthttp.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, schema.ErrSchemaNotFound), errors.Is(err, engine.ErrSessionNotFound):
		status = fasthttp.StatusNotFound
	case errors.Is(err, engine.ErrInvalidTransition), errors.Is(err, engine.ErrNotInReview),
		errors.Is(err, engine.ErrNoActiveRecord), errors.Is(err, store.ErrSubmitted):
		status = fasthttp.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = fasthttp.StatusGatewayTimeout
	}
	if status == fasthttp.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", string(ctx.Path())), zap.Error(err))
	}
	writeError(ctx, status, err.Error())
}

func decode(ctx *fasthttp.RequestCtx, v any) bool {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = fasthttp.StatusInternalServerError
		body, _ = json.Marshal(model.ErrorResponse{Status: status, Message: err.Error()})
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}

func writeError(ctx *fasthttp.RequestCtx, status int, message string) {
	writeJSON(ctx, status, model.ErrorResponse{
		Status:  status,
		Message: message,
	})
}
