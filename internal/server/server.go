// Package server exposes the confirmation API used by the browser extension.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autofill/internal/confirm"
	"github.com/sells-group/autofill/internal/model"
	"github.com/sells-group/autofill/internal/stage"
)

const shutdownTimeout = 10 * time.Second

// Engine is the coordinator surface the API drives. *confirm.Coordinator
// satisfies it.
type Engine interface {
	StartSession(ctx context.Context, stageCount *int) (string, error)
	Detect(ctx context.Context, sessionID string, ds []model.FieldDescriptor) ([]model.ClassifiedField, error)
	Decisions(sessionID string, stageIndex int) ([]model.ResolutionDecision, error)
	Pending(sessionID string, stageIndex int) ([]model.ResolutionDecision, error)
	Approve(ctx context.Context, sessionID, fieldID string) (model.ResolutionDecision, error)
	Edit(ctx context.Context, sessionID, fieldID, value string) (model.ResolutionDecision, error)
	Reject(ctx context.Context, sessionID, fieldID string) (model.ResolutionDecision, error)
	Reresolve(ctx context.Context, sessionID, fieldID string) error
	Confirm(ctx context.Context, sessionID string) ([]model.FillInstruction, error)
	Advance(ctx context.Context, sessionID string, stageCount *int) (model.StageContext, error)
	Submit(ctx context.Context, sessionID string, final bool) error
	Status(sessionID string) (model.SessionStatus, error)
	Sessions() []model.SessionStatus
}

// Drainer hands released values to the browser side.
type Drainer interface {
	Drain(sessionID string) []model.FillInstruction
}

// Server serves the HTTP API.
type Server struct {
	engine  Engine
	fills   Drainer
	version string
	origins []string
	nowFunc func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithFills sets the queue drained by GET /api/sessions/{id}/fills.
func WithFills(d Drainer) Option {
	return func(s *Server) { s.fills = d }
}

// WithVersion sets the version reported by /api/status.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithCORSOrigins sets the allowed browser origins. Wildcards such as
// "chrome-extension://*" are accepted.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.nowFunc = now }
}

// New creates a Server.
func New(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:  engine,
		version: "dev",
		origins: []string{"chrome-extension://*"},
		nowFunc: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/sessions", s.handleStartSession)
		r.Route("/sessions/{session}", func(r chi.Router) {
			r.Get("/", s.handleSession)
			r.Post("/fields", s.handleDetect)
			r.Get("/stages/{stage}/decisions", s.handleDecisions)
			r.Post("/decisions/{field}/approve", s.handleApprove)
			r.Post("/decisions/{field}/edit", s.handleEdit)
			r.Post("/decisions/{field}/reject", s.handleReject)
			r.Post("/decisions/{field}/reresolve", s.handleReresolve)
			r.Post("/confirm", s.handleConfirm)
			r.Post("/advance", s.handleAdvance)
			r.Post("/submit", s.handleSubmit)
			r.Get("/fills", s.handleFills)
		})
	})
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server: listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "server: listen")
	case <-ctx.Done():
	}

	zap.L().Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"timestamp": s.nowFunc().UTC().Format(time.RFC3339),
		"sessions":  s.engine.Sessions(),
	})
}

type startRequest struct {
	StageCount *int `json:"stage_count"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if req.StageCount != nil && *req.StageCount < 1 {
		writeError(w, http.StatusBadRequest, "stage_count must be at least 1")
		return
	}
	id, err := s.engine.StartSession(r.Context(), req.StageCount)
	if err != nil {
		s.fail(w, err)
		return
	}
	st, err := s.engine.Status(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(chi.URLParam(r, "session"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type detectRequest struct {
	Fields []model.FieldDescriptor `json:"fields"`
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	fields, err := s.engine.Detect(r.Context(), chi.URLParam(r, "session"), req.Fields)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"fields": fields})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "stage"))
	if err != nil || idx < 0 {
		writeError(w, http.StatusBadRequest, "stage must be a non-negative integer")
		return
	}
	sid := chi.URLParam(r, "session")

	var ds []model.ResolutionDecision
	if r.URL.Query().Get("status") == string(model.StatusPending) {
		ds, err = s.engine.Pending(sid, idx)
	} else {
		ds, err = s.engine.Decisions(sid, idx)
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": ds})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.Approve(r.Context(), chi.URLParam(r, "session"), chi.URLParam(r, "field"))
	s.writeDecision(w, d, err)
}

type editRequest struct {
	Value *string `json:"value"`
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	d, err := s.engine.Edit(r.Context(), chi.URLParam(r, "session"), chi.URLParam(r, "field"), *req.Value)
	s.writeDecision(w, d, err)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.Reject(r.Context(), chi.URLParam(r, "session"), chi.URLParam(r, "field"))
	s.writeDecision(w, d, err)
}

func (s *Server) handleReresolve(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reresolve(r.Context(), chi.URLParam(r, "session"), chi.URLParam(r, "field")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resolving"})
}

func (s *Server) writeDecision(w http.ResponseWriter, d model.ResolutionDecision, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	fills, err := s.engine.Confirm(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if fills == nil {
		fills = []model.FillInstruction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"fills": fills})
}

type advanceRequest struct {
	StageCount *int `json:"stage_count"`
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	sc, err := s.engine.Advance(r.Context(), chi.URLParam(r, "session"), req.StageCount)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

type submitRequest struct {
	Final bool `json:"final"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	sid := chi.URLParam(r, "session")
	if err := s.engine.Submit(r.Context(), sid, req.Final); err != nil {
		s.fail(w, err)
		return
	}
	st, err := s.engine.Status(sid)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleFills(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "session")
	if _, err := s.engine.Status(sid); err != nil {
		s.fail(w, err)
		return
	}
	fills := []model.FillInstruction{}
	if s.fills != nil {
		if got := s.fills.Drain(sid); got != nil {
			fills = got
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"fills": fills})
}

// fail maps engine errors to status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	body := map[string]any{"error": err.Error()}

	var te *stage.TransitionError
	if errors.As(err, &te) && len(te.Blocking) > 0 {
		body["blocking"] = te.Blocking
	}

	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		zap.L().Error("server: request failed", zap.Error(err))
	}
	writeJSON(w, code, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrUnknownSession), errors.Is(err, model.ErrUnknownField):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrDecisionClosed),
		errors.Is(err, model.ErrDecisionExpired),
		errors.Is(err, stage.ErrStaleDetection),
		errors.Is(err, stage.ErrFinalConfirmationRequired),
		errors.Is(err, confirm.ErrStillResolving),
		errors.Is(err, confirm.ErrNoProposedValue):
		return http.StatusConflict
	case errors.Is(err, confirm.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeOptional decodes a JSON body that may be empty. It writes a 400 and
// returns false on malformed input.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
