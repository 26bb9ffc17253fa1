package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"iencode/internal/api"
	"iencode/internal/config"
	"iencode/internal/logging"
	"iencode/internal/queue"
)

const maxRequestBody = 1 << 20

type apiServer struct {
	bind     string
	logger   *slog.Logger
	daemon   *Daemon
	queueSvc *api.QueueService

	listener net.Listener
	server   *http.Server
	addr     atomic.Value
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	srv := &apiServer{
		bind:     strings.TrimSpace(cfg.Paths.APIBind),
		logger:   logger,
		daemon:   d,
		queueSvc: d.queueSvc,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes(token string) http.Handler {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.Use(authMiddleware(token))
	apiRouter.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	apiRouter.HandleFunc("/jobs", s.handleList).Methods(http.MethodGet)
	apiRouter.HandleFunc("/jobs", s.handleEnqueue).Methods(http.MethodPost)
	apiRouter.HandleFunc("/jobs/{id}", s.handleDescribe).Methods(http.MethodGet)
	apiRouter.HandleFunc("/jobs/{id}", s.handleCancel).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/jobs/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	apiRouter.HandleFunc("/jobs/{id}/lane", s.handleReprioritize).Methods(http.MethodPost, http.MethodPut)
	apiRouter.HandleFunc("/jobs/{id}/events", s.handleJobEvents).Methods(http.MethodGet)
	apiRouter.HandleFunc("/events", s.handleAllEvents).Methods(http.MethodGet)

	r.Handle("/metrics", s.daemon.workflow.Metrics().Handler()).Methods(http.MethodGet)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "route not found", api.CodeNotFound)
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.addr.Store(listener.Addr().String())

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// address returns the bound listener address, or "" before start.
func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	addr, _ := s.addr.Load().(string)
	return addr
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.APIStatus(r.Context()))
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	s.writeJSON(w, http.StatusOK, s.queueSvc.List(owner))
}

func (s *apiServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req api.EnqueueRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if strings.TrimSpace(req.Owner) == "" {
		req.Owner = requester(r)
	}
	item, err := s.queueSvc.Enqueue(r.Context(), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.JobResponse{Job: item})
}

func (s *apiServer) handleDescribe(w http.ResponseWriter, r *http.Request) {
	item, err := s.queueSvc.Describe(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: *item})
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queueSvc.Cancel(r.Context(), mux.Vars(r)["id"], requester(r))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleReprioritize(w http.ResponseWriter, r *http.Request) {
	var req api.ReprioritizeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	resp, err := s.queueSvc.Reprioritize(r.Context(), mux.Vars(r)["id"], req.Lane, requester(r))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode request body: %v", queue.ErrInvalidPayload, err)
	}
	return nil
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message, code string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Code: code})
}

// writeFailure maps a controller error onto its status code. Unexpected
// errors are logged with the request correlation id.
func (s *apiServer) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code := api.ErrorStatus(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.log()).Warn("api request failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "api_request_failed"),
			logging.String("path", r.URL.Path),
		)
	}
	s.writeError(w, status, err.Error(), code)
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
