// Package httpapi exposes the workflow runtime over HTTP: instance
// management, the status query surface, and the change notification
// webhook.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/docflowio/docflow/pkg/api"
)

// Orchestrator is the runtime surface the HTTP layer drives.
type Orchestrator interface {
	StartInstance(ctx context.Context, workflow string, input any) (*api.Instance, error)
	GetInstance(ctx context.Context, id string) (*api.Instance, error)
	ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.Instance, error)
	Terminate(ctx context.Context, id, reason string) error
	Purge(ctx context.Context, id string) error
}

// Poller runs one translator cycle against the change feed.
type Poller interface {
	PollOnce(ctx context.Context) error
}

// Server handles the HTTP API. Construct with NewServer and mount via
// Handler.
type Server struct {
	orch   Orchestrator
	poller Poller
	logger *slog.Logger
	cfg    api.Config
}

// NewServer creates a Server.
func NewServer(orch Orchestrator, poller Poller, cfg api.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{orch: orch, poller: poller, logger: logger, cfg: cfg}
}

// Handler returns the routed handler, CORS middleware included.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /instances", s.handleStart)
	mux.HandleFunc("GET /instances", s.handleList)
	mux.HandleFunc("GET /instances/{id}", s.handleGet)
	mux.HandleFunc("PUT /instances/{id}/terminate", s.handleTerminate)
	mux.HandleFunc("PUT /instances/{id}/purge", s.handlePurge)
	mux.HandleFunc("POST /notifications", s.handleNotifications)
	return s.cors(mux)
}

type startRequest struct {
	Workflow string          `json:"workflow"`
	Input    json.RawMessage `json:"input"`
}

type startResponse struct {
	ID                string `json:"instanceId"`
	StatusQueryGetURI string `json:"statusQueryGetUri"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode start request: %w", err))
		return
	}
	if req.Workflow == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("workflow is required"))
		return
	}

	inst, err := s.orch.StartInstance(r.Context(), req.Workflow, req.Input)
	if err != nil {
		if errors.Is(err, api.ErrWorkflowNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, startResponse{
		ID:                inst.ID,
		StatusQueryGetURI: "/instances/" + inst.ID,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	instances, err := s.orch.ListInstances(r.Context(), api.InstanceListOptions{
		Workflow: q.Get("workflow"),
		Status:   api.Status(q.Get("status")),
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, instances)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	inst, err := s.orch.GetInstance(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, api.ErrInstanceNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	err := s.orch.Terminate(r.Context(), r.PathValue("id"), reason)
	switch {
	case errors.Is(err, api.ErrInstanceNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, api.ErrInstanceCompleted):
		s.writeError(w, http.StatusGone, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
	}
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	err := s.orch.Purge(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, api.ErrInstanceNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
	}
}

type notificationEnvelope struct {
	Value []struct {
		SubscriptionID string `json:"subscriptionId"`
		Resource       string `json:"resource"`
	} `json:"value"`
}

// handleNotifications is the webhook ingress. The subscription
// handshake path must stay free of store access: when validationtoken
// is present the token is echoed verbatim and nothing else runs.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if token := r.URL.Query().Get("validationtoken"); token != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, token)
		return
	}

	var env notificationEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode notification: %w", err))
		return
	}

	for _, n := range env.Value {
		if err := s.poller.PollOnce(r.Context()); err != nil {
			s.logger.Warn("notification_poll_failed",
				slog.String("subscription_id", n.SubscriptionID),
				slog.Any("error", err),
			)
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response_encode_failed", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
