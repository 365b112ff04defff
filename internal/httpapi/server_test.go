package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflowio/docflow/pkg/api"
)

type fakeOrchestrator struct {
	instances  map[string]*api.Instance
	terminated map[string]string
	purged     []string
	startErr   error
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		instances:  make(map[string]*api.Instance),
		terminated: make(map[string]string),
	}
}

func (f *fakeOrchestrator) StartInstance(ctx context.Context, workflow string, input any) (*api.Instance, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	inst := &api.Instance{ID: "inst-42", Workflow: workflow, Status: api.StatusRunning}
	f.instances[inst.ID] = inst
	return inst, nil
}

func (f *fakeOrchestrator) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	inst, ok := f.instances[id]
	if !ok {
		return nil, api.ErrInstanceNotFound
	}
	return inst, nil
}

func (f *fakeOrchestrator) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.Instance, error) {
	var out []*api.Instance
	for _, inst := range f.instances {
		out = append(out, inst)
	}
	return out, nil
}

func (f *fakeOrchestrator) Terminate(ctx context.Context, id, reason string) error {
	inst, ok := f.instances[id]
	if !ok {
		return api.ErrInstanceNotFound
	}
	if inst.Status.Terminal() {
		return api.ErrInstanceCompleted
	}
	inst.Status = api.StatusTerminated
	f.terminated[id] = reason
	return nil
}

func (f *fakeOrchestrator) Purge(ctx context.Context, id string) error {
	if _, ok := f.instances[id]; !ok {
		return api.ErrInstanceNotFound
	}
	delete(f.instances, id)
	f.purged = append(f.purged, id)
	return nil
}

type fakePoller struct {
	polls int
	err   error
}

func (f *fakePoller) PollOnce(ctx context.Context) error {
	f.polls++
	return f.err
}

func newTestServer(orch *fakeOrchestrator, poller *fakePoller) http.Handler {
	cfg := api.DefaultConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	return NewServer(orch, poller, cfg, nil).Handler()
}

func TestStartInstance(t *testing.T) {
	orch := newFakeOrchestrator()
	h := newTestServer(orch, &fakePoller{})

	body := `{"workflow":"Publish","input":{"itemId":"doc-1"}}`
	req := httptest.NewRequest(http.MethodPost, "/instances", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		ID                string `json:"instanceId"`
		StatusQueryGetURI string `json:"statusQueryGetUri"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "inst-42", resp.ID)
	assert.Equal(t, "/instances/inst-42", resp.StatusQueryGetURI)
}

func TestStartInstance_MissingWorkflow(t *testing.T) {
	h := newTestServer(newFakeOrchestrator(), &fakePoller{})

	req := httptest.NewRequest(http.MethodPost, "/instances", strings.NewReader(`{"input":{}}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartInstance_UnknownWorkflow(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.startErr = api.ErrWorkflowNotFound
	h := newTestServer(orch, &fakePoller{})

	req := httptest.NewRequest(http.MethodPost, "/instances", strings.NewReader(`{"workflow":"Nope"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetInstance(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.instances["i-1"] = &api.Instance{ID: "i-1", Workflow: "Publish", Status: api.StatusCompleted}
	h := newTestServer(orch, &fakePoller{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/instances/i-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var inst api.Instance
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&inst))
	assert.Equal(t, api.StatusCompleted, inst.Status)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/instances/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTerminateAndPurge(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.instances["i-1"] = &api.Instance{ID: "i-1", Status: api.StatusRunning}
	h := newTestServer(orch, &fakePoller{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/instances/i-1/terminate?reason=oops", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "oops", orch.terminated["i-1"])

	// Terminating again hits a terminal instance.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/instances/i-1/terminate", nil))
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/instances/i-1/purge", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"i-1"}, orch.purged)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/instances/i-1/purge", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotifications_ValidationHandshake(t *testing.T) {
	poller := &fakePoller{}
	h := newTestServer(newFakeOrchestrator(), poller)

	req := httptest.NewRequest(http.MethodPost, "/notifications?validationtoken=XYZ", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)

	// The token must come back verbatim and nothing else may run.
	assert.Equal(t, "XYZ", string(body))
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Zero(t, poller.polls)
}

func TestNotifications_EnvelopeTriggersPoll(t *testing.T) {
	poller := &fakePoller{}
	h := newTestServer(newFakeOrchestrator(), poller)

	body := `{"value":[{"subscriptionId":"s-1","resource":"lists/tasks"},{"subscriptionId":"s-2","resource":"lists/tasks"}]}`
	req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, poller.polls)
}

func TestNotifications_BadEnvelope(t *testing.T) {
	h := newTestServer(newFakeOrchestrator(), &fakePoller{})

	req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORS(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.instances["i-1"] = &api.Instance{ID: "i-1", Status: api.StatusRunning}
	h := newTestServer(orch, &fakePoller{})

	t.Run("no origin passes through untouched", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/instances/i-1", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("allowed origin gets reflection headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/instances/i-1", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
	})

	t.Run("unlisted origin is rejected before the handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/instances/i-1", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("preflight from allowed origin succeeds", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/instances", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	})
}
