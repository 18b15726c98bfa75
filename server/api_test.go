package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukut03/agents/agents"
	"github.com/mukut03/agents/framework"
	"github.com/mukut03/agents/logging"
	"github.com/mukut03/agents/metrics"
	"github.com/mukut03/agents/persistence"
)

// echoModel answers every prompt with the last user message.
type echoModel struct {
	down bool
}

func (m echoModel) Chat(ctx context.Context, messages []framework.ChatMessage, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	last := ""
	for _, msg := range messages {
		if msg.Role == "user" {
			last = msg.Content
		}
	}
	body, _ := json.Marshal(map[string]any{"tool": "answer", "tool_input": map[string]any{"text": "echo: " + last}})
	return &framework.LLMResponse{Text: "<action>" + string(body) + "</action>"}, nil
}

func (m echoModel) StreamChat(ctx context.Context, messages []framework.ChatMessage, options *framework.LLMOptions) (<-chan framework.StreamChunk, error) {
	return nil, framework.NewLLMError("streaming disabled", nil, nil)
}

func (m echoModel) IsAvailable(ctx context.Context) bool { return !m.down }

// stallModel never answers before the request context ends.
type stallModel struct{ echoModel }

func (stallModel) Chat(ctx context.Context, messages []framework.ChatMessage, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	<-ctx.Done()
	return nil, framework.NewLLMError("chat aborted", ctx.Err(), nil)
}

func newTestServer(t *testing.T, model framework.LanguageModel, store persistence.SnapshotStore) *APIServer {
	t.Helper()
	return &APIServer{
		NewOrchestrator: func(mem *framework.Memory) *agents.Orchestrator {
			return agents.NewOrchestrator(model, framework.NewToolRegistry(), mem)
		},
		Store:  store,
		Logger: logging.Discard(),
	}
}

func postQuery(t *testing.T, h http.Handler, req QueryRequest) (*httptest.ResponseRecorder, QueryResponse) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewReader(body)))
	var resp QueryResponse
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func getMemory(t *testing.T, h http.Handler, id string) (*httptest.ResponseRecorder, framework.Snapshot) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/memory", nil))
	var snap framework.Snapshot
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	}
	return rec, snap
}

func TestAPIServerQueryCreatesSession(t *testing.T) {
	h := newTestServer(t, echoModel{}, nil).Handler()

	rec, resp := postQuery(t, h, QueryRequest{Query: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "echo: hello", resp.Answer)
	_, err := uuid.Parse(resp.SessionID)
	assert.NoError(t, err)

	rec, resp = postQuery(t, h, QueryRequest{SessionID: resp.SessionID, Query: "again"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "echo: again", resp.Answer)

	rec, snap := getMemory(t, h, resp.SessionID)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, snap.Messages, 4)
	assert.Equal(t, "again", snap.Messages[2].Content)
}

func TestAPIServerRejectsBadRequests(t *testing.T) {
	h := newTestServer(t, echoModel{}, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = postQuery(t, h, QueryRequest{Query: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/query", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPIServerModelUnavailable(t *testing.T) {
	h := newTestServer(t, echoModel{down: true}, nil).Handler()
	rec, resp := postQuery(t, h, QueryRequest{SessionID: "s1", Query: "hello"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, string(framework.ErrCodeLLM), resp.Code)
	assert.Empty(t, resp.Answer)

	_, snap := getMemory(t, h, "s1")
	assert.Empty(t, snap.Messages)
}

func TestAPIServerPersistsSessions(t *testing.T) {
	store, err := persistence.NewFileSnapshotStore(t.TempDir())
	require.NoError(t, err)

	first := newTestServer(t, echoModel{}, store).Handler()
	rec, _ := postQuery(t, first, QueryRequest{SessionID: "trip", Query: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	// A fresh server reads the stored snapshot.
	second := newTestServer(t, echoModel{}, store).Handler()
	rec, snap := getMemory(t, second, "trip")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, snap.Messages, 2)

	rec, _ = postQuery(t, second, QueryRequest{SessionID: "trip", Query: "more"})
	require.Equal(t, http.StatusOK, rec.Code)
	_, snap = getMemory(t, second, "trip")
	assert.Len(t, snap.Messages, 4)

	rec = httptest.NewRecorder()
	second.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/trip", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = getMemory(t, second, "trip")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	stored, err := store.Load(context.Background(), "trip")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestAPIServerPersistsTimedOutQuery(t *testing.T) {
	store, err := persistence.NewFileSnapshotStore(t.TempDir())
	require.NoError(t, err)
	api := newTestServer(t, stallModel{}, store)
	api.QueryTimeout = 20 * time.Millisecond

	rec, resp := postQuery(t, api.Handler(), QueryRequest{SessionID: "slow", Query: "how far"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotEmpty(t, resp.Error)

	stored, err := store.Load(context.Background(), "slow")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Len(t, stored.Messages, 1)
	assert.Equal(t, "how far", stored.Messages[0].Content)
}

func TestAPIServerInvalidSessionIDWithStore(t *testing.T) {
	store, err := persistence.NewFileSnapshotStore(t.TempDir())
	require.NoError(t, err)
	h := newTestServer(t, echoModel{}, store).Handler()
	rec, _ := postQuery(t, h, QueryRequest{SessionID: ".hidden", Query: "hello"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIServerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.MustNew(reg)
	api := newTestServer(t, echoModel{}, nil)
	api.Gatherer = reg
	api.NewOrchestrator = func(mem *framework.Memory) *agents.Orchestrator {
		o := agents.NewOrchestrator(echoModel{}, framework.NewToolRegistry(), mem)
		o.Metrics = m
		return o
	}
	h := api.Handler()
	rec, _ := postQuery(t, h, QueryRequest{Query: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mapagent_agent_queries_total{outcome="answered"} 1`)
}
