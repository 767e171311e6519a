package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"immigration-qa-api/internal/application/pipeline"
	"immigration-qa-api/internal/domain/entity"
	"immigration-qa-api/internal/interfaces/http/dto"
	apperrors "immigration-qa-api/pkg/errors"
	"immigration-qa-api/pkg/retry"
)

type stubSessions struct{}

func (stubSessions) Resolve(_ context.Context, sessionID string) (string, []entity.Turn, int, error) {
	if sessionID == "" {
		sessionID = "session-new"
	}
	return sessionID, nil, 0, nil
}

func (stubSessions) Append(context.Context, string, string, string) error { return nil }

type stubEmbedder struct{ err error }

func (s stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{0.1, 0.2}, nil
}

type stubSearcher struct{ passages []entity.Passage }

func (s stubSearcher) Search(context.Context, []float32, int) ([]entity.Passage, error) {
	return s.passages, nil
}

func (s stubSearcher) SearchFiltered(context.Context, []float32, string, string, []int64, int) ([]entity.Passage, error) {
	return nil, nil
}

type stubGenerator struct{ output string }

func (s stubGenerator) Generate(context.Context, []entity.Turn, []entity.Passage, string) (string, error) {
	return s.output, nil
}

func newTestRouter(t *testing.T, embedErr error) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	policy := retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	orch := pipeline.NewOrchestrator(
		stubSessions{},
		stubEmbedder{err: embedErr},
		stubSearcher{passages: []entity.Passage{
			{ID: 7, Source: "ircc", Title: "Express Entry", Section: "Eligibility", Similarity: 0.91},
		}},
		nil,
		nil,
		stubGenerator{output: "<think>reasoning here</think>You may be eligible."},
		policy,
		pipeline.Options{Timeout: time.Second, SaveGrace: time.Millisecond},
	)

	engine := gin.New()
	engine.POST("/v1/chat", NewChatHandler(orch).Chat)
	return engine
}

func postChat(t *testing.T, engine *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestChatHandlerSuccess(t *testing.T) {
	engine := newTestRouter(t, nil)

	w := postChat(t, engine, dto.ChatRequest{Query: "Am I eligible for Express Entry?", K: 3})
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "You may be eligible.", resp.Answer)
	assert.Equal(t, "reasoning here", resp.Thinking)
	assert.Equal(t, "session-new", resp.SessionID)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, int64(7), resp.Sources[0].ID)
	assert.Equal(t, "Express Entry", resp.Sources[0].Title)
	assert.Contains(t, resp.Timings, "total_ms")
}

func TestChatHandlerKeepsClientSessionID(t *testing.T) {
	engine := newTestRouter(t, nil)

	w := postChat(t, engine, dto.ChatRequest{Query: "What about work permits?", SessionID: "abc-123"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "abc-123", resp.SessionID)
}

func TestChatHandlerRejectsBlankQuery(t *testing.T) {
	engine := newTestRouter(t, nil)

	w := postChat(t, engine, map[string]string{"query": "   "})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.CodeInvalidParam, resp.Code)
}

func TestChatHandlerRejectsMissingQuery(t *testing.T) {
	engine := newTestRouter(t, nil)

	w := postChat(t, engine, map[string]string{"session_id": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatHandlerMapsUpstreamFailure(t *testing.T) {
	engine := newTestRouter(t, assert.AnError)

	w := postChat(t, engine, dto.ChatRequest{Query: "hello"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.CodeRetrievalUnavailable, resp.Code)
}
