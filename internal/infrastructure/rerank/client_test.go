package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"immigration-qa-api/internal/domain/entity"
)

func testPassages() []entity.Passage {
	return []entity.Passage{
		{ID: 1, TextContent: "first", Similarity: 0.9},
		{ID: 2, TextContent: "second", Similarity: 0.8},
		{ID: 3, TextContent: "third", Similarity: 0.7},
	}
}

func TestRerank_ReordersByScore(t *testing.T) {
	var gotReq rerankRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(rerankResponse{Results: []rerankResult{
			{Index: 0, Score: 0.1},
			{Index: 1, Score: 0.9},
			{Index: 2, Score: 0.5},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-reranker", time.Second)
	reranked, err := c.Rerank(context.Background(), "question", testPassages())
	require.NoError(t, err)

	assert.Equal(t, "question", gotReq.Query)
	assert.Equal(t, []string{"first", "second", "third"}, gotReq.Candidates)
	assert.Equal(t, 3, gotReq.TopK)

	require.Len(t, reranked, 3)
	assert.Equal(t, int64(2), reranked[0].ID)
	assert.Equal(t, int64(3), reranked[1].ID)
	assert.Equal(t, int64(1), reranked[2].ID)
	assert.Equal(t, 0.9, reranked[0].RerankScore)
}

func TestRerank_TiesKeepPriorOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rerankResponse{Results: []rerankResult{
			{Index: 0, Score: 0.5},
			{Index: 1, Score: 0.5},
			{Index: 2, Score: 0.5},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-reranker", time.Second)
	reranked, err := c.Rerank(context.Background(), "q", testPassages())
	require.NoError(t, err)

	assert.Equal(t, int64(1), reranked[0].ID)
	assert.Equal(t, int64(2), reranked[1].ID)
	assert.Equal(t, int64(3), reranked[2].ID)
}

func TestRerank_ServerErrorReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-reranker", time.Second)
	_, err := c.Rerank(context.Background(), "q", testPassages())

	require.Error(t, err)
}

func TestRerank_TimeoutReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-reranker", 20*time.Millisecond)
	_, err := c.Rerank(context.Background(), "q", testPassages())

	require.Error(t, err)
}

func TestRerank_InvalidIndexReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rerankResponse{Results: []rerankResult{
			{Index: 7, Score: 0.5},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-reranker", time.Second)
	_, err := c.Rerank(context.Background(), "q", testPassages())

	require.Error(t, err)
}

func TestRerank_EmptyInputSkipsCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-reranker", time.Second)
	reranked, err := c.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)

	assert.Empty(t, reranked)
	assert.False(t, called)
}
