package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"immigration-qa-api/internal/domain/entity"
	apperrors "immigration-qa-api/pkg/errors"
	"immigration-qa-api/pkg/retry"
)

type mockSessions struct{ mock.Mock }

func (m *mockSessions) Resolve(ctx context.Context, sessionID string) (string, []entity.Turn, int, error) {
	args := m.Called(ctx, sessionID)
	turns, _ := args.Get(1).([]entity.Turn)
	return args.String(0), turns, args.Int(2), args.Error(3)
}

func (m *mockSessions) Append(ctx context.Context, sessionID, question, answer string) error {
	args := m.Called(ctx, sessionID, question, answer)
	return args.Error(0)
}

type mockEmbedder struct{ mock.Mock }

func (m *mockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	vec, _ := args.Get(0).([]float32)
	return vec, args.Error(1)
}

type mockSearcher struct{ mock.Mock }

func (m *mockSearcher) Search(ctx context.Context, vector []float32, topK int) ([]entity.Passage, error) {
	args := m.Called(ctx, vector, topK)
	passages, _ := args.Get(0).([]entity.Passage)
	return passages, args.Error(1)
}

func (m *mockSearcher) SearchFiltered(ctx context.Context, vector []float32, facet, value string, excludeIDs []int64, topK int) ([]entity.Passage, error) {
	args := m.Called(ctx, vector, facet, value, excludeIDs, topK)
	passages, _ := args.Get(0).([]entity.Passage)
	return passages, args.Error(1)
}

type mockReranker struct{ mock.Mock }

func (m *mockReranker) Rerank(ctx context.Context, query string, passages []entity.Passage) ([]entity.Passage, error) {
	args := m.Called(ctx, query, passages)
	reranked, _ := args.Get(0).([]entity.Passage)
	return reranked, args.Error(1)
}

type mockGenerator struct{ mock.Mock }

func (m *mockGenerator) Generate(ctx context.Context, history []entity.Turn, passages []entity.Passage, question string) (string, error) {
	args := m.Called(ctx, history, passages, question)
	return args.String(0), args.Error(1)
}

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:         3,
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		Multiplier:          2,
		RandomizationFactor: 0,
	}
}

func testOpts() Options {
	return Options{
		Timeout:            5 * time.Second,
		DefaultK:           3,
		MaxContextPassages: 8,
		SaveGrace:          50 * time.Millisecond,
	}
}

type fixture struct {
	sessions  *mockSessions
	embedder  *mockEmbedder
	searcher  *mockSearcher
	reranker  *mockReranker
	generator *mockGenerator
	orch      *Orchestrator
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		sessions:  &mockSessions{},
		embedder:  &mockEmbedder{},
		searcher:  &mockSearcher{},
		reranker:  &mockReranker{},
		generator: &mockGenerator{},
	}
	expander := NewFacetExpander(f.searcher, FacetConfig{
		Facets:         []string{"source"},
		MaxFacetValues: 1,
		ExtraLimit:     5,
		Concurrency:    2,
	})
	f.orch = NewOrchestrator(f.sessions, f.embedder, f.searcher, expander, f.reranker, f.generator, testPolicy(), opts)
	return f
}

func TestExecute_HappyPath(t *testing.T) {
	f := newFixture(testOpts())
	vector := []float32{0.1, 0.2}
	primary := []entity.Passage{passage(1, "ircc", 0.9)}
	history := []entity.Turn{
		{Role: entity.RoleUser, Content: "earlier question"},
		{Role: entity.RoleAssistant, Content: "earlier answer"},
	}

	f.sessions.On("Resolve", mock.Anything, "sess-1").Return("sess-1", history, 2, nil)
	f.embedder.On("EmbedQuery", mock.Anything, "Do I need a visa?").Return(vector, nil)
	f.searcher.On("Search", mock.Anything, vector, 3).Return(primary, nil)
	f.generator.On("Generate", mock.Anything, history, primary, "Do I need a visa?").
		Return("<think>checking rules</think>Yes, most travellers do.", nil)
	f.sessions.On("Append", mock.Anything, "sess-1", "Do I need a visa?", "Yes, most travellers do.").Return(nil)

	result, err := f.orch.Execute(context.Background(), QueryContext{Query: "Do I need a visa?", SessionID: "sess-1"})
	require.NoError(t, err)
	f.orch.Wait()

	assert.Equal(t, "Yes, most travellers do.", result.Answer)
	assert.Equal(t, "checking rules", result.Thinking)
	assert.Equal(t, "sess-1", result.SessionID)
	assert.Equal(t, 2, result.HistoryLength)
	assert.Equal(t, primary, result.Passages)
	for _, key := range []string{TimingHistoryRetrieval, TimingEmbedding, TimingPrimaryRetrieval, TimingLLM, TimingSaveHistory, TimingTotal} {
		assert.Contains(t, result.Timings, key)
	}
	f.sessions.AssertCalled(t, "Append", mock.Anything, "sess-1", "Do I need a visa?", "Yes, most travellers do.")
}

func TestExecute_EmptyQueryRejected(t *testing.T) {
	f := newFixture(testOpts())

	_, err := f.orch.Execute(context.Background(), QueryContext{Query: "   "})

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParam))
}

func TestExecute_ClampsK(t *testing.T) {
	tests := []struct {
		name  string
		k     int
		wantK int
	}{
		{"zero uses default", 0, 3},
		{"above max clamps to 10", 50, 10},
		{"below min clamps to 1", -2, 1},
		{"in range passes through", 7, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(testOpts())
			f.sessions.On("Resolve", mock.Anything, "").Return("s", []entity.Turn(nil), 0, nil)
			f.embedder.On("EmbedQuery", mock.Anything, "q").Return([]float32{0.1}, nil)
			f.searcher.On("Search", mock.Anything, mock.Anything, tt.wantK).Return([]entity.Passage{passage(1, "ircc", 0.9)}, nil)
			f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything, "q").Return("ok", nil)
			f.sessions.On("Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

			_, err := f.orch.Execute(context.Background(), QueryContext{Query: "q", K: tt.k})
			require.NoError(t, err)
			f.orch.Wait()

			f.searcher.AssertCalled(t, "Search", mock.Anything, mock.Anything, tt.wantK)
		})
	}
}

func TestExecute_SessionReadFailureIsFailOpen(t *testing.T) {
	f := newFixture(testOpts())
	f.sessions.On("Resolve", mock.Anything, "sess-x").Return("", []entity.Turn(nil), 0, errors.New("redis down"))
	f.embedder.On("EmbedQuery", mock.Anything, "q").Return([]float32{0.1}, nil)
	f.searcher.On("Search", mock.Anything, mock.Anything, 3).Return([]entity.Passage{passage(1, "ircc", 0.9)}, nil)
	f.generator.On("Generate", mock.Anything, []entity.Turn(nil), mock.Anything, "q").Return("answer", nil)
	f.sessions.On("Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := f.orch.Execute(context.Background(), QueryContext{Query: "q", SessionID: "sess-x"})
	require.NoError(t, err)
	f.orch.Wait()

	assert.Equal(t, 0, result.HistoryLength)
	assert.Equal(t, "answer", result.Answer)
}

func TestExecute_EmbedExhaustionFailsClosed(t *testing.T) {
	f := newFixture(testOpts())
	f.sessions.On("Resolve", mock.Anything, "").Return("s", []entity.Turn(nil), 0, nil)
	f.embedder.On("EmbedQuery", mock.Anything, "q").Return([]float32(nil), errors.New("provider 500"))

	_, err := f.orch.Execute(context.Background(), QueryContext{Query: "q"})

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeRetrievalUnavailable))
	f.embedder.AssertNumberOfCalls(t, "EmbedQuery", 3)
	f.searcher.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_GenerateExhaustionFailsClosed(t *testing.T) {
	f := newFixture(testOpts())
	f.sessions.On("Resolve", mock.Anything, "").Return("s", []entity.Turn(nil), 0, nil)
	f.embedder.On("EmbedQuery", mock.Anything, "q").Return([]float32{0.1}, nil)
	f.searcher.On("Search", mock.Anything, mock.Anything, 3).Return([]entity.Passage{passage(1, "ircc", 0.9)}, nil)
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything, "q").Return("", errors.New("llm overloaded"))

	_, err := f.orch.Execute(context.Background(), QueryContext{Query: "q"})

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeGenerationUnavailable))
	f.sessions.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_RerankFailureKeepsOrder(t *testing.T) {
	f := newFixture(testOpts())
	primary := []entity.Passage{
		passage(1, "ircc", 0.9),
		passage(2, "cbsa", 0.8),
	}
	f.sessions.On("Resolve", mock.Anything, "").Return("s", []entity.Turn(nil), 0, nil)
	f.embedder.On("EmbedQuery", mock.Anything, "q").Return([]float32{0.1}, nil)
	f.searcher.On("Search", mock.Anything, mock.Anything, 3).Return(primary, nil)
	f.reranker.On("Rerank", mock.Anything, "q", primary).Return([]entity.Passage(nil), errors.New("rerank timeout"))
	f.generator.On("Generate", mock.Anything, mock.Anything, primary, "q").Return("answer", nil)
	f.sessions.On("Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := f.orch.Execute(context.Background(), QueryContext{Query: "q", UseRerank: true})
	require.NoError(t, err)
	f.orch.Wait()

	assert.Equal(t, primary, result.Passages)
}

func TestExecute_RerankSuccessReorders(t *testing.T) {
	f := newFixture(testOpts())
	primary := []entity.Passage{
		passage(1, "ircc", 0.9),
		passage(2, "cbsa", 0.8),
	}
	reranked := []entity.Passage{primary[1], primary[0]}
	f.sessions.On("Resolve", mock.Anything, "").Return("s", []entity.Turn(nil), 0, nil)
	f.embedder.On("EmbedQuery", mock.Anything, "q").Return([]float32{0.1}, nil)
	f.searcher.On("Search", mock.Anything, mock.Anything, 3).Return(primary, nil)
	f.reranker.On("Rerank", mock.Anything, "q", primary).Return(reranked, nil)
	f.generator.On("Generate", mock.Anything, mock.Anything, reranked, "q").Return("answer", nil)
	f.sessions.On("Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := f.orch.Execute(context.Background(), QueryContext{Query: "q", UseRerank: true})
	require.NoError(t, err)
	f.orch.Wait()

	assert.Equal(t, reranked, result.Passages)
	assert.Contains(t, result.Timings, TimingRerank)
}

func TestExecute_FacetAndRerankRunOnceWithK7(t *testing.T) {
	f := newFixture(testOpts())
	primary := []entity.Passage{
		passage(1, "ircc", 0.9),
		passage(2, "ircc", 0.8),
	}
	extra := passage(9, "ircc", 0.6)
	expanded := append(append([]entity.Passage{}, primary...), extra)

	f.sessions.On("Resolve", mock.Anything, "").Return("s", []entity.Turn(nil), 0, nil)
	f.embedder.On("EmbedQuery", mock.Anything, "q").Return([]float32{0.1}, nil)
	f.searcher.On("Search", mock.Anything, mock.Anything, 7).Return(primary, nil)
	f.searcher.On("SearchFiltered", mock.Anything, mock.Anything, "source", "ircc", []int64{1, 2}, 5).
		Return([]entity.Passage{extra}, nil)
	f.reranker.On("Rerank", mock.Anything, "q", expanded).Return(expanded, nil)
	f.generator.On("Generate", mock.Anything, mock.Anything, expanded, "q").Return("answer", nil)
	f.sessions.On("Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := f.orch.Execute(context.Background(), QueryContext{Query: "q", K: 7, UseFacet: true, UseRerank: true})
	require.NoError(t, err)
	f.orch.Wait()

	assert.Len(t, result.Passages, 3)
	f.searcher.AssertNumberOfCalls(t, "Search", 1)
	f.searcher.AssertNumberOfCalls(t, "SearchFiltered", 1)
	f.reranker.AssertNumberOfCalls(t, "Rerank", 1)
	assert.Contains(t, result.Timings, TimingFacetExpansion)
	assert.Contains(t, result.Timings, TimingRerank)
}

func TestExecute_DeadlineMapsToTimeout(t *testing.T) {
	opts := testOpts()
	opts.Timeout = 30 * time.Millisecond
	f := newFixture(opts)
	f.sessions.On("Resolve", mock.Anything, "").Return("s", []entity.Turn(nil), 0, nil)
	f.embedder.On("EmbedQuery", mock.Anything, "q").Return([]float32(nil), context.DeadlineExceeded).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		})

	_, err := f.orch.Execute(context.Background(), QueryContext{Query: "q"})

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeTimeout))
}

func TestExecute_SlowPersistDoesNotBlockResponse(t *testing.T) {
	opts := testOpts()
	opts.SaveGrace = 10 * time.Millisecond
	f := newFixture(opts)
	f.sessions.On("Resolve", mock.Anything, "").Return("s", []entity.Turn(nil), 0, nil)
	f.embedder.On("EmbedQuery", mock.Anything, "q").Return([]float32{0.1}, nil)
	f.searcher.On("Search", mock.Anything, mock.Anything, 3).Return([]entity.Passage{passage(1, "ircc", 0.9)}, nil)
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything, "q").Return("answer", nil)
	f.sessions.On("Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil).
		Run(func(args mock.Arguments) {
			time.Sleep(100 * time.Millisecond)
		})

	start := time.Now()
	result, err := f.orch.Execute(context.Background(), QueryContext{Query: "q"})
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 90*time.Millisecond)
	assert.Contains(t, result.Timings, TimingSaveHistory)

	f.orch.Wait()
	f.sessions.AssertCalled(t, "Append", mock.Anything, "s", "q", "answer")
}
