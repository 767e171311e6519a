package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"immigration-qa-api/internal/domain/entity"
	apperrors "immigration-qa-api/pkg/errors"
	"immigration-qa-api/pkg/logger"
	"immigration-qa-api/pkg/metrics"
	"immigration-qa-api/pkg/retry"
	"immigration-qa-api/pkg/tracer"
)

// Options 编排器运行参数
type Options struct {
	Timeout            time.Duration // 单次请求整体截止时间
	DefaultK           int           // 未指定 k 时的默认检索数量
	MaxContextPassages int           // 注入提示词的段落数上限
	SaveGrace          time.Duration // 响应等待历史落盘的最长时间
}

// Orchestrator 问答编排器
// 串联会话解析、向量化、检索、维度扩展、重排、生成与历史落盘,
// 嵌入/检索/生成失败即终止,扩展/重排/落盘失败降级继续
type Orchestrator struct {
	sessions  SessionStore
	embedder  Embedder
	searcher  PassageSearcher
	expander  *FacetExpander
	reranker  Reranker
	generator AnswerGenerator
	policy    retry.Policy
	opts      Options

	persists sync.WaitGroup
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	sessions SessionStore,
	embedder Embedder,
	searcher PassageSearcher,
	expander *FacetExpander,
	reranker Reranker,
	generator AnswerGenerator,
	policy retry.Policy,
	opts Options,
) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.DefaultK <= 0 {
		opts.DefaultK = 3
	}
	if opts.MaxContextPassages <= 0 {
		opts.MaxContextPassages = 8
	}
	if opts.SaveGrace <= 0 {
		opts.SaveGrace = 100 * time.Millisecond
	}
	return &Orchestrator{
		sessions:  sessions,
		embedder:  embedder,
		searcher:  searcher,
		expander:  expander,
		reranker:  reranker,
		generator: generator,
		policy:    policy,
		opts:      opts,
	}
}

// Execute 执行一次完整的问答流水线
func (o *Orchestrator) Execute(ctx context.Context, qc QueryContext) (*Result, error) {
	query := strings.TrimSpace(qc.Query)
	if query == "" {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "query is required")
	}
	k := qc.ClampK(o.opts.DefaultK)

	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "pipeline.Execute", trace.WithAttributes(
		attribute.Int("pipeline.k", k),
		attribute.Bool("pipeline.use_facet", qc.UseFacet),
		attribute.Bool("pipeline.use_rerank", qc.UseRerank),
	))
	defer span.End()

	totalStart := time.Now()
	timings := make(map[string]float64, 8)

	// 1. 会话解析,读失败降级为空历史
	stageStart := time.Now()
	sessionID, history, historyLength, err := o.sessions.Resolve(ctx, qc.SessionID)
	if err != nil {
		logger.Warn(ctx, "session history unavailable, continuing without history",
			"session_id", qc.SessionID, "error", err.Error())
		sessionID, history, historyLength = qc.SessionID, nil, 0
	}
	o.record(timings, TimingHistoryRetrieval, stageStart)
	ctx = logger.WithContext(ctx, logger.SessionIDKey, sessionID)
	metrics.SessionHistoryTurns.Observe(float64(historyLength))

	// 2. 查询向量化,重试耗尽即失败
	stageStart = time.Now()
	vector, err := retry.DoValue(ctx, o.policy, "embed_query", func(ctx context.Context) ([]float32, error) {
		return o.embedder.EmbedQuery(ctx, query)
	})
	o.record(timings, TimingEmbedding, stageStart)
	if err != nil {
		return nil, o.failClosed(ctx, err, apperrors.CodeRetrievalUnavailable, "embedding failed")
	}

	// 3. 主检索
	stageStart = time.Now()
	passages, err := retry.DoValue(ctx, o.policy, "primary_search", func(ctx context.Context) ([]entity.Passage, error) {
		return o.searcher.Search(ctx, vector, k)
	})
	o.record(timings, TimingPrimaryRetrieval, stageStart)
	if err != nil {
		return nil, o.failClosed(ctx, err, apperrors.CodeRetrievalUnavailable, "vector search failed")
	}
	metrics.PipelineRetrievedPassages.WithLabelValues("primary").Observe(float64(len(passages)))

	// 4. 维度扩展,失败降级
	if qc.UseFacet && o.expander != nil {
		stageStart = time.Now()
		passages = o.expander.Expand(ctx, vector, passages)
		o.record(timings, TimingFacetExpansion, stageStart)
		metrics.PipelineRetrievedPassages.WithLabelValues("expanded").Observe(float64(len(passages)))
	}

	// 5. 重排,失败降级并保持原序
	if qc.UseRerank && o.reranker != nil && len(passages) > 0 {
		stageStart = time.Now()
		reranked, rerr := o.reranker.Rerank(ctx, query, passages)
		o.record(timings, TimingRerank, stageStart)
		if rerr != nil {
			metrics.PipelineRerankSkipped.WithLabelValues("error").Inc()
			logger.Warn(ctx, "rerank failed, keeping retrieval order", "error", rerr.Error())
		} else {
			passages = reranked
		}
	}

	// 6. 生成回答,重试耗尽即失败
	stageStart = time.Now()
	raw, err := retry.DoValue(ctx, o.policy, "generate_answer", func(ctx context.Context) (string, error) {
		return o.generator.Generate(ctx, history, passages, query)
	})
	o.record(timings, TimingLLM, stageStart)
	if err != nil {
		return nil, o.failClosed(ctx, err, apperrors.CodeGenerationUnavailable, "answer generation failed")
	}

	thinking, answer := SplitThinking(raw)

	// 7. 历史落盘异步执行,响应最多等待 SaveGrace
	saveDone := make(chan float64, 1)
	o.persists.Add(1)
	go func() {
		defer o.persists.Done()
		saveStart := time.Now()
		saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer saveCancel()
		if serr := o.sessions.Append(saveCtx, sessionID, query, answer); serr != nil {
			metrics.SessionSaveTotal.WithLabelValues("error").Inc()
			logger.Warn(saveCtx, "failed to persist session history", "error", serr.Error())
		} else {
			metrics.SessionSaveTotal.WithLabelValues("ok").Inc()
		}
		saveDone <- float64(time.Since(saveStart).Microseconds()) / 1000
	}()

	select {
	case ms := <-saveDone:
		timings[TimingSaveHistory] = ms
	case <-time.After(o.opts.SaveGrace):
		// 落盘仍在后台进行,耗时按宽限期计
		timings[TimingSaveHistory] = float64(o.opts.SaveGrace.Microseconds()) / 1000
	}

	timings[TimingTotal] = float64(time.Since(totalStart).Microseconds()) / 1000
	metrics.PipelineRequestsTotal.WithLabelValues("ok").Inc()

	return &Result{
		Answer:        answer,
		Thinking:      thinking,
		Passages:      passages,
		Timings:       timings,
		SessionID:     sessionID,
		HistoryLength: historyLength,
	}, nil
}

// Wait 等待所有后台历史落盘完成,供优雅关闭使用
func (o *Orchestrator) Wait() {
	o.persists.Wait()
}

// record 记录阶段耗时并上报指标
func (o *Orchestrator) record(timings map[string]float64, key string, start time.Time) {
	elapsed := time.Since(start)
	timings[key] = float64(elapsed.Microseconds()) / 1000
	metrics.PipelineStageDuration.WithLabelValues(strings.TrimSuffix(key, "_ms")).Observe(elapsed.Seconds())
}

// failClosed 将必经阶段的失败映射为应用错误,整体超时优先
func (o *Orchestrator) failClosed(ctx context.Context, err error, code, message string) error {
	metrics.PipelineRequestsTotal.WithLabelValues("error").Inc()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.CodeTimeout, "pipeline deadline exceeded", err)
	}
	return apperrors.Wrap(code, message, err)
}
