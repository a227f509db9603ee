// Package retrieval implements semantic matching of user queries against the
// FAQ and SOP corpora with confidence-based routing.
//
// Matching is per-corpus arg-max cosine similarity over each entry's
// canonical text. The FAQ corpus is checked first and wins ties; a match
// requires the similarity to strictly exceed the configured threshold.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/opslinelabs/supportd/internal/knowledge"
)

const instrumentationName = "github.com/opslinelabs/supportd/internal/retrieval"

// ErrRetrievalUnavailable is returned when the embedding backend or the
// corpus index cannot be reached. Callers must surface this as a transient
// failure, never as "no match found".
var ErrRetrievalUnavailable = errors.New("retrieval backend unavailable")

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// MatchResult is the outcome of matching one query against both corpora.
type MatchResult struct {
	// Source identifies the corpus that produced the match, or SourceNone.
	Source knowledge.Source `json:"source"`

	// Faq is set when Source is SourceFaq.
	Faq *knowledge.FaqItem `json:"faq,omitempty"`

	// Sop is set when Source is SourceSop.
	Sop *knowledge.SopItem `json:"sop,omitempty"`

	// Confidence is the winning similarity score in [0,1]. For SourceNone
	// it carries the best observed score for observability.
	Confidence float64 `json:"confidence"`
}

// Config configures the retrieval engine.
type Config struct {
	// Threshold is the similarity a match must strictly exceed (default 0.65).
	Threshold float64

	// Timeout bounds each retrieval call's backend work (default 10s).
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Threshold: 0.65,
		Timeout:   10 * time.Second,
	}
}

// Engine matches queries against the knowledge corpora.
//
// The engine keeps an immutable corpus index that is atomically swapped by
// Refresh. A call in flight keeps the snapshot it loaded at call start, so a
// concurrent corpus refresh can never corrupt it.
type Engine struct {
	store    knowledge.Store
	embedder Embedder
	config   Config
	logger   *zap.Logger
	tracer   trace.Tracer

	snap atomic.Pointer[corpusIndex]

	// refreshMu serializes index rebuilds; it is never held across a
	// Retrieve call.
	refreshMu sync.Mutex
}

// NewEngine creates a retrieval engine. The index is built lazily on the
// first call unless Refresh is invoked first.
func NewEngine(cfg Config, store knowledge.Store, embedder Embedder, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("knowledge store is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	return &Engine{
		store:    store,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}, nil
}

// Refresh re-reads both corpora and rebuilds the index. Concurrent Retrieve
// calls keep using the previous snapshot until the swap completes.
func (e *Engine) Refresh(ctx context.Context) error {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	ctx, span := e.tracer.Start(ctx, "retrieval.refresh")
	defer span.End()

	idx, err := buildIndex(ctx, e.store, e.embedder)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	e.snap.Store(idx)
	e.logger.Info("knowledge index refreshed",
		zap.Int("faq_entries", idx.faqCount),
		zap.Int("sop_entries", idx.sopCount),
	)
	return nil
}

// Retrieve matches the query against both corpora.
//
// The FAQ corpus is consulted first; a qualifying FAQ match always wins,
// even when an SOP entry scores equally or higher. When neither corpus
// qualifies, the result carries SourceNone and the best observed score.
func (e *Engine) Retrieve(ctx context.Context, query string) (*MatchResult, error) {
	ctx, span := e.tracer.Start(ctx, "retrieval.retrieve")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return &MatchResult{Source: knowledge.SourceNone}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	idx, err := e.snapshot(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	best := 0.0

	faqID, faqScore, err := idx.queryFaq(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: faq corpus: %v", ErrRetrievalUnavailable, err)
	}
	if faqScore > best {
		best = faqScore
	}
	if e.matches(faqScore) {
		item := idx.faqByID[faqID]
		span.SetAttributes(
			attribute.String("source", string(knowledge.SourceFaq)),
			attribute.String("match_id", item.ID),
			attribute.Float64("confidence", faqScore),
		)
		return &MatchResult{Source: knowledge.SourceFaq, Faq: &item, Confidence: clampScore(faqScore)}, nil
	}

	sopID, sopScore, err := idx.querySop(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: sop corpus: %v", ErrRetrievalUnavailable, err)
	}
	if sopScore > best {
		best = sopScore
	}
	if e.matches(sopScore) {
		item := idx.sopByID[sopID]
		span.SetAttributes(
			attribute.String("source", string(knowledge.SourceSop)),
			attribute.String("match_id", item.ID),
			attribute.Float64("confidence", sopScore),
		)
		return &MatchResult{Source: knowledge.SourceSop, Sop: &item, Confidence: clampScore(sopScore)}, nil
	}

	span.SetAttributes(
		attribute.String("source", string(knowledge.SourceNone)),
		attribute.Float64("best_score", best),
	)
	e.logger.Debug("no corpus entry above threshold",
		zap.Float64("best_score", best),
		zap.Float64("threshold", e.config.Threshold),
	)
	return &MatchResult{Source: knowledge.SourceNone, Confidence: clampScore(best)}, nil
}

// matches applies the strict-greater threshold comparison. A score exactly
// at the threshold is not a match.
func (e *Engine) matches(score float64) bool {
	return score > e.config.Threshold
}

// snapshot returns the current index, building it on first use.
func (e *Engine) snapshot(ctx context.Context) (*corpusIndex, error) {
	if idx := e.snap.Load(); idx != nil {
		return idx, nil
	}
	if err := e.Refresh(ctx); err != nil {
		return nil, err
	}
	return e.snap.Load(), nil
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
