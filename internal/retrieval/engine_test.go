package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opslinelabs/supportd/internal/knowledge"
)

// mockEmbedder returns fixed vectors for known texts.
type mockEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	failing bool
}

func newMockEmbedder(vectors map[string][]float32) *mockEmbedder {
	return &mockEmbedder{vectors: vectors}
}

func (m *mockEmbedder) setFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

func (m *mockEmbedder) embed(text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, errors.New("embedding backend unreachable")
	}
	vec, ok := m.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no test vector for %q", text)
	}
	return vec, nil
}

func (m *mockEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := m.embed(t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (m *mockEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return m.embed(text)
}

// mockKnowledgeStore serves a mutable in-memory corpus.
type mockKnowledgeStore struct {
	mu   sync.Mutex
	faqs []knowledge.FaqItem
	sops []knowledge.SopItem
	err  error
}

func (m *mockKnowledgeStore) ListFAQ(context.Context) ([]knowledge.FaqItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]knowledge.FaqItem(nil), m.faqs...), nil
}

func (m *mockKnowledgeStore) ListSOP(context.Context) ([]knowledge.SopItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]knowledge.SopItem(nil), m.sops...), nil
}

const (
	faqRouterQ  = "What should I do if the LOS light is blinking red?"
	faqDataQ    = "My mobile data is very slow."
	sopDthIssue = "A DTH installation order is stuck at Activation In Progress."
)

func testVectors() map[string][]float32 {
	return map[string][]float32{
		faqRouterQ:  {1, 0, 0},
		faqDataQ:    {0, 1, 0},
		sopDthIssue: {0, 0, 1},

		// Queries, named by intent.
		"query close to router faq": {0.9, 0.43589, 0},
		"query close to dth sop":    {0, 0.3, 0.9539392},
		"query close to both":       {0.7, 0, 0.7141428},
		"query far from everything": {0.57735, 0.57735, 0.57735},
	}
}

func newTestEngine(t *testing.T, store knowledge.Store, embedder Embedder) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultConfig(), store, embedder, zap.NewNop())
	require.NoError(t, err)
	return engine
}

func defaultStore() *mockKnowledgeStore {
	return &mockKnowledgeStore{
		faqs: []knowledge.FaqItem{
			{ID: "FAQ01", Question: faqRouterQ, Answer: "Check the fiber cable and reboot the router."},
			{ID: "FAQ02", Question: faqDataQ, Answer: "Toggle airplane mode."},
		},
		sops: []knowledge.SopItem{
			{ID: "SOP01", Title: "DTH stuck", Issue: sopDthIssue},
		},
	}
}

func TestRetrieve_FaqMatch(t *testing.T) {
	engine := newTestEngine(t, defaultStore(), newMockEmbedder(testVectors()))

	res, err := engine.Retrieve(context.Background(), "query close to router faq")
	require.NoError(t, err)
	require.Equal(t, knowledge.SourceFaq, res.Source)
	require.NotNil(t, res.Faq)
	assert.Equal(t, "FAQ01", res.Faq.ID)
	assert.InDelta(t, 0.9, res.Confidence, 0.01)
	assert.Nil(t, res.Sop)
}

func TestRetrieve_Idempotent(t *testing.T) {
	engine := newTestEngine(t, defaultStore(), newMockEmbedder(testVectors()))

	first, err := engine.Retrieve(context.Background(), "query close to dth sop")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := engine.Retrieve(context.Background(), "query close to dth sop")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRetrieve_FaqPriorityWhenBothExceedThreshold(t *testing.T) {
	engine := newTestEngine(t, defaultStore(), newMockEmbedder(testVectors()))

	res, err := engine.Retrieve(context.Background(), "query close to both")
	require.NoError(t, err)
	assert.Equal(t, knowledge.SourceFaq, res.Source)
	require.NotNil(t, res.Faq)
	assert.Equal(t, "FAQ01", res.Faq.ID)
}

func TestRetrieve_SopMatch(t *testing.T) {
	engine := newTestEngine(t, defaultStore(), newMockEmbedder(testVectors()))

	res, err := engine.Retrieve(context.Background(), "query close to dth sop")
	require.NoError(t, err)
	require.Equal(t, knowledge.SourceSop, res.Source)
	require.NotNil(t, res.Sop)
	assert.Equal(t, "SOP01", res.Sop.ID)
	assert.Greater(t, res.Confidence, 0.65)
}

func TestRetrieve_NoMatchCarriesBestScore(t *testing.T) {
	engine := newTestEngine(t, defaultStore(), newMockEmbedder(testVectors()))

	res, err := engine.Retrieve(context.Background(), "query far from everything")
	require.NoError(t, err)
	assert.Equal(t, knowledge.SourceNone, res.Source)
	assert.Nil(t, res.Faq)
	assert.Nil(t, res.Sop)
	// Best observed score is reported for observability.
	assert.InDelta(t, 0.577, res.Confidence, 0.01)
}

func TestRetrieve_EmptyCorpusIsNoCandidate(t *testing.T) {
	store := &mockKnowledgeStore{}
	engine := newTestEngine(t, store, newMockEmbedder(testVectors()))

	res, err := engine.Retrieve(context.Background(), "query close to router faq")
	require.NoError(t, err)
	assert.Equal(t, knowledge.SourceNone, res.Source)
	assert.Zero(t, res.Confidence)
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	engine := newTestEngine(t, defaultStore(), newMockEmbedder(testVectors()))

	res, err := engine.Retrieve(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, knowledge.SourceNone, res.Source)
}

func TestRetrieve_BackendDownIsNotNoMatch(t *testing.T) {
	embedder := newMockEmbedder(testVectors())
	engine := newTestEngine(t, defaultStore(), embedder)

	// Build the index while the backend is healthy.
	require.NoError(t, engine.Refresh(context.Background()))

	embedder.setFailing(true)
	_, err := engine.Retrieve(context.Background(), "query close to router faq")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrievalUnavailable)
}

func TestRetrieve_StoreUnavailable(t *testing.T) {
	store := &mockKnowledgeStore{err: knowledge.ErrStoreUnavailable}
	engine := newTestEngine(t, store, newMockEmbedder(testVectors()))

	_, err := engine.Retrieve(context.Background(), "query close to router faq")
	require.Error(t, err)
	assert.ErrorIs(t, err, knowledge.ErrStoreUnavailable)
}

func TestRetrieve_SnapshotStableUntilRefresh(t *testing.T) {
	store := defaultStore()
	vectors := testVectors()
	vectors["Is my bill overdue?"] = []float32{0, 1, 0}
	embedder := newMockEmbedder(vectors)
	engine := newTestEngine(t, store, embedder)

	res, err := engine.Retrieve(context.Background(), "query close to router faq")
	require.NoError(t, err)
	require.Equal(t, knowledge.SourceFaq, res.Source)

	// Swap the corpus behind the engine's back; the snapshot must not move.
	store.mu.Lock()
	store.faqs = []knowledge.FaqItem{{ID: "FAQ99", Question: "Is my bill overdue?", Answer: "Check the app."}}
	store.mu.Unlock()

	res, err = engine.Retrieve(context.Background(), "query close to router faq")
	require.NoError(t, err)
	require.Equal(t, knowledge.SourceFaq, res.Source)
	assert.Equal(t, "FAQ01", res.Faq.ID)

	// After an explicit refresh the new corpus is visible.
	require.NoError(t, engine.Refresh(context.Background()))
	res, err = engine.Retrieve(context.Background(), "query close to router faq")
	require.NoError(t, err)
	assert.Equal(t, knowledge.SourceNone, res.Source)
}

func TestMatches_ThresholdIsExclusive(t *testing.T) {
	engine := newTestEngine(t, defaultStore(), newMockEmbedder(testVectors()))

	// A score exactly at the threshold is not a match.
	assert.False(t, engine.matches(0.65))
	assert.True(t, engine.matches(0.65+1e-9))
	assert.False(t, engine.matches(0.64))
}
