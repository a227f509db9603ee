package retrieval

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"

	"github.com/opslinelabs/supportd/internal/knowledge"
)

const (
	faqCollection = "faq"
	sopCollection = "sop"
)

// corpusIndex is one immutable snapshot of both corpora, embedded and
// indexed in an in-memory chromem database. It is never mutated after
// construction; Engine.Refresh builds a fresh one and swaps the pointer.
type corpusIndex struct {
	faq *chromem.Collection
	sop *chromem.Collection

	faqByID map[string]knowledge.FaqItem
	sopByID map[string]knowledge.SopItem

	faqCount int
	sopCount int
}

// buildIndex reads both corpora and embeds every entry's canonical text.
func buildIndex(ctx context.Context, store knowledge.Store, embedder Embedder) (*corpusIndex, error) {
	faqs, err := store.ListFAQ(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing faq corpus: %w", err)
	}
	sops, err := store.ListSOP(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sop corpus: %w", err)
	}

	db := chromem.NewDB()
	embedFn := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}

	faqCol, err := db.CreateCollection(faqCollection, nil, embedFn)
	if err != nil {
		return nil, fmt.Errorf("creating faq collection: %w", err)
	}
	sopCol, err := db.CreateCollection(sopCollection, nil, embedFn)
	if err != nil {
		return nil, fmt.Errorf("creating sop collection: %w", err)
	}

	idx := &corpusIndex{
		faq:     faqCol,
		sop:     sopCol,
		faqByID: make(map[string]knowledge.FaqItem, len(faqs)),
		sopByID: make(map[string]knowledge.SopItem, len(sops)),
	}

	if len(faqs) > 0 {
		docs := make([]chromem.Document, len(faqs))
		texts := make([]string, len(faqs))
		for i, f := range faqs {
			texts[i] = f.CanonicalText()
			idx.faqByID[f.ID] = f
		}
		vecs, err := embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("%w: embedding faq corpus: %v", ErrRetrievalUnavailable, err)
		}
		for i, f := range faqs {
			docs[i] = chromem.Document{ID: f.ID, Content: texts[i], Embedding: vecs[i]}
		}
		if err := faqCol.AddDocuments(ctx, docs, 1); err != nil {
			return nil, fmt.Errorf("indexing faq corpus: %w", err)
		}
		idx.faqCount = len(faqs)
	}

	if len(sops) > 0 {
		docs := make([]chromem.Document, len(sops))
		texts := make([]string, len(sops))
		for i, s := range sops {
			texts[i] = s.CanonicalText()
			idx.sopByID[s.ID] = s
		}
		vecs, err := embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("%w: embedding sop corpus: %v", ErrRetrievalUnavailable, err)
		}
		for i, s := range sops {
			docs[i] = chromem.Document{ID: s.ID, Content: texts[i], Embedding: vecs[i]}
		}
		if err := sopCol.AddDocuments(ctx, docs, 1); err != nil {
			return nil, fmt.Errorf("indexing sop corpus: %w", err)
		}
		idx.sopCount = len(sops)
	}

	return idx, nil
}

// queryFaq returns the arg-max FAQ entry id and its similarity.
// An empty corpus yields a zero score, never an error.
func (idx *corpusIndex) queryFaq(ctx context.Context, query string) (string, float64, error) {
	return topMatch(ctx, idx.faq, idx.faqCount, query)
}

// querySop returns the arg-max SOP entry id and its similarity.
func (idx *corpusIndex) querySop(ctx context.Context, query string) (string, float64, error) {
	return topMatch(ctx, idx.sop, idx.sopCount, query)
}

func topMatch(ctx context.Context, col *chromem.Collection, count int, query string) (string, float64, error) {
	if count == 0 {
		return "", 0, nil
	}
	results, err := col.Query(ctx, query, 1, nil, nil)
	if err != nil {
		return "", 0, err
	}
	if len(results) == 0 {
		return "", 0, nil
	}
	return results[0].ID, float64(results[0].Similarity), nil
}
