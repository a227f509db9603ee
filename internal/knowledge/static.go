package knowledge

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed corpus.json
var embeddedCorpus embed.FS

// corpusFile is the on-disk/embedded corpus document layout.
type corpusFile struct {
	FaqTitle string    `json:"faq_document_title"`
	SopTitle string    `json:"sop_document_title"`
	Faqs     []FaqItem `json:"faqs"`
	Sops     []SopItem `json:"sops"`
}

// StaticStore serves an immutable corpus loaded at construction time.
//
// It satisfies Store for the built-in support document; external corpora
// (document ingestion is out of scope here) plug in behind the same
// interface.
type StaticStore struct {
	faqTitle string
	sopTitle string
	faqs     []FaqItem
	sops     []SopItem
}

// NewStaticStore loads the corpus from path, or from the embedded default
// document when path is empty.
func NewStaticStore(path string) (*StaticStore, error) {
	var (
		raw []byte
		err error
	)
	if path == "" {
		raw, err = embeddedCorpus.ReadFile("corpus.json")
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading corpus: %v", ErrStoreUnavailable, err)
	}

	var doc corpusFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing corpus: %v", ErrStoreUnavailable, err)
	}

	if err := validateCorpus(&doc); err != nil {
		return nil, fmt.Errorf("invalid corpus: %w", err)
	}

	return &StaticStore{
		faqTitle: doc.FaqTitle,
		sopTitle: doc.SopTitle,
		faqs:     doc.Faqs,
		sops:     doc.Sops,
	}, nil
}

// validateCorpus rejects entries the retrieval and diagnostic engines cannot
// operate on. A corpus with zero entries is allowed (treated as "no
// candidate" at retrieval time).
func validateCorpus(doc *corpusFile) error {
	seen := make(map[string]bool)
	for _, f := range doc.Faqs {
		if f.ID == "" || f.Question == "" {
			return fmt.Errorf("faq entry %q missing id or question", f.ID)
		}
		if seen[f.ID] {
			return fmt.Errorf("duplicate entry id %q", f.ID)
		}
		seen[f.ID] = true
	}
	for _, s := range doc.Sops {
		if s.ID == "" || s.Issue == "" {
			return fmt.Errorf("sop entry %q missing id or issue", s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate entry id %q", s.ID)
		}
		seen[s.ID] = true
		for _, step := range s.SolutionSteps {
			ct := step.CommandType
			if ct == "" {
				continue
			}
			if !ct.Valid() {
				return fmt.Errorf("sop %s step %s: unknown command type %q", s.ID, step.ID, ct)
			}
			if ct != CommandNone && step.Command == "" {
				return fmt.Errorf("sop %s step %s: %s step without a command", s.ID, step.ID, ct)
			}
		}
	}
	return nil
}

// ListFAQ returns all FAQ entries.
func (s *StaticStore) ListFAQ(ctx context.Context) ([]FaqItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]FaqItem, len(s.faqs))
	copy(out, s.faqs)
	return out, nil
}

// ListSOP returns all SOP entries.
func (s *StaticStore) ListSOP(ctx context.Context) ([]SopItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]SopItem, len(s.sops))
	copy(out, s.sops)
	return out, nil
}

// FaqDocument returns the verbatim FAQ document for the read-only surface.
func (s *StaticStore) FaqDocument() FaqDocument {
	return FaqDocument{Title: s.faqTitle, Questions: append([]FaqItem(nil), s.faqs...)}
}

// SopDocument returns the verbatim SOP document for the read-only surface.
func (s *StaticStore) SopDocument() SopDocument {
	return SopDocument{Title: s.sopTitle, Procedures: append([]SopItem(nil), s.sops...)}
}
