package knowledge

import (
	"context"
	"errors"
)

// ErrStoreUnavailable is returned when the knowledge corpus cannot be read.
// Callers must not treat it as "no match".
var ErrStoreUnavailable = errors.New("knowledge store unavailable")

// Store provides read access to the two knowledge corpora.
//
// Implementations must return consistent, immutable slices: a caller holding
// a returned slice must never observe a concurrent refresh through it.
type Store interface {
	// ListFAQ returns all FAQ entries.
	ListFAQ(ctx context.Context) ([]FaqItem, error)

	// ListSOP returns all SOP entries.
	ListSOP(ctx context.Context) ([]SopItem, error)
}

// Document is the verbatim human-browsable form of one corpus, served
// read-only by the HTTP surface.
type Document struct {
	Title string `json:"document_title"`
}

// FaqDocument is the full FAQ document.
type FaqDocument struct {
	Title     string    `json:"document_title"`
	Questions []FaqItem `json:"questions"`
}

// SopDocument is the full SOP document.
type SopDocument struct {
	Title      string    `json:"document_title"`
	Procedures []SopItem `json:"procedures"`
}
