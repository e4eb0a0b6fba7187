package content

import (
	"context"
	"errors"
)

var (
	// ErrUnknownBook is returned for names that are not in the catalog.
	ErrUnknownBook = errors.New("unknown book")
	// ErrNotFound is returned when a chapter or footnote has no source text.
	ErrNotFound = errors.New("content not found")
)

// Verse is one verse of English source text.
type Verse struct {
	Number int
	Text   string
	// FootnoteRefs are the references found in the verse HTML, in order.
	FootnoteRefs []string
}

// Source reads English source text.
type Source interface {
	// Chapter returns the verses of a chapter ordered by number, or
	// ErrNotFound when the chapter has none.
	Chapter(ctx context.Context, book string, chapter int) ([]Verse, error)

	// Footnote returns the HTML of one footnote, or ErrNotFound.
	Footnote(ctx context.Context, book string, ref string) (string, error)

	Close() error
}
