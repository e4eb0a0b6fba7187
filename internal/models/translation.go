// Package models - Translation records and the background job queue.
//
// A VerseTranslation caches one translated unit of text: a verse, a
// footnote, or a book title. Book titles use chapter 0 and verse 0; footnotes
// use verse 0 and carry a FootnoteID of the form "{book}-{ref}".
package models

import (
	"fmt"
	"time"
)

// TranslationStatus covers both the editorial lifecycle
// (ai_generated -> human_reviewed -> published) and the lifecycle the worker
// writes (processing -> completed | failed).
type TranslationStatus string

const (
	TranslationAIGenerated   TranslationStatus = "ai_generated"
	TranslationHumanReviewed TranslationStatus = "human_reviewed"
	TranslationPublished     TranslationStatus = "published"
	TranslationProcessing    TranslationStatus = "processing"
	TranslationCompleted     TranslationStatus = "completed"
	TranslationFailed        TranslationStatus = "failed"
)

// Valid reports whether s is a known status.
func (s TranslationStatus) Valid() bool {
	switch s {
	case TranslationAIGenerated, TranslationHumanReviewed, TranslationPublished,
		TranslationProcessing, TranslationCompleted, TranslationFailed:
		return true
	}
	return false
}

// Done reports whether the row holds usable text that the worker must not
// overwrite.
func (s TranslationStatus) Done() bool {
	switch s {
	case TranslationAIGenerated, TranslationHumanReviewed, TranslationPublished, TranslationCompleted:
		return true
	}
	return false
}

// TranslationKey is the natural key of a VerseTranslation.
type TranslationKey struct {
	Book         string `json:"book"`
	Chapter      int    `json:"chapter"`
	Verse        int    `json:"verse"`
	LanguageCode string `json:"language_code"`
	FootnoteID   string `json:"footnote_id,omitempty"`
}

func (k TranslationKey) String() string {
	if k.FootnoteID != "" {
		return fmt.Sprintf("%s %d:%d [%s] %s", k.Book, k.Chapter, k.Verse, k.FootnoteID, k.LanguageCode)
	}
	return fmt.Sprintf("%s %d:%d %s", k.Book, k.Chapter, k.Verse, k.LanguageCode)
}

// VerseTranslation is unique per (book, chapter, verse, language, footnote_id).
type VerseTranslation struct {
	ID           int64             `json:"id,omitempty"`
	Book         string            `json:"book"`
	Chapter      int               `json:"chapter"`
	Verse        int               `json:"verse"`
	LanguageCode string            `json:"language_code"`
	VerseText    string            `json:"verse_text,omitempty"`
	FootnoteID   string            `json:"footnote_id,omitempty"`
	FootnoteText string            `json:"footnote_text,omitempty"`
	Status       TranslationStatus `json:"status"`
	GeneratedBy  string            `json:"generated_by,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Key returns the natural key of the row.
func (t *VerseTranslation) Key() TranslationKey {
	return TranslationKey{
		Book:         t.Book,
		Chapter:      t.Chapter,
		Verse:        t.Verse,
		LanguageCode: t.LanguageCode,
		FootnoteID:   t.FootnoteID,
	}
}

// IsBookTitle reports whether the row holds a translated book title.
func (t *VerseTranslation) IsBookTitle() bool {
	return t.Chapter == 0 && t.Verse == 0 && t.FootnoteID == ""
}

// IsFootnote reports whether the row holds a translated footnote.
func (t *VerseTranslation) IsFootnote() bool {
	return t.FootnoteID != ""
}

// Validate checks the fields every backend relies on.
func (t *VerseTranslation) Validate() error {
	if t.Book == "" {
		return fmt.Errorf("book is required")
	}
	if t.Chapter < 0 || t.Verse < 0 {
		return fmt.Errorf("chapter and verse cannot be negative")
	}
	if t.LanguageCode == "" {
		return fmt.Errorf("language code is required")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid status: %q", t.Status)
	}
	return nil
}

// TranslationUpdate is an append-only audit entry describing a change to the
// published translation text.
type TranslationUpdate struct {
	Date       time.Time `json:"date"`
	Version    string    `json:"version"`
	Reference  string    `json:"reference"`
	UpdateText string    `json:"update_text"`
}

func (u *TranslationUpdate) Validate() error {
	if u.Reference == "" {
		return fmt.Errorf("reference is required")
	}
	if u.UpdateText == "" {
		return fmt.Errorf("update text is required")
	}
	return nil
}
