package content

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type chapterKey struct {
	book    string
	chapter int
}

type footnoteKey struct {
	book string
	ref  string
}

// MemorySource serves source text added at runtime. It backs tests and
// deployments without a content database.
type MemorySource struct {
	mu        sync.RWMutex
	verses    map[chapterKey]map[int]Verse
	footnotes map[footnoteKey]string
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		verses:    make(map[chapterKey]map[int]Verse),
		footnotes: make(map[footnoteKey]string),
	}
}

// AddVerse stores a verse; refs are extracted from html the way the database
// reader does it.
func (m *MemorySource) AddVerse(name string, chapter, verse int, text, html string) error {
	book, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownBook)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := chapterKey{book.Name, chapter}
	if m.verses[key] == nil {
		m.verses[key] = make(map[int]Verse)
	}
	m.verses[key][verse] = Verse{Number: verse, Text: text, FootnoteRefs: FootnoteRefs(book.Testament, html)}
	return nil
}

func (m *MemorySource) AddFootnote(name, ref, html string) error {
	book, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownBook)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.footnotes[footnoteKey{book.Name, ref}] = html
	return nil
}

func (m *MemorySource) Chapter(ctx context.Context, name string, chapter int) ([]Verse, error) {
	book, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownBook)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.verses[chapterKey{book.Name, chapter}]
	if len(stored) == 0 {
		return nil, fmt.Errorf("%s %d: %w", book.Name, chapter, ErrNotFound)
	}
	verses := make([]Verse, 0, len(stored))
	for _, v := range stored {
		v.FootnoteRefs = append([]string(nil), v.FootnoteRefs...)
		verses = append(verses, v)
	}
	sort.Slice(verses, func(i, j int) bool { return verses[i].Number < verses[j].Number })
	return verses, nil
}

func (m *MemorySource) Footnote(ctx context.Context, name string, ref string) (string, error) {
	book, ok := Lookup(name)
	if !ok {
		return "", fmt.Errorf("%q: %w", name, ErrUnknownBook)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	html, ok := m.footnotes[footnoteKey{book.Name, ref}]
	if !ok || html == "" {
		return "", fmt.Errorf("footnote %s %s: %w", book.Name, ref, ErrNotFound)
	}
	return html, nil
}

func (m *MemorySource) Close() error {
	return nil
}
