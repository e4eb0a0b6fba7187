package content

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySource(t *testing.T) {
	ctx := context.Background()
	src := NewMemorySource()

	require.NoError(t, src.AddVerse("John", 1, 2, "second", `two<sup>2a</sup>`))
	require.NoError(t, src.AddVerse("John", 1, 1, "first", `one<sup>1a</sup><sup>1b</sup>`))
	require.NoError(t, src.AddFootnote("John", "1a", "<p>note</p>"))
	assert.ErrorIs(t, src.AddVerse("Enoch", 1, 1, "x", ""), ErrUnknownBook)

	verses, err := src.Chapter(ctx, "john", 1)
	require.NoError(t, err)
	require.Len(t, verses, 2)
	assert.Equal(t, 1, verses[0].Number)
	assert.Equal(t, []string{"1a", "1b"}, verses[0].FootnoteRefs)
	assert.Equal(t, "second", verses[1].Text)

	_, err = src.Chapter(ctx, "John", 2)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = src.Chapter(ctx, "Enoch", 1)
	assert.ErrorIs(t, err, ErrUnknownBook)

	note, err := src.Footnote(ctx, "John", "1a")
	require.NoError(t, err)
	assert.Equal(t, "<p>note</p>", note)

	_, err = src.Footnote(ctx, "John", "1b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresSourceRequiresDSN(t *testing.T) {
	_, err := NewPostgresSource(context.Background(), "", 0)
	assert.Error(t, err)
}
