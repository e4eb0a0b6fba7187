// Package llm translates verse and footnote HTML with a large language model.
//
// Failures are reported two ways. Exhausting every API key's quota returns
// ErrQuotaExceeded and should stop the job. Any other failure is per item:
// the affected entries carry a sentinel string (see IsSentinel) so the caller
// can store them as failed and retry later.
package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrQuotaExceeded is returned when every configured API key reports quota
// or rate limit exhaustion.
var ErrQuotaExceeded = errors.New("translation quota exceeded on all API keys")

// Sentinel texts written in place of a translation.
const (
	UnavailableText  = "[Translation unavailable - API key not configured]"
	ParsingErrorText = "[Translation parsing error]"
	sentinelPrefix   = "[Translation"
)

// ErrorText is the sentinel for a failed model call.
func ErrorText(err error) string {
	return "[Translation error: " + err.Error() + "]"
}

// IsSentinel reports whether text is a failure marker rather than a translation.
func IsSentinel(text string) bool {
	return strings.HasPrefix(text, sentinelPrefix)
}

// Translator turns English source text into a target language.
type Translator interface {
	// TranslateTitle translates the literal meaning of a book title.
	TranslateTitle(ctx context.Context, title, lang string) (string, error)

	// TranslateVerses translates verse HTML keyed by verse number. The result
	// has an entry for every input key.
	TranslateVerses(ctx context.Context, verses map[int]string, lang string) (map[int]string, error)

	// TranslateFootnotes translates footnote HTML keyed by footnote id. The
	// result has an entry for every input key.
	TranslateFootnotes(ctx context.Context, footnotes map[string]string, lang string) (map[string]string, error)

	// Model names the model recorded as generated_by.
	Model() string
}
