package llm

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	verseMarker    = regexp.MustCompile(`<<<VERSE_(\d+)>>>`)
	footnoteMarker = regexp.MustCompile(`<<<FOOTNOTE_([^>]+)>>>`)
)

// VerseMarker is the line that precedes verse n in a prompt.
func VerseMarker(n int) string {
	return "<<<VERSE_" + strconv.Itoa(n) + ">>>"
}

// FootnoteMarker is the line that precedes a footnote in a prompt.
func FootnoteMarker(id string) string {
	return "<<<FOOTNOTE_" + id + ">>>"
}

// segments splits text at every marker match. Each segment runs from the end
// of its marker to the start of the next one.
func segments(re *regexp.Regexp, text string) [][2]string {
	locs := re.FindAllStringSubmatchIndex(text, -1)
	out := make([][2]string, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		key := text[loc[2]:loc[3]]
		out = append(out, [2]string{key, strings.TrimSpace(text[loc[1]:end])})
	}
	return out
}

// ParseVerses reads a model response made of <<<VERSE_n>>> sections. A
// repeated marker keeps its last section.
func ParseVerses(text string) map[int]string {
	out := make(map[int]string)
	for _, seg := range segments(verseMarker, text) {
		n, err := strconv.Atoi(seg[0])
		if err != nil || seg[1] == "" {
			continue
		}
		out[n] = seg[1]
	}
	return out
}

// ParseFootnotes reads a model response made of <<<FOOTNOTE_id>>> sections.
func ParseFootnotes(text string) map[string]string {
	out := make(map[string]string)
	for _, seg := range segments(footnoteMarker, text) {
		id := strings.TrimSpace(seg[0])
		if id == "" || seg[1] == "" {
			continue
		}
		out[id] = seg[1]
	}
	return out
}
