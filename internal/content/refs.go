package content

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	genesisFootnoteLink = regexp.MustCompile(`\?footnote=(\d+-\d+-\d+[a-zA-Z]?)`)
	otFootnoteLink      = regexp.MustCompile(`\?footnote=([^"&\s]+)`)
	ntFootnoteMarker    = regexp.MustCompile(`<sup>(.*?)</sup>`)
)

// FootnoteRefs extracts the footnote references from a verse's HTML in
// first-seen order without duplicates. Genesis and the other Old Testament
// books link footnotes with ?footnote= query strings; New Testament verses
// mark them with <sup> tags.
func FootnoteRefs(t Testament, html string) []string {
	var re *regexp.Regexp
	switch t {
	case Genesis:
		re = genesisFootnoteLink
	case Old:
		re = otFootnoteLink
	case New:
		re = ntFootnoteMarker
	default:
		return nil
	}

	var refs []string
	seen := make(map[string]bool)
	for _, m := range re.FindAllStringSubmatch(html, -1) {
		ref := strings.TrimSpace(m[1])
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}

// FootnoteID is the key a translated footnote is stored under.
func FootnoteID(book Book, ref string) string {
	return book.Name + "-" + ref
}

// hebrewDataRef converts an Old Testament footnote reference to the ref
// column of old_testament.hebrewdata: "Gen-1-1-2" and "Gen.1.1-2" both become
// "Gen.1.1-2".
func hebrewDataRef(ref string) (string, error) {
	parts := strings.Split(ref, "-")
	if len(parts) == 4 {
		return fmt.Sprintf("%s.%s.%s-%s", parts[0], parts[1], parts[2], parts[3]), nil
	}
	if len(parts) == 2 {
		head := strings.Split(parts[0], ".")
		if len(head) == 3 {
			return fmt.Sprintf("%s.%s.%s-%s", head[0], head[1], head[2], parts[1]), nil
		}
	}
	return "", fmt.Errorf("malformed footnote reference %q", ref)
}
