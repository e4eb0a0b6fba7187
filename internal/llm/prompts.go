package llm

import (
	"fmt"
	"sort"
	"strings"
)

func titlePrompt(title, languageName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate the literal meaning of this phrase to %s: %q\n\n", languageName, title)
	b.WriteString("IMPORTANT: This is NOT a standard Bible book name. Translate the actual words/meaning, not the biblical book reference.\n\n")
	b.WriteString("Examples:\n")
	b.WriteString("- \"He is Favored\" → \"Él es Favorecido\" (Spanish)\n")
	b.WriteString("- \"The Glory\" → \"La Gloria\" (Spanish)\n")
	b.WriteString("- \"The Twins\" → \"Los Gemelos\" (Spanish)\n")
	b.WriteString("- \"He Adds\" → \"Él Añade\" (Spanish)\n\n")
	b.WriteString("Return ONLY the translated phrase, no explanation or extra text.")
	return b.String()
}

func versesPrompt(verses map[int]string, languageName string) string {
	nums := make([]int, 0, len(verses))
	for n := range verses {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var b strings.Builder
	fmt.Fprintf(&b, "Translate this Bible chapter to %s.\n\n", languageName)
	b.WriteString("=== RULES ===\n")
	b.WriteString("1. Never modify, remove or translate HTML tags, attribute names or attribute values (class, style, href, src, width).\n")
	b.WriteString("2. Only translate human-readable text that appears between tags.\n")
	b.WriteString("3. Keep every <<<VERSE_N>>> marker exactly as written, one per verse, in the same order.\n")
	b.WriteString("4. Preserve whitespace, line breaks, HTML entities and image URLs exactly.\n")
	b.WriteString("5. Where the English uses 'dual' (e.g. \"dual hands\"), use the closest word for 'pair' or 'twofold' in the target language, not a casual 'double'.\n")
	b.WriteString("6. If unsure whether something is text or markup, leave it unchanged.\n\n")
	b.WriteString("Example: <h5><span style=\"color: blue;\">The Twins</span></h5> → <h5><span style=\"color: blue;\">Los Gemelos</span></h5>\n\n")
	b.WriteString("=== CHAPTER ===\n")
	for _, n := range nums {
		b.WriteString(VerseMarker(n))
		b.WriteString("\n")
		b.WriteString(verses[n])
		b.WriteString("\n\n")
	}
	b.WriteString("Return ONLY the translated verses with all HTML tags and <<<VERSE_N>>> markers preserved exactly.")
	return b.String()
}

func footnotesPrompt(footnotes map[string]string, languageName string) string {
	ids := make([]string, 0, len(footnotes))
	for id := range footnotes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintf(&b, "Translate these Bible footnotes/commentaries to %s.\n\n", languageName)
	b.WriteString("=== RULES ===\n")
	b.WriteString("1. Never modify, remove or translate HTML tags, attribute names or attribute values.\n")
	b.WriteString("2. Keep Hebrew and Greek terms in their original script, and keep Strong's numbers (e.g. G5316) unchanged.\n")
	b.WriteString("3. Keep every <<<FOOTNOTE_X>>> marker exactly as written.\n")
	b.WriteString("4. Only translate human-readable English between tags.\n")
	b.WriteString("5. Preserve line breaks, whitespace and formatting exactly.\n")
	b.WriteString("6. Keep a scholarly, technical tone.\n\n")
	b.WriteString("Example: <p class=\"rbt_footnote\">The Greek <strong>Ἐν</strong> means \"in\"</p> → <p class=\"rbt_footnote\">El griego <strong>Ἐν</strong> significa \"en\"</p>\n\n")
	b.WriteString("=== FOOTNOTES ===\n")
	for _, id := range ids {
		b.WriteString(FootnoteMarker(id))
		b.WriteString("\n")
		b.WriteString(footnotes[id])
		b.WriteString("\n\n")
	}
	b.WriteString("Return the translated footnotes with <<<FOOTNOTE_X>>> markers and all HTML preserved exactly.")
	return b.String()
}
