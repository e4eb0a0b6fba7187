// Package content reads the English source text of the RBT translation:
// verses and their footnotes, organised per book as the site database stores
// them.
package content

import (
	"regexp"
	"strings"
)

// Testament selects where a book's text and footnotes live.
type Testament string

const (
	// Genesis has its own tables and footnote numbering.
	Genesis    Testament = "genesis"
	Old        Testament = "old"
	New        Testament = "new"
	Storehouse Testament = "storehouse"
)

// Book is one entry of the catalog.
type Book struct {
	Name      string    `json:"name"`
	Abbrev    string    `json:"abbrev"`
	Testament Testament `json:"testament"`
}

// HasFootnotes reports whether the book's source carries footnotes.
func (b Book) HasFootnotes() bool {
	return b.Testament != Storehouse
}

// Title returns the RBT display title, which is the literal meaning of the
// book name, falling back to the name itself.
func (b Book) Title() string {
	if t, ok := rbtTitles[b.Name]; ok {
		return t
	}
	return b.Name
}

// FootnoteTable is the new_testament table holding the book's footnotes.
// Tables for books whose abbreviation starts with a digit carry a table_
// prefix.
func (b Book) FootnoteTable() string {
	abbrev := strings.ToLower(b.Abbrev)
	if abbrev != "" && abbrev[0] >= '0' && abbrev[0] <= '9' {
		return "table_" + abbrev + "_footnotes"
	}
	return abbrev + "_footnotes"
}

var catalog = []Book{
	{"Genesis", "Gen", Genesis},
	{"Exodus", "Exo", Old},
	{"Leviticus", "Lev", Old},
	{"Numbers", "Num", Old},
	{"Deuteronomy", "Deu", Old},
	{"Joshua", "Jos", Old},
	{"Judges", "Jdg", Old},
	{"Ruth", "Rut", Old},
	{"1 Samuel", "1Sa", Old},
	{"2 Samuel", "2Sa", Old},
	{"1 Kings", "1Ki", Old},
	{"2 Kings", "2Ki", Old},
	{"1 Chronicles", "1Ch", Old},
	{"2 Chronicles", "2Ch", Old},
	{"Ezra", "Ezr", Old},
	{"Nehemiah", "Neh", Old},
	{"Esther", "Est", Old},
	{"Job", "Job", Old},
	{"Psalms", "Psa", Old},
	{"Proverbs", "Pro", Old},
	{"Ecclesiastes", "Ecc", Old},
	{"Song of Solomon", "Sng", Old},
	{"Isaiah", "Isa", Old},
	{"Jeremiah", "Jer", Old},
	{"Lamentations", "Lam", Old},
	{"Ezekiel", "Eze", Old},
	{"Daniel", "Dan", Old},
	{"Hosea", "Hos", Old},
	{"Joel", "Joe", Old},
	{"Amos", "Amo", Old},
	{"Obadiah", "Oba", Old},
	{"Jonah", "Jon", Old},
	{"Micah", "Mic", Old},
	{"Nahum", "Nah", Old},
	{"Habakkuk", "Hab", Old},
	{"Zephaniah", "Zep", Old},
	{"Haggai", "Hag", Old},
	{"Zechariah", "Zec", Old},
	{"Malachi", "Mal", Old},
	{"Matthew", "Mat", New},
	{"Mark", "Mar", New},
	{"Luke", "Luk", New},
	{"John", "Joh", New},
	{"Acts", "Act", New},
	{"Romans", "Rom", New},
	{"1 Corinthians", "1Co", New},
	{"2 Corinthians", "2Co", New},
	{"Galatians", "Gal", New},
	{"Ephesians", "Eph", New},
	{"Philippians", "Php", New},
	{"Colossians", "Col", New},
	{"1 Thessalonians", "1Th", New},
	{"2 Thessalonians", "2Th", New},
	{"1 Timothy", "1Ti", New},
	{"2 Timothy", "2Ti", New},
	{"Titus", "Tit", New},
	{"Philemon", "Phm", New},
	{"Hebrews", "Heb", New},
	{"James", "Jam", New},
	{"1 Peter", "1Pe", New},
	{"2 Peter", "2Pe", New},
	{"1 John", "1Jo", New},
	{"2 John", "2Jo", New},
	{"3 John", "3Jo", New},
	{"Jude", "Jud", New},
	{"Revelation", "Rev", New},
	{"Joseph and Aseneth", "Ase", Storehouse},
}

var rbtTitles = map[string]string{
	"Genesis":         "In the Head",
	"Exodus":          "A Mighty One of Names",
	"Leviticus":       "He is Summoning",
	"Numbers":         "He is Aligning",
	"Deuteronomy":     "A Mighty One of Alignments",
	"Esther":          "Star",
	"Psalms":          "Melodies",
	"Song of Solomon": "Song of Singers",
	"Job":             "Adversary",
	"Isaiah":          "He is Liberator",
	"Ezekiel":         "God Holds Strong",
	"John":            "He is Favored",
	"Matthew":         "He is a Gift",
	"Mark":            "Hammer",
	"Luke":            "Light Giver",
	"Acts":            "Acts of Sent Away Ones",
	"Revelation":      "Unveiling",
	"Hebrews":         "Beyond Ones",
	"Jonah":           "Dove",
	"1 John":          "First Favored",
	"2 John":          "Second Favored",
	"3 John":          "Third Favored",
	"James":           "Heel Chaser",
	"Galatians":       "People of the Land of Milk",
	"Philippians":     "People of the Horse",
	"Ephesians":       "People of the Land of Bees",
	"Colossians":      "People of Colossal Ones",
	"Titus":           "Avenged",
	"1 Timothy":       "First Honored One",
	"2 Timothy":       "Second Honored One",
}

// extraAliases are spellings used by older links.
var extraAliases = map[string]string{
	"Samuel_1":      "1 Samuel",
	"Samuel_2":      "2 Samuel",
	"Kings_1":       "1 Kings",
	"Kings_2":       "2 Kings",
	"Chronicles_1":  "1 Chronicles",
	"Chronicles_2":  "2 Chronicles",
	"Song_Of_Songs": "Song of Solomon",
	"Songs":         "Song of Solomon",
}

var (
	byName   = map[string]Book{}
	byAbbrev = map[string]Book{}
)

func init() {
	for _, b := range catalog {
		byName[strings.ToLower(b.Name)] = b
		byName[strings.ToLower(strings.ReplaceAll(b.Name, " ", ""))] = b
		byAbbrev[strings.ToLower(b.Abbrev)] = b
	}
	for alias, name := range extraAliases {
		byName[strings.ToLower(alias)] = byName[strings.ToLower(name)]
	}
}

var numberedBook = regexp.MustCompile(`^(\d+)\s*([a-zA-Z].*)$`)

// Lookup resolves a book by name, spacing variant ("1John"), legacy alias or
// abbreviation, case-insensitively.
func Lookup(name string) (Book, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Book{}, false
	}
	if b, ok := byName[key]; ok {
		return b, true
	}
	if m := numberedBook.FindStringSubmatch(key); m != nil {
		if b, ok := byName[m[1]+" "+m[2]]; ok {
			return b, true
		}
	}
	if b, ok := byAbbrev[key]; ok {
		return b, true
	}
	return Book{}, false
}

// Books returns the catalog in canonical order.
func Books() []Book {
	out := make([]Book, len(catalog))
	copy(out, catalog)
	return out
}
