package models

import (
	"fmt"
	"sort"

	"golang.org/x/text/language"
)

// SourceLanguage is the language of the stored Bible text.
const SourceLanguage = "en"

// supportedLanguages maps target language codes to their native names.
var supportedLanguages = map[string]string{
	"es":    "Español",
	"pt":    "Português",
	"fr":    "Français",
	"de":    "Deutsch",
	"it":    "Italiano",
	"ru":    "Русский",
	"uk":    "Українська",
	"el":    "Ελληνικά",
	"sv":    "Svenska",
	"da":    "Dansk",
	"no":    "Norsk",
	"fi":    "Suomi",
	"cs":    "Čeština",
	"sk":    "Slovenčina",
	"hr":    "Hrvatski",
	"sr":    "Српски",
	"bg":    "Български",
	"ca":    "Català",
	"zh":    "中文",
	"zh-TW": "繁體中文",
	"ja":    "日本語",
	"ko":    "한국어",
	"mn":    "Монгол",
	"ar":    "العربية",
	"hi":    "हिन्दी",
	"bn":    "বাংলা",
	"pa":    "ਪੰਜਾਬੀ",
	"ta":    "தமிழ்",
	"te":    "తెలుగు",
	"mr":    "मराठी",
	"gu":    "ગુજરાતી",
	"kn":    "ಕನ್ನಡ",
	"ml":    "മലയാളം",
	"ur":    "اردو",
	"fa":    "فارسی",
	"ps":    "پښتو",
	"nl":    "Nederlands",
	"pl":    "Polski",
	"tr":    "Türkçe",
	"vi":    "Tiếng Việt",
	"th":    "ไทย",
	"id":    "Bahasa Indonesia",
	"ms":    "Bahasa Melayu",
	"tl":    "Tagalog",
	"km":    "ភាសាខ្មែរ",
	"lo":    "ລາວ",
	"my":    "မြန်မာဘာသာ",
	"ceb":   "Cebuano",
	"jv":    "Basa Jawa",
	"ro":    "Română",
	"hu":    "Magyar",
	"sw":    "Kiswahili",
	"ha":    "Hausa",
	"yo":    "Yorùbá",
	"ig":    "Igbo",
	"am":    "አማርኛ",
	"om":    "Oromoo",
	"zu":    "isiZulu",
	"af":    "Afrikaans",
	"su":    "Basa Sunda",
	"mad":   "Madhurâ",
	"hmn":   "Hmoob",
	"az":    "Azərbaycan dili",
	"ku":    "Kurdî",
	"uz":    "Oʻzbekcha",
	"kk":    "Қазақ тілі",
	"ka":    "ქართული",
	"lt":    "Lietuvių",
	"lv":    "Latviešu",
	"et":    "Eesti",
	"sl":    "Slovenščina",
}

// Language is a supported translation target.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// NormalizeLanguage parses code as a BCP 47 tag and returns the canonical
// form used as the table key ("zh-tw" becomes "zh-TW"). It fails for
// malformed tags, the source language, and unsupported targets.
func NormalizeLanguage(code string) (string, error) {
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("invalid language code %q: %w", code, err)
	}
	canonical := tag.String()
	if canonical == SourceLanguage {
		return "", fmt.Errorf("cannot translate into the source language %q", SourceLanguage)
	}
	if _, ok := supportedLanguages[canonical]; !ok {
		return "", fmt.Errorf("unsupported language: %s", code)
	}
	return canonical, nil
}

// LanguageName returns the native name of a supported language code, or the
// code itself when it is unknown.
func LanguageName(code string) string {
	if name, ok := supportedLanguages[code]; ok {
		return name
	}
	return code
}

// IsSupportedLanguage reports whether code is a translation target.
func IsSupportedLanguage(code string) bool {
	_, ok := supportedLanguages[code]
	return ok
}

// SupportedLanguages lists every translation target ordered by code.
func SupportedLanguages() []Language {
	langs := make([]Language, 0, len(supportedLanguages))
	for code, name := range supportedLanguages {
		langs = append(langs, Language{Code: code, Name: name})
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i].Code < langs[j].Code })
	return langs
}
