package model

import (
	"strings"
)

// Language is a closed set of supported language codes. External input is
// parsed through ParseLanguage at every boundary; unrecognized codes map to
// LanguageUnknown instead of flowing through as raw strings.
type Language string

const (
	LanguageEnglish    Language = "en"
	LanguageSpanish    Language = "es"
	LanguageFrench     Language = "fr"
	LanguageGerman     Language = "de"
	LanguageItalian    Language = "it"
	LanguagePortuguese Language = "pt"
	LanguageDutch      Language = "nl"
	LanguageRussian    Language = "ru"
	LanguageChinese    Language = "zh"
	LanguageJapanese   Language = "ja"
	LanguageKorean     Language = "ko"
	LanguageArabic     Language = "ar"

	// LanguageUnknown is the explicit "unspecified" variant. Downstream
	// components skip language-specific adjustments when they see it.
	LanguageUnknown Language = "und"
)

var supportedLanguages = map[Language]struct{}{
	LanguageEnglish:    {},
	LanguageSpanish:    {},
	LanguageFrench:     {},
	LanguageGerman:     {},
	LanguageItalian:    {},
	LanguagePortuguese: {},
	LanguageDutch:      {},
	LanguageRussian:    {},
	LanguageChinese:    {},
	LanguageJapanese:   {},
	LanguageKorean:     {},
	LanguageArabic:     {},
}

// ParseLanguage normalizes a language code string to a Language. Region
// subtags are dropped ("en-US" parses as "en"). Unknown or empty codes
// return LanguageUnknown, never an error.
func ParseLanguage(code string) Language {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return LanguageUnknown
	}
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	lang := Language(code)
	if _, ok := supportedLanguages[lang]; ok {
		return lang
	}
	return LanguageUnknown
}

// Supported reports whether the language is a member of the closed set
// (LanguageUnknown is not).
func (l Language) Supported() bool {
	_, ok := supportedLanguages[l]
	return ok
}

// String returns the language code.
func (l Language) String() string {
	return string(l)
}
