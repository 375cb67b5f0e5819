package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want Language
	}{
		{"en", LanguageEnglish},
		{"EN", LanguageEnglish},
		{" fr ", LanguageFrench},
		{"en-US", LanguageEnglish},
		{"pt_BR", LanguagePortuguese},
		{"zh-Hans-CN", LanguageChinese},
		{"", LanguageUnknown},
		{"tlh", LanguageUnknown},
		{"und", LanguageUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLanguage(tt.in), "input %q", tt.in)
	}
}

func TestLanguageSupported(t *testing.T) {
	assert.True(t, LanguageSpanish.Supported())
	assert.False(t, LanguageUnknown.Supported())
	assert.False(t, Language("xx").Supported())
}
