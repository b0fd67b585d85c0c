package policy_test

import (
	"errors"
	"testing"

	"github.com/locsync/locsync/internal/policy"
)

func TestCultureMapLocale(t *testing.T) {
	cultures := policy.DefaultCultures()

	cases := map[string]string{
		"DE":    "de-DE",
		"de":    "de-DE",
		"IT":    "it-IT",
		"EN":    "en-GB",
		"EN-GB": "en-GB",
		"FR-CA": "fr-CA",
		"PT-PT": "pt-PT",
	}
	for code, want := range cases {
		locale, err := cultures.Locale(code)
		if err != nil {
			t.Fatalf("Locale(%q) error = %v", code, err)
		}
		if locale != want {
			t.Fatalf("Locale(%q) = %q, want %q", code, locale, want)
		}
	}

	if _, err := cultures.Locale("ZZ"); !errors.Is(err, policy.ErrUnknownProviderCode) {
		t.Fatalf("expected ErrUnknownProviderCode, got %v", err)
	}
}

func TestCultureMapSourceCodeStripsRegions(t *testing.T) {
	cultures := policy.DefaultCultures()

	cases := map[string]string{
		"de-DE": "DE",
		"it-IT": "IT",
		"en-GB": "EN",
		"fr-CA": "FR",
		"sv-SE": "SV",
	}
	for locale, want := range cases {
		code, err := cultures.SourceCode(locale)
		if err != nil {
			t.Fatalf("SourceCode(%q) error = %v", locale, err)
		}
		if code != want {
			t.Fatalf("SourceCode(%q) = %q, want %q", locale, code, want)
		}
	}

	// Unmapped but parseable locales fall back to the language subtag.
	code, err := cultures.SourceCode("de-AT")
	if err != nil {
		t.Fatalf("SourceCode(de-AT) error = %v", err)
	}
	if code != "DE" {
		t.Fatalf("SourceCode(de-AT) = %q, want DE", code)
	}
}

func TestCultureMapTargetCodeKeepsRegions(t *testing.T) {
	cultures := policy.DefaultCultures()

	code, err := cultures.TargetCode("en-GB")
	if err != nil {
		t.Fatalf("TargetCode(en-GB) error = %v", err)
	}
	if code != "EN-GB" {
		t.Fatalf("TargetCode(en-GB) = %q, want EN-GB", code)
	}

	code, err = cultures.TargetCode("pt-BR")
	if err != nil {
		t.Fatalf("TargetCode(pt-BR) error = %v", err)
	}
	if code != "PT-BR" {
		t.Fatalf("TargetCode(pt-BR) = %q, want PT-BR", code)
	}

	if _, err := cultures.TargetCode("xx-XX"); !errors.Is(err, policy.ErrUnknownLocale) {
		t.Fatalf("expected ErrUnknownLocale, got %v", err)
	}
}
