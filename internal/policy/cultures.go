package policy

import (
	"errors"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

var ErrUnknownProviderCode = errors.New("policy: unknown provider language code")
var ErrUnknownLocale = errors.New("policy: locale has no provider language code")

// CultureMap translates between provider language codes (DE, IT, EN-GB) and
// the locale tags the CMS stores on culture fields (de-DE, it-IT, en-GB).
type CultureMap struct {
	toLocale map[string]string
	toCode   map[string]string
}

// DefaultCultures returns the mapping of the reference deployment.
func DefaultCultures() *CultureMap {
	return NewCultureMap(map[string]string{
		"DE":    "de-DE",
		"IT":    "it-IT",
		"EN":    "en-GB",
		"EN-GB": "en-GB",
		"EN-US": "en-US",
		"FR":    "fr-FR",
		"FR-CA": "fr-CA",
		"ES":    "es-ES",
		"NL":    "nl-NL",
		"NL-BE": "nl-BE",
		"PT-PT": "pt-PT",
		"PT-BR": "pt-BR",
		"PL":    "pl-PL",
		"SV":    "sv-SE",
		"DA":    "da-DK",
	})
}

// NewCultureMap builds a culture map from provider code to stored locale tag.
// The inverse index keeps the first code registered for each locale, so
// ambiguous locales (en-GB serves both EN and EN-GB) resolve predictably.
func NewCultureMap(codes map[string]string) *CultureMap {
	cultures := &CultureMap{
		toLocale: make(map[string]string, len(codes)),
		toCode:   make(map[string]string, len(codes)),
	}
	// Deterministic insertion: regional codes first so the inverse index
	// prefers EN-GB over the bare EN when both name the same locale. DeepL
	// rejects bare EN as a translation target.
	ordered := make([]string, 0, len(codes))
	for code := range codes {
		ordered = append(ordered, code)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if len(ordered[i]) != len(ordered[j]) {
			return len(ordered[i]) > len(ordered[j])
		}
		return ordered[i] < ordered[j]
	})
	for _, code := range ordered {
		normalized := normalizeCode(code)
		locale := codes[code]
		cultures.toLocale[normalized] = locale
		key := normalizeLocale(locale)
		if _, exists := cultures.toCode[key]; !exists {
			cultures.toCode[key] = normalized
		}
	}
	return cultures
}

// Locale resolves a provider language code to the stored locale tag.
func (m *CultureMap) Locale(code string) (string, error) {
	if m == nil {
		return "", ErrUnknownProviderCode
	}
	locale, ok := m.toLocale[normalizeCode(code)]
	if !ok {
		return "", ErrUnknownProviderCode
	}
	return locale, nil
}

// SourceCode resolves a stored locale tag to the provider code used as a
// translation source. Provider source codes never carry a region, so de-DE
// and de-AT both resolve to DE.
func (m *CultureMap) SourceCode(locale string) (string, error) {
	if m == nil {
		return "", ErrUnknownLocale
	}
	if code, ok := m.toCode[normalizeLocale(locale)]; ok {
		return baseCode(code), nil
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return "", ErrUnknownLocale
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return "", ErrUnknownLocale
	}
	return strings.ToUpper(base.String()), nil
}

// TargetCode resolves a stored locale tag to the provider code used as a
// translation target, keeping regional variants (pt-PT stays PT-PT).
func (m *CultureMap) TargetCode(locale string) (string, error) {
	if m == nil {
		return "", ErrUnknownLocale
	}
	if code, ok := m.toCode[normalizeLocale(locale)]; ok {
		return code, nil
	}
	return "", ErrUnknownLocale
}

func baseCode(code string) string {
	if idx := strings.IndexByte(code, '-'); idx > 0 {
		return code[:idx]
	}
	return code
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func normalizeLocale(locale string) string {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(locale))
	}
	return strings.ToLower(tag.String())
}
