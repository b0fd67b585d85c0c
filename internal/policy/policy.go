package policy

import (
	"strings"
	"time"

	"github.com/locsync/locsync/internal/cms"
)

// FieldKind is the behaviour class the engine dispatches on. Classification
// happens once per (content type, field) pair; the engine never re-inspects
// field ids after that.
type FieldKind int

const (
	// KindOpaque fields carry no translatable text and no links; values pass
	// through untouched.
	KindOpaque FieldKind = iota
	// KindAuthorLink fields are re-pointed at an existing target-culture
	// author when one matches.
	KindAuthorLink
	// KindEmptyOnClone fields receive a typed empty value on the clone.
	KindEmptyOnClone
	// KindCopyAsIs fields are processed only for link rewriting.
	KindCopyAsIs
	// KindCulture fields receive the target locale tag.
	KindCulture
	// KindMarkdown fields go through the markdown-safe translation path.
	KindMarkdown
	// KindText fields hold plain translatable strings.
	KindText
	// KindLink fields reference other entries or assets.
	KindLink
)

func (k FieldKind) String() string {
	switch k {
	case KindAuthorLink:
		return "author"
	case KindEmptyOnClone:
		return "empty"
	case KindCopyAsIs:
		return "copy"
	case KindCulture:
		return "culture"
	case KindMarkdown:
		return "markdown"
	case KindText:
		return "text"
	case KindLink:
		return "link"
	default:
		return "opaque"
	}
}

// Policy aggregates every field-handling table. It is an immutable value:
// request-level overrides clone it instead of mutating process state.
type Policy struct {
	// ClonePrefix is prepended to PrefixFields on first clone and preserved
	// byte-for-byte across later translation rounds.
	ClonePrefix  string
	PrefixFields map[string]bool

	EmptyOnClone map[string]bool
	CopyAsIs     map[string]bool

	AuthorFields      map[string]bool
	AuthorContentType string
	AuthorNameField   string
	AuthorLocaleField string

	// MarkdownFields maps content type id to the field ids translated through
	// the markdown pipeline.
	MarkdownFields map[string]map[string]bool

	// NonTranslatable lists field ids whose text never reaches the
	// translator and never participates in content hashing.
	NonTranslatable map[string]bool

	// Untracked lists link-field ids the reference tracker does not follow.
	Untracked map[string]bool

	cultureSubstring string
	Cultures         *CultureMap
}

// Default returns the policy tables of the reference deployment.
func Default() Policy {
	return Policy{
		ClonePrefix:  "[Clone] ",
		PrefixFields: set("title"),
		EmptyOnClone: set("slug", "parentPage", "productionUrl", "authors"),
		CopyAsIs: set(
			"domain", "pageType", "productionUrl", "makeModel",
			"publicationDate", "lastModificationDate",
			"makeIds", "modelIds", "trackingName",
		),
		AuthorFields:      set("authors"),
		AuthorContentType: "author",
		AuthorNameField:   "name",
		AuthorLocaleField: "locale",
		MarkdownFields: map[string]map[string]bool{
			"cmsPage":     set("teaserText"),
			"scText":      set("content"),
			"scSuperhero": set("text", "bulletList"),
		},
		NonTranslatable: set(
			"slug", "internalName", "culture", "domain", "pageType",
			"publicationDate", "lastModificationDate", "trackingName",
			"fieldStatus", "automationTags", "makeIds", "modelIds",
			"makeModel", "parentPage", "productionUrl",
		),
		Untracked: set(
			"parentPage", "authors", "makeModel", "makeIds", "modelIds",
			"trackingName", "internalName", "fieldStatus", "automationTags",
			"culture", "domain", "pageType",
		),
		cultureSubstring: "culture",
		Cultures:         DefaultCultures(),
	}
}

func set(ids ...string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

// Clone deep-copies the policy so request overrides stay request-local.
func (p Policy) Clone() Policy {
	copied := p
	copied.PrefixFields = copySet(p.PrefixFields)
	copied.EmptyOnClone = copySet(p.EmptyOnClone)
	copied.CopyAsIs = copySet(p.CopyAsIs)
	copied.AuthorFields = copySet(p.AuthorFields)
	copied.NonTranslatable = copySet(p.NonTranslatable)
	copied.Untracked = copySet(p.Untracked)
	copied.MarkdownFields = make(map[string]map[string]bool, len(p.MarkdownFields))
	for contentType, fields := range p.MarkdownFields {
		copied.MarkdownFields[contentType] = copySet(fields)
	}
	return copied
}

func copySet(src map[string]bool) map[string]bool {
	if src == nil {
		return nil
	}
	out := make(map[string]bool, len(src))
	for key, value := range src {
		out[key] = value
	}
	return out
}

// Classify resolves the behaviour class of one schema field. Precedence:
// author link before empty-on-clone, so configured author re-linking wins
// when a field id sits in both tables.
func (p Policy) Classify(contentTypeID string, field cms.Field) FieldKind {
	if p.AuthorFields[field.ID] && field.IsLinkField() {
		return KindAuthorLink
	}
	if p.EmptyOnClone[field.ID] {
		return KindEmptyOnClone
	}
	if p.IsCultureField(field.ID) {
		return KindCulture
	}
	if p.CopyAsIs[field.ID] {
		return KindCopyAsIs
	}
	if fields, ok := p.MarkdownFields[contentTypeID]; ok && fields[field.ID] {
		return KindMarkdown
	}
	if field.IsLinkField() {
		return KindLink
	}
	switch field.Type {
	case cms.FieldTypeSymbol, cms.FieldTypeText:
		return KindText
	case cms.FieldTypeArray:
		// Arrays of symbols are translatable element-wise.
		if field.Items != nil && (field.Items.Type == cms.FieldTypeSymbol || field.Items.Type == cms.FieldTypeText) {
			return KindText
		}
		return KindOpaque
	default:
		return KindOpaque
	}
}

// IsCultureField reports whether the field id names the entry's stored
// locale.
func (p Policy) IsCultureField(fieldID string) bool {
	needle := p.cultureSubstring
	if needle == "" {
		needle = "culture"
	}
	return strings.Contains(strings.ToLower(fieldID), needle)
}

// HasPrefix reports whether a field receives the clone prefix. Only scalar
// string fields qualify.
func (p Policy) HasPrefix(field cms.Field) bool {
	if !p.PrefixFields[field.ID] {
		return false
	}
	return field.Type == cms.FieldTypeSymbol || field.Type == cms.FieldTypeText
}

// IsTrackable reports whether the tracker follows a link field.
func (p Policy) IsTrackable(fieldID string) bool {
	return !p.Untracked[fieldID]
}

// Translatable reports whether a field's value produces translation work:
// text-bearing kind, not denylisted, and resolving to a non-empty string (or
// string list) in some locale.
func (p Policy) Translatable(contentTypeID string, field cms.Field, locales map[string]any) bool {
	if p.NonTranslatable[field.ID] {
		return false
	}
	switch p.Classify(contentTypeID, field) {
	case KindText, KindMarkdown:
	default:
		return false
	}
	for _, value := range locales {
		if hasTranslatableText(value) {
			return true
		}
	}
	return false
}

func hasTranslatableText(value any) bool {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed) != ""
	case []any:
		for _, item := range typed {
			if text, ok := item.(string); ok && strings.TrimSpace(text) != "" {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// EmptyValue synthesizes the typed empty for a field shape. The second
// return is false when the shape has no typed empty (links, numbers, dates).
func EmptyValue(field cms.Field) (any, bool) {
	switch field.Type {
	case cms.FieldTypeSymbol, cms.FieldTypeText:
		return "", true
	case cms.FieldTypeArray:
		return []any{}, true
	case cms.FieldTypeObject:
		return map[string]any{}, true
	default:
		return nil, false
	}
}

// TypedDefault synthesizes a value for a required field absent from the
// source: the first enum symbol when the schema constrains values, otherwise
// a zero of the field's type. Links have no default.
func TypedDefault(field cms.Field, now time.Time) (any, bool) {
	if symbols := field.EnumSymbols(); len(symbols) > 0 {
		if field.Type == cms.FieldTypeArray {
			return []any{symbols[0]}, true
		}
		return symbols[0], true
	}
	switch field.Type {
	case cms.FieldTypeSymbol, cms.FieldTypeText:
		return "", true
	case cms.FieldTypeInteger, cms.FieldTypeNumber:
		return 0, true
	case cms.FieldTypeBoolean:
		return false, true
	case cms.FieldTypeDate:
		return now.UTC().Format(time.RFC3339), true
	case cms.FieldTypeArray:
		return []any{}, true
	case cms.FieldTypeObject:
		return map[string]any{}, true
	default:
		return nil, false
	}
}
