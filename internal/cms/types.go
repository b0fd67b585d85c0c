package cms

import (
	"sort"
	"time"
)

// Sys object type discriminators used by the management API.
const (
	TypeEntry = "Entry"
	TypeAsset = "Asset"
	TypeLink  = "Link"
)

// Field types exposed by content-type schemas.
const (
	FieldTypeSymbol   = "Symbol"
	FieldTypeText     = "Text"
	FieldTypeInteger  = "Integer"
	FieldTypeNumber   = "Number"
	FieldTypeBoolean  = "Boolean"
	FieldTypeDate     = "Date"
	FieldTypeArray    = "Array"
	FieldTypeObject   = "Object"
	FieldTypeLocation = "Location"
	FieldTypeLink     = "Link"
)

// Fields maps a field id to its locale-keyed values. This deployment stores
// everything under a single storage locale; per-language content lives in
// distinct entries.
type Fields map[string]map[string]any

// TypeRef points at a schema object, e.g. sys.contentType on an entry.
type TypeRef struct {
	Sys LinkSys `json:"sys"`
}

// LinkSys is the sys envelope of a link value on the wire.
type LinkSys struct {
	Type     string `json:"type"`
	LinkType string `json:"linkType"`
	ID       string `json:"id"`
}

// Sys carries the system metadata of entries and content types.
type Sys struct {
	ID               string    `json:"id"`
	Type             string    `json:"type,omitempty"`
	Version          int       `json:"version,omitempty"`
	PublishedVersion int       `json:"publishedVersion,omitempty"`
	ContentType      *TypeRef  `json:"contentType,omitempty"`
	CreatedAt        time.Time `json:"createdAt,omitzero"`
	UpdatedAt        time.Time `json:"updatedAt,omitzero"`
}

// Entry is a content object: system metadata plus locale-keyed fields.
type Entry struct {
	Sys    Sys    `json:"sys"`
	Fields Fields `json:"fields"`
}

// ID returns the entry id, empty for nil entries.
func (e *Entry) ID() string {
	if e == nil {
		return ""
	}
	return e.Sys.ID
}

// Version returns the current sys version.
func (e *Entry) Version() int {
	if e == nil {
		return 0
	}
	return e.Sys.Version
}

// ContentTypeID returns the id of the entry's content type, if present.
func (e *Entry) ContentTypeID() string {
	if e == nil || e.Sys.ContentType == nil {
		return ""
	}
	return e.Sys.ContentType.Sys.ID
}

// FieldValue returns the value stored for a field under a locale.
func (e *Entry) FieldValue(fieldID, locale string) (any, bool) {
	if e == nil || e.Fields == nil {
		return nil, false
	}
	locales, ok := e.Fields[fieldID]
	if !ok {
		return nil, false
	}
	value, ok := locales[locale]
	return value, ok
}

// StringField resolves a field to a string under a locale, reporting whether
// it was present and string-typed.
func (e *Entry) StringField(fieldID, locale string) (string, bool) {
	value, ok := e.FieldValue(fieldID, locale)
	if !ok {
		return "", false
	}
	text, ok := value.(string)
	return text, ok
}

// SetFieldValue assigns a value for a field under a locale, allocating the
// intermediate maps as needed.
func (e *Entry) SetFieldValue(fieldID, locale string, value any) {
	if e == nil {
		return
	}
	if e.Fields == nil {
		e.Fields = Fields{}
	}
	locales, ok := e.Fields[fieldID]
	if !ok {
		locales = map[string]any{}
		e.Fields[fieldID] = locales
	}
	locales[locale] = value
}

// FieldIDs returns the entry's field ids in lexical order. Callers that need
// schema order should iterate the content type instead.
func (e *Entry) FieldIDs() []string {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	ids := make([]string, 0, len(e.Fields))
	for id := range e.Fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy of the entry. Mutating the copy never leaks into
// the original, which matters for backups and in-memory fakes.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	copied := &Entry{Sys: e.Sys, Fields: e.Fields.Clone()}
	if e.Sys.ContentType != nil {
		ref := *e.Sys.ContentType
		copied.Sys.ContentType = &ref
	}
	return copied
}

// Clone deep-copies the field map.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	copied := make(Fields, len(f))
	for fieldID, locales := range f {
		copiedLocales := make(map[string]any, len(locales))
		for locale, value := range locales {
			copiedLocales[locale] = DeepCopyValue(value)
		}
		copied[fieldID] = copiedLocales
	}
	return copied
}

// DeepCopyValue copies nested maps and slices; scalars are returned as is.
func DeepCopyValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		copied := make(map[string]any, len(typed))
		for key, nested := range typed {
			copied[key] = DeepCopyValue(nested)
		}
		return copied
	case []any:
		copied := make([]any, len(typed))
		for i, nested := range typed {
			copied[i] = DeepCopyValue(nested)
		}
		return copied
	default:
		return value
	}
}

// ContentType describes an entry schema with its ordered field list.
type ContentType struct {
	Sys          Sys     `json:"sys"`
	Name         string  `json:"name,omitempty"`
	DisplayField string  `json:"displayField,omitempty"`
	Fields       []Field `json:"fields"`
}

// Field describes one schema field.
type Field struct {
	ID          string       `json:"id"`
	Name        string       `json:"name,omitempty"`
	Type        string       `json:"type"`
	LinkType    string       `json:"linkType,omitempty"`
	Required    bool         `json:"required,omitempty"`
	Localized   bool         `json:"localized,omitempty"`
	Disabled    bool         `json:"disabled,omitempty"`
	Validations []Validation `json:"validations,omitempty"`
	Items       *Items       `json:"items,omitempty"`
}

// Items describes the element schema of Array fields.
type Items struct {
	Type        string       `json:"type,omitempty"`
	LinkType    string       `json:"linkType,omitempty"`
	Validations []Validation `json:"validations,omitempty"`
}

// Validation carries the subset of schema validations the engine inspects.
type Validation struct {
	In []any `json:"in,omitempty"`
}

// ID returns the content type id.
func (ct *ContentType) ID() string {
	if ct == nil {
		return ""
	}
	return ct.Sys.ID
}

// Field looks a schema field up by id.
func (ct *ContentType) Field(id string) (Field, bool) {
	if ct == nil {
		return Field{}, false
	}
	for _, field := range ct.Fields {
		if field.ID == id {
			return field, true
		}
	}
	return Field{}, false
}

// IsLinkField reports whether the field holds a link or an array of links.
func (f Field) IsLinkField() bool {
	if f.Type == FieldTypeLink {
		return true
	}
	return f.Type == FieldTypeArray && f.Items != nil && f.Items.Type == FieldTypeLink
}

// EnumSymbols returns the first `in` validation, which the engine uses when a
// required enum field is absent from the source.
func (f Field) EnumSymbols() []any {
	for _, validation := range f.Validations {
		if len(validation.In) > 0 {
			return validation.In
		}
	}
	if f.Items != nil {
		for _, validation := range f.Items.Validations {
			if len(validation.In) > 0 {
				return validation.In
			}
		}
	}
	return nil
}
