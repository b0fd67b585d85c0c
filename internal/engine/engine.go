package engine

import (
	"errors"
	"strings"
	"unicode"

	"github.com/juju/clock"

	"github.com/locsync/locsync/internal/cms"
	"github.com/locsync/locsync/internal/logging"
	"github.com/locsync/locsync/internal/markdown"
	"github.com/locsync/locsync/internal/policy"
	"github.com/locsync/locsync/internal/refgraph"
	"github.com/locsync/locsync/internal/relation"
	"github.com/locsync/locsync/internal/translate"
	"github.com/locsync/locsync/pkg/interfaces"
)

var ErrSourceEntryRequired = errors.New("engine: source entry id is required")
var ErrTargetEntryRequired = errors.New("engine: target entry id is required")
var ErrTargetLanguageRequired = errors.New("engine: target language is required")
var ErrSourceLanguageRequired = errors.New("engine: source language is required for this content type")
var ErrSourceCultureMissing = errors.New("engine: source entry has no culture value")

// Engine orchestrates recursive clones and incremental updates. It is
// stateless: every run carries its own clone map, processing set, and schema
// cache, so concurrent requests on distinct relationship ids are safe. The
// HTTP layer serializes requests sharing one relationship id.
type Engine struct {
	resolve  cms.ScopeResolver
	provider translate.Translator
	markdown *markdown.Translator
	store    relation.Store
	tracker  *refgraph.Tracker
	policy   policy.Policy

	storageLocale        string
	pageContentType      string
	autoTranslateNewRefs bool

	logger interfaces.Logger
	clk    clock.Clock
}

// Option customizes an Engine.
type Option func(*Engine)

// WithStorageLocale overrides the locale all field values are stored under.
func WithStorageLocale(locale string) Option {
	return func(e *Engine) {
		if strings.TrimSpace(locale) != "" {
			e.storageLocale = locale
		}
	}
}

// WithPageContentType overrides the content type whose culture field drives
// source-language auto-detection.
func WithPageContentType(contentType string) Option {
	return func(e *Engine) {
		if strings.TrimSpace(contentType) != "" {
			e.pageContentType = contentType
		}
	}
}

// WithAutoTranslateNewRefs controls whether incremental updates clone
// references that appeared since the last translated version.
func WithAutoTranslateNewRefs(enabled bool) Option {
	return func(e *Engine) {
		e.autoTranslateNewRefs = enabled
	}
}

// WithLogger attaches a logger.
func WithLogger(logger interfaces.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the clock used for timestamps and typed date defaults.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) {
		if clk != nil {
			e.clk = clk
		}
	}
}

// New wires an engine over the scoped CMS clients, the translation provider,
// the relationship store, and the reference tracker.
func New(resolve cms.ScopeResolver, provider translate.Translator, store relation.Store, tracker *refgraph.Tracker, pol policy.Policy, opts ...Option) *Engine {
	eng := &Engine{
		resolve:              resolve,
		provider:             provider,
		store:                store,
		tracker:              tracker,
		policy:               pol,
		storageLocale:        "en-US-POSIX",
		pageContentType:      "cmsPage",
		autoTranslateNewRefs: true,
		logger:               logging.NoOp(),
		clk:                  clock.WallClock,
	}
	for _, opt := range opts {
		opt(eng)
	}
	eng.markdown = markdown.NewTranslator(provider, markdown.WithLogger(eng.logger))
	return eng
}

func (e *Engine) clientFor(scope cms.Scope) cms.Client {
	return e.resolve(scope)
}

// detectSourceLanguage reads the source entry's culture field and maps it to
// a provider code. Only roots of the configured page content type qualify;
// everything else must name its source language explicitly.
func (e *Engine) detectSourceLanguage(schema *cms.ContentType, entry *cms.Entry) (string, error) {
	if entry.ContentTypeID() != e.pageContentType {
		return "", ErrSourceLanguageRequired
	}
	for _, field := range schemaOrderedFields(schema, entry) {
		if !e.policy.IsCultureField(field.ID) {
			continue
		}
		locale, ok := entry.StringField(field.ID, e.storageLocale)
		if !ok || strings.TrimSpace(locale) == "" {
			continue
		}
		code, err := e.policy.Cultures.SourceCode(locale)
		if err != nil {
			return "", err
		}
		return code, nil
	}
	return "", ErrSourceCultureMissing
}

// schemaOrderedFields returns the schema's ordered field list, falling back
// to the entry's lexical field order when no schema is available.
func schemaOrderedFields(schema *cms.ContentType, entry *cms.Entry) []cms.Field {
	if schema != nil {
		return schema.Fields
	}
	ids := entry.FieldIDs()
	fields := make([]cms.Field, 0, len(ids))
	for _, id := range ids {
		fields = append(fields, cms.Field{ID: id})
	}
	return fields
}

// nonSpaceCount counts the characters that carry translation work.
func nonSpaceCount(text string) int {
	count := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			count++
		}
	}
	return count
}
