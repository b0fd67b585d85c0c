package translate

import (
	"context"
	"errors"
)

var ErrAPIKeyRequired = errors.New("translate: api key is required")
var ErrEmptyText = errors.New("translate: text is empty")
var ErrTargetLanguageRequired = errors.New("translate: target language is required")

// Options tune a single translation call. PreserveFormatting asks the
// provider to respect line breaks and punctuation; TagHandling protects
// markup (the markdown pipeline sends "xml").
type Options struct {
	PreserveFormatting bool
	TagHandling        string
}

// Usage reports consumed and allowed characters for the billing period.
type Usage struct {
	CharacterCount int64 `json:"character_count"`
	CharacterLimit int64 `json:"character_limit"`
}

// Language describes one provider language.
type Language struct {
	Code              string `json:"language"`
	Name              string `json:"name"`
	SupportsFormality bool   `json:"supports_formality,omitempty"`
}

// Translator is the machine-translation surface the engine depends on. Every
// call is best-effort from the engine's point of view: callers keep the
// source text when a call fails.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string, opts Options) (string, error)
	Usage(ctx context.Context) (Usage, error)
	SourceLanguages(ctx context.Context) ([]Language, error)
	TargetLanguages(ctx context.Context) ([]Language, error)
}
