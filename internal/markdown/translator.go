package markdown

import (
	"context"

	"github.com/locsync/locsync/internal/logging"
	"github.com/locsync/locsync/internal/translate"
	"github.com/locsync/locsync/pkg/interfaces"
)

// Translator runs markdown documents through the machine translator without
// disturbing their structure: image blocks are replaced with placeholder
// tokens, the body is translated in one tag-safe call, captions are
// translated independently, and the blocks are reassembled around the
// original URLs.
type Translator struct {
	provider translate.Translator
	logger   interfaces.Logger
}

// TranslatorOption customizes the markdown translator.
type TranslatorOption func(*Translator)

// WithLogger attaches a logger.
func WithLogger(logger interfaces.Logger) TranslatorOption {
	return func(t *Translator) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTranslator wires a markdown translator over the given provider.
func NewTranslator(provider translate.Translator, opts ...TranslatorOption) *Translator {
	translator := &Translator{
		provider: provider,
		logger:   logging.NoOp(),
	}
	for _, opt := range opts {
		opt(translator)
	}
	return translator
}

// Translate returns the translated document. Failures never propagate: a
// body failure returns the source document, a caption failure restores that
// block verbatim, and a document whose image URLs drift during translation
// is discarded in favour of the source.
func (t *Translator) Translate(ctx context.Context, document, sourceLang, targetLang string) string {
	if document == "" {
		return document
	}

	body, refs := ExtractImages(document)

	translatedBody, err := t.provider.Translate(ctx, body, sourceLang, targetLang, translate.Options{
		PreserveFormatting: true,
		TagHandling:        "xml",
	})
	if err != nil {
		t.logger.Warn("markdown body translation failed, keeping source", "error", err)
		return document
	}

	for i := range refs {
		caption := refs[i].Caption
		if caption == "" {
			continue
		}
		translatedCaption, err := t.provider.Translate(ctx, caption, sourceLang, targetLang, translate.Options{})
		if err != nil {
			t.logger.Warn("image caption translation failed, keeping original block", "caption", caption, "error", err)
			continue
		}
		refs[i].Caption = translatedCaption
	}

	translated := RestoreImages(translatedBody, refs)

	if !SameImageURLs(document, translated) {
		t.logger.Warn("translated markdown dropped or altered image urls, keeping source")
		return document
	}
	return translated
}
