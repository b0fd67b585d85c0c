package engine

import (
	"context"
	"strings"

	"github.com/locsync/locsync/internal/cms"
	"github.com/locsync/locsync/internal/translate"
)

// translateText translates one string best-effort. Texts shorter than two
// non-space characters pass through untouched. A leading clone prefix is
// detached before the provider call and re-prepended byte-for-byte, so the
// prefix survives any number of translation rounds.
func (e *Engine) translateText(ctx context.Context, text, sourceLang, targetLang string) string {
	if nonSpaceCount(text) < 2 {
		return text
	}

	prefix := e.policy.ClonePrefix
	if prefix != "" && strings.HasPrefix(text, prefix) {
		rest := strings.TrimPrefix(text, prefix)
		return prefix + e.translateText(ctx, rest, sourceLang, targetLang)
	}

	translated, err := e.provider.Translate(ctx, text, sourceLang, targetLang, translate.Options{})
	if err != nil {
		e.logger.Warn("text translation failed, keeping source", "error", err)
		return text
	}
	return translated
}

// translateTextValue translates a plain-text field value: strings directly,
// string arrays element-wise. Other shapes pass through.
func (e *Engine) translateTextValue(ctx context.Context, value any, sourceLang, targetLang string) any {
	switch typed := value.(type) {
	case string:
		return e.translateText(ctx, typed, sourceLang, targetLang)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			if text, ok := item.(string); ok {
				out[i] = e.translateText(ctx, text, sourceLang, targetLang)
				continue
			}
			out[i] = cms.DeepCopyValue(item)
		}
		return out
	default:
		return cms.DeepCopyValue(value)
	}
}

// translateMarkdownValue runs a markdown field value through the image-safe
// pipeline: strings as one document, bullet-list arrays element-wise.
func (e *Engine) translateMarkdownValue(ctx context.Context, value any, sourceLang, targetLang string) any {
	switch typed := value.(type) {
	case string:
		return e.markdown.Translate(ctx, typed, sourceLang, targetLang)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			if text, ok := item.(string); ok {
				out[i] = e.markdown.Translate(ctx, text, sourceLang, targetLang)
				continue
			}
			out[i] = cms.DeepCopyValue(item)
		}
		return out
	default:
		return cms.DeepCopyValue(value)
	}
}
