package logging

import (
	"context"
	"strings"

	"github.com/locsync/locsync/pkg/interfaces"
)

const (
	rootModule      = "locsync"
	engineModule    = "locsync.engine"
	trackerModule   = "locsync.tracker"
	storeModule     = "locsync.store"
	cmsModule       = "locsync.cms"
	translateModule = "locsync.translate"
	markdownModule  = "locsync.markdown"
	httpModule      = "locsync.http"
)

const (
	fieldSourceEntry  = "source_entry_id"
	fieldTargetEntry  = "target_entry_id"
	fieldTargetLocale = "target_locale"
)

// ModuleLogger returns a module-scoped logger, defaulting to a no-op
// implementation when no provider is supplied. The returned logger attaches
// the module identifier as structured context so downstream entries can be
// filtered predictably.
func ModuleLogger(provider interfaces.LoggerProvider, module string) interfaces.Logger {
	if module == "" {
		module = rootModule
	}

	logger := NoOp()
	if provider != nil {
		if provided := provider.GetLogger(module); provided != nil {
			logger = provided
		}
	}

	if fieldsLogger, ok := logger.(interfaces.FieldsLogger); ok {
		return fieldsLogger.WithFields(map[string]any{
			"module": module,
		})
	}

	return WithFields(logger, map[string]any{
		"module": module,
	})
}

// EngineLogger returns the logger namespace reserved for the clone and
// incremental translation engine.
func EngineLogger(provider interfaces.LoggerProvider) interfaces.Logger {
	return ModuleLogger(provider, engineModule)
}

// TrackerLogger returns the logger namespace reserved for reference tracking.
func TrackerLogger(provider interfaces.LoggerProvider) interfaces.Logger {
	return ModuleLogger(provider, trackerModule)
}

// StoreLogger returns the logger namespace reserved for relationship storage.
func StoreLogger(provider interfaces.LoggerProvider) interfaces.Logger {
	return ModuleLogger(provider, storeModule)
}

// CMSLogger returns the logger namespace reserved for the CMS client.
func CMSLogger(provider interfaces.LoggerProvider) interfaces.Logger {
	return ModuleLogger(provider, cmsModule)
}

// TranslateLogger returns the logger namespace reserved for translation calls.
func TranslateLogger(provider interfaces.LoggerProvider) interfaces.Logger {
	return ModuleLogger(provider, translateModule)
}

// MarkdownLogger returns the logger namespace reserved for markdown handling.
func MarkdownLogger(provider interfaces.LoggerProvider) interfaces.Logger {
	return ModuleLogger(provider, markdownModule)
}

// HTTPLogger returns the logger namespace reserved for the HTTP surface.
func HTTPLogger(provider interfaces.LoggerProvider) interfaces.Logger {
	return ModuleLogger(provider, httpModule)
}

// WithRelationshipContext enriches the provided logger with the entry pair the
// current operation works on. Empty values are ignored.
func WithRelationshipContext(logger interfaces.Logger, sourceID, targetID, targetLocale string) interfaces.Logger {
	fields := map[string]any{}
	if trimmed := strings.TrimSpace(sourceID); trimmed != "" {
		fields[fieldSourceEntry] = trimmed
	}
	if trimmed := strings.TrimSpace(targetID); trimmed != "" {
		fields[fieldTargetEntry] = trimmed
	}
	if trimmed := strings.TrimSpace(targetLocale); trimmed != "" {
		fields[fieldTargetLocale] = trimmed
	}
	return WithFields(logger, fields)
}

// NoOp returns a logger that drops every log entry. It satisfies the Logger
// contract so services can safely operate when logging is disabled.
func NoOp() interfaces.Logger {
	return noopLogger{}
}

type noopLogger struct{}

var _ interfaces.Logger = noopLogger{}

func (noopLogger) Trace(string, ...any) {}
func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Fatal(string, ...any) {}

func (n noopLogger) WithFields(map[string]any) interfaces.Logger {
	return n
}

func (n noopLogger) WithContext(context.Context) interfaces.Logger {
	return n
}
