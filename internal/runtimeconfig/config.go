package runtimeconfig

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrManagementTokenRequired = errors.New("locsync config: CMS management token is required")
var ErrSpaceIDRequired = errors.New("locsync config: CMS space id is required")
var ErrTranslatorKeyRequired = errors.New("locsync config: translator API key is required")
var ErrStorageLocaleRequired = errors.New("locsync config: storage locale is required")
var ErrTrackingProviderUnknown = errors.New("locsync config: tracking provider is invalid")
var ErrTrackingDirRequired = errors.New("locsync config: tracking directory is required for the file provider")
var ErrTrackingDSNRequired = errors.New("locsync config: tracking DSN is required for database providers")
var ErrMaxDepthInvalid = errors.New("locsync config: tracking max depth must be at least 1")
var ErrHTTPPortInvalid = errors.New("locsync config: http port must be between 1 and 65535")
var ErrRetryAttemptsInvalid = errors.New("locsync config: retry attempts must be at least 1")
var ErrCallTimeoutInvalid = errors.New("locsync config: call timeout must be positive")
var ErrLoggingProviderRequired = errors.New("locsync config: logging provider is required")
var ErrLoggingProviderUnknown = errors.New("locsync config: logging provider is invalid")
var ErrLoggingLevelInvalid = errors.New("locsync config: logging level is invalid")
var ErrLoggingFormatInvalid = errors.New("locsync config: logging format is invalid")

// Config aggregates adapter bindings for the locsync module. Fields
// intentionally use simple types so host applications can extend them later.
type Config struct {
	CMS        CMSConfig
	Translator TranslatorConfig
	Tracking   TrackingConfig
	HTTP       HTTPConfig
	Retry      RetryConfig
	Logging    LoggingConfig
}

// CMSConfig captures connection and schema settings for the headless CMS
// management API.
type CMSConfig struct {
	BaseURL             string
	SpaceID             string
	EnvironmentID       string
	ManagementToken     string
	StorageLocale       string
	MetadataContentType string
	PageContentType     string
	CallTimeout         time.Duration
}

// TranslatorConfig captures settings for the machine translation provider.
type TranslatorConfig struct {
	BaseURL           string
	APIKey            string
	CallTimeout       time.Duration
	LanguageCacheTTL  time.Duration
	LanguageCacheSize int
}

// TrackingConfig controls where relationship records and reference tree
// snapshots live when the CMS-backed store is unavailable, plus the bounds of
// deep reference scanning.
type TrackingConfig struct {
	Provider             string
	Dir                  string
	DSN                  string
	MaxDepth             int
	AutoTranslateNewRefs bool
}

// HTTPConfig captures the listener settings for the built-in server.
type HTTPConfig struct {
	Port int
}

// RetryConfig bounds retries of idempotent external reads.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
}

// LoggingConfig captures provider-specific options for runtime logging.
type LoggingConfig struct {
	Provider  string
	Level     string
	Format    string
	AddSource bool
	Focus     []string
}

// DefaultConfig returns opinionated defaults matching the reference
// deployment.
func DefaultConfig() Config {
	return Config{
		CMS: CMSConfig{
			BaseURL:             "https://api.contentful.com",
			EnvironmentID:       "master",
			StorageLocale:       "en-US-POSIX",
			MetadataContentType: "translationMetadata",
			PageContentType:     "cmsPage",
			CallTimeout:         30 * time.Second,
		},
		Translator: TranslatorConfig{
			BaseURL:           "https://api.deepl.com",
			CallTimeout:       30 * time.Second,
			LanguageCacheTTL:  time.Hour,
			LanguageCacheSize: 8,
		},
		Tracking: TrackingConfig{
			Provider:             "file",
			Dir:                  "translation-tracking",
			MaxDepth:             3,
			AutoTranslateNewRefs: true,
		},
		HTTP: HTTPConfig{
			Port: 3001,
		},
		Retry: RetryConfig{
			Attempts: 3,
			Delay:    500 * time.Millisecond,
			MaxDelay: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Provider: "console",
			Level:    "info",
			Format:   "",
		},
	}
}

// Validate performs high-level consistency checks. Credentials are checked
// separately so embedded deployments with injected clients stay valid.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.CMS.StorageLocale) == "" {
		return ErrStorageLocaleRequired
	}
	if cfg.CMS.CallTimeout <= 0 || cfg.Translator.CallTimeout <= 0 {
		return ErrCallTimeoutInvalid
	}
	provider := normalizeProvider(cfg.Tracking.Provider)
	switch provider {
	case "file":
		if strings.TrimSpace(cfg.Tracking.Dir) == "" {
			return ErrTrackingDirRequired
		}
	case "sqlite", "postgres":
		if strings.TrimSpace(cfg.Tracking.DSN) == "" {
			return ErrTrackingDSNRequired
		}
	default:
		return fmt.Errorf("%w: %s", ErrTrackingProviderUnknown, provider)
	}
	if cfg.Tracking.MaxDepth < 1 {
		return ErrMaxDepthInvalid
	}
	if cfg.HTTP.Port < 1 || cfg.HTTP.Port > 65535 {
		return ErrHTTPPortInvalid
	}
	if cfg.Retry.Attempts < 1 {
		return ErrRetryAttemptsInvalid
	}

	logProvider := normalizeProvider(cfg.Logging.Provider)
	if logProvider == "" {
		return ErrLoggingProviderRequired
	}
	if !isSupportedLoggingProvider(logProvider) {
		return fmt.Errorf("%w: %s", ErrLoggingProviderUnknown, logProvider)
	}
	if level := strings.TrimSpace(cfg.Logging.Level); level != "" && !isSupportedLevel(level) {
		return fmt.Errorf("%w: %s", ErrLoggingLevelInvalid, level)
	}
	if logProvider == "gologger" {
		if format := strings.TrimSpace(cfg.Logging.Format); format != "" && !isSupportedFormat(format) {
			return fmt.Errorf("%w: %s", ErrLoggingFormatInvalid, format)
		}
	}
	return nil
}

// ValidateCredentials ensures the secrets needed to reach the external
// services are present. The server binary calls this at startup; embedded
// deployments that inject their own clients may skip it.
func (cfg Config) ValidateCredentials() error {
	if strings.TrimSpace(cfg.CMS.ManagementToken) == "" {
		return ErrManagementTokenRequired
	}
	if strings.TrimSpace(cfg.CMS.SpaceID) == "" {
		return ErrSpaceIDRequired
	}
	if strings.TrimSpace(cfg.Translator.APIKey) == "" {
		return ErrTranslatorKeyRequired
	}
	return nil
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

func isSupportedLoggingProvider(provider string) bool {
	switch provider {
	case "console", "gologger", "noop":
		return true
	default:
		return false
	}
}

func isSupportedLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal":
		return true
	default:
		return false
	}
}

func isSupportedFormat(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json", "console", "pretty":
		return true
	default:
		return false
	}
}
