package locsync

import "github.com/locsync/locsync/internal/runtimeconfig"

// Config aggregates every adapter binding the module needs. Host applications
// start from DefaultConfig and override what differs.
type Config = runtimeconfig.Config

// CMSConfig captures connection and schema settings for the CMS management API.
type CMSConfig = runtimeconfig.CMSConfig

// TranslatorConfig captures settings for the machine translation provider.
type TranslatorConfig = runtimeconfig.TranslatorConfig

// TrackingConfig controls relationship storage and deep reference scanning.
type TrackingConfig = runtimeconfig.TrackingConfig

// HTTPConfig captures the listener settings for the built-in server.
type HTTPConfig = runtimeconfig.HTTPConfig

// RetryConfig bounds retries of idempotent external reads.
type RetryConfig = runtimeconfig.RetryConfig

// LoggingConfig captures provider-specific options for runtime logging.
type LoggingConfig = runtimeconfig.LoggingConfig

// DefaultConfig returns opinionated defaults matching the reference
// deployment.
func DefaultConfig() Config {
	return runtimeconfig.DefaultConfig()
}
