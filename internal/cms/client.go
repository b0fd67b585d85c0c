package cms

import (
	"context"
	"errors"
)

var ErrEntryNotFound = errors.New("cms: entry not found")
var ErrContentTypeNotFound = errors.New("cms: content type not found")
var ErrVersionMismatch = errors.New("cms: entry version mismatch")
var ErrEntryIDRequired = errors.New("cms: entry id is required")
var ErrContentTypeIDRequired = errors.New("cms: content type id is required")

// Scope pins a client to one space and environment. Every request the server
// receives names both, so clients are constructed (or re-scoped) per pair.
type Scope struct {
	SpaceID       string
	EnvironmentID string
}

// Query filters entry listings. FieldEquals matches field values stored under
// Locale; keys are field ids, not full JSON paths.
type Query struct {
	ContentType string
	Locale      string
	FieldEquals map[string]string
	Limit       int
}

// Client is the management-API surface the engine and stores depend on.
// Implementations must be safe for concurrent use.
type Client interface {
	GetEntry(ctx context.Context, id string) (*Entry, error)
	GetContentType(ctx context.Context, id string) (*ContentType, error)
	GetEntries(ctx context.Context, query Query) ([]*Entry, error)
	CreateEntry(ctx context.Context, contentTypeID string, fields Fields) (*Entry, error)
	UpdateEntry(ctx context.Context, entry *Entry) (*Entry, error)
	DeleteEntry(ctx context.Context, id string, version int) error
}

// ScopeResolver hands out a client bound to the requested space and
// environment. Single-tenant deployments may return the same client for every
// scope.
type ScopeResolver func(scope Scope) Client
