// Package locsync clones CMS entry graphs into new language variants and
// keeps the clones current through incremental, field-level retranslation.
// The package wires the engine, the relationship store, the reference
// tracker, and the HTTP surface from a single Config; every adapter can be
// replaced through options for embedded deployments and tests.
package locsync

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/juju/clock"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/locsync/locsync/internal/cms"
	"github.com/locsync/locsync/internal/engine"
	"github.com/locsync/locsync/internal/httpapi"
	"github.com/locsync/locsync/internal/logging"
	"github.com/locsync/locsync/internal/logging/console"
	"github.com/locsync/locsync/internal/logging/gologger"
	"github.com/locsync/locsync/internal/policy"
	"github.com/locsync/locsync/internal/refgraph"
	"github.com/locsync/locsync/internal/relation"
	"github.com/locsync/locsync/internal/runtimeconfig"
	"github.com/locsync/locsync/internal/translate"
	"github.com/locsync/locsync/pkg/interfaces"
)

// Module is the assembled translation service: engine, store, tracker, and
// HTTP API behind one handle.
type Module struct {
	cfg      Config
	provider interfaces.LoggerProvider
	clk      clock.Clock

	client     cms.Client
	resolver   cms.ScopeResolver
	translator translate.Translator
	store      relation.Store
	bunStore   *relation.BunStore
	db         *bun.DB
	tracker    *refgraph.Tracker
	engine     *engine.Engine
	api        *httpapi.API
}

// Option overrides one of the module's adapters before wiring.
type Option func(*Module)

// WithCMSClient injects a CMS client, skipping the HTTP client construction.
// The injected client serves every scope.
func WithCMSClient(client cms.Client) Option {
	return func(m *Module) {
		if client != nil {
			m.client = client
			m.resolver = func(cms.Scope) cms.Client { return client }
		}
	}
}

// WithTranslator injects a translation provider, skipping the DeepL client.
func WithTranslator(translator translate.Translator) Option {
	return func(m *Module) {
		if translator != nil {
			m.translator = translator
		}
	}
}

// WithStore injects a relationship store, skipping provider selection.
func WithStore(store relation.Store) Option {
	return func(m *Module) {
		if store != nil {
			m.store = store
		}
	}
}

// WithLoggerProvider injects a logger provider, skipping the one described by
// Config.Logging.
func WithLoggerProvider(provider interfaces.LoggerProvider) Option {
	return func(m *Module) {
		if provider != nil {
			m.provider = provider
		}
	}
}

// WithClock overrides the clock driving timestamps and retry backoff.
func WithClock(clk clock.Clock) Option {
	return func(m *Module) {
		if clk != nil {
			m.clk = clk
		}
	}
}

// New validates cfg and assembles the module. Adapters not supplied through
// options are built from cfg, so a bare New(DefaultConfig()) needs the CMS
// and translator credentials set.
func New(cfg Config, opts ...Option) (*Module, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Module{cfg: cfg, clk: clock.WallClock}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	if m.provider == nil {
		provider, err := buildLoggerProvider(cfg.Logging)
		if err != nil {
			return nil, err
		}
		m.provider = provider
	}

	if m.client == nil {
		client, err := cms.NewHTTPClient(cms.HTTPClientConfig{
			BaseURL: cfg.CMS.BaseURL,
			Token:   cfg.CMS.ManagementToken,
			Scope: cms.Scope{
				SpaceID:       cfg.CMS.SpaceID,
				EnvironmentID: cfg.CMS.EnvironmentID,
			},
			CallTimeout:   cfg.CMS.CallTimeout,
			RetryAttempts: cfg.Retry.Attempts,
			RetryDelay:    cfg.Retry.Delay,
			RetryMaxDelay: cfg.Retry.MaxDelay,
		}, cms.WithHTTPLogger(logging.CMSLogger(m.provider)), cms.WithHTTPClock(m.clk))
		if err != nil {
			return nil, err
		}
		m.client = client
		m.resolver = m.scopedResolver()
	}

	if m.translator == nil {
		translator, err := translate.NewDeepLClient(translate.DeepLConfig{
			BaseURL:       cfg.Translator.BaseURL,
			APIKey:        cfg.Translator.APIKey,
			CallTimeout:   cfg.Translator.CallTimeout,
			RetryAttempts: cfg.Retry.Attempts,
			RetryDelay:    cfg.Retry.Delay,
			RetryMaxDelay: cfg.Retry.MaxDelay,
			CacheTTL:      cfg.Translator.LanguageCacheTTL,
			CacheSize:     cfg.Translator.LanguageCacheSize,
		}, translate.WithDeepLLogger(logging.TranslateLogger(m.provider)), translate.WithDeepLClock(m.clk))
		if err != nil {
			return nil, err
		}
		m.translator = translator
	}

	if m.store == nil {
		store, err := m.buildStore()
		if err != nil {
			return nil, err
		}
		m.store = store
	}

	pol := policy.Default()
	m.tracker = refgraph.New(pol,
		refgraph.WithMaxDepth(cfg.Tracking.MaxDepth),
		refgraph.WithLogger(logging.TrackerLogger(m.provider)),
		refgraph.WithClock(m.clk),
	)

	m.engine = engine.New(m.resolver, m.translator, m.store, m.tracker, pol,
		engine.WithStorageLocale(cfg.CMS.StorageLocale),
		engine.WithPageContentType(cfg.CMS.PageContentType),
		engine.WithAutoTranslateNewRefs(cfg.Tracking.AutoTranslateNewRefs),
		engine.WithLogger(logging.EngineLogger(m.provider)),
		engine.WithClock(m.clk),
	)

	m.api = httpapi.New(m.engine, m.store, m.translator,
		httpapi.WithLogger(logging.HTTPLogger(m.provider)))

	return m, nil
}

// Setup prepares the storage backend. Database-backed tracking providers get
// their tables created here; the other providers need nothing.
func (m *Module) Setup(ctx context.Context) error {
	if m.bunStore != nil {
		return m.bunStore.CreateTables(ctx)
	}
	return nil
}

// Close releases the database connection held by database-backed tracking
// providers.
func (m *Module) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// Handler returns the HTTP surface with every route registered.
func (m *Module) Handler() http.Handler {
	return m.api.Handler()
}

// Register wires the module's routes onto an existing mux.
func (m *Module) Register(mux *http.ServeMux) {
	m.api.Register(mux)
}

// Engine exposes the clone and incremental update engine for embedded use.
func (m *Module) Engine() *engine.Engine {
	return m.engine
}

// Store exposes the relationship store.
func (m *Module) Store() relation.Store {
	return m.store
}

// Tracker exposes the deep reference tracker.
func (m *Module) Tracker() *refgraph.Tracker {
	return m.tracker
}

// Translator exposes the translation provider.
func (m *Module) Translator() translate.Translator {
	return m.translator
}

// Config returns the configuration the module was built from.
func (m *Module) Config() Config {
	return m.cfg
}

// scopedResolver hands out CMS clients per scope. The client built from the
// config serves the default scope; other scopes get their own client reusing
// the configured credentials, cached for the module's lifetime.
func (m *Module) scopedResolver() cms.ScopeResolver {
	var mu sync.Mutex
	clients := map[cms.Scope]cms.Client{}
	logger := logging.CMSLogger(m.provider)

	return func(scope cms.Scope) cms.Client {
		scope.SpaceID = strings.TrimSpace(scope.SpaceID)
		scope.EnvironmentID = strings.TrimSpace(scope.EnvironmentID)
		if scope.SpaceID == "" {
			scope.SpaceID = m.cfg.CMS.SpaceID
		}
		if scope.EnvironmentID == "" {
			scope.EnvironmentID = m.cfg.CMS.EnvironmentID
		}
		if scope.SpaceID == m.cfg.CMS.SpaceID && scope.EnvironmentID == m.cfg.CMS.EnvironmentID {
			return m.client
		}

		mu.Lock()
		defer mu.Unlock()
		if client, ok := clients[scope]; ok {
			return client
		}
		client, err := cms.NewHTTPClient(cms.HTTPClientConfig{
			BaseURL:       m.cfg.CMS.BaseURL,
			Token:         m.cfg.CMS.ManagementToken,
			Scope:         scope,
			CallTimeout:   m.cfg.CMS.CallTimeout,
			RetryAttempts: m.cfg.Retry.Attempts,
			RetryDelay:    m.cfg.Retry.Delay,
			RetryMaxDelay: m.cfg.Retry.MaxDelay,
		}, cms.WithHTTPLogger(logger), cms.WithHTTPClock(m.clk))
		if err != nil {
			logger.Warn("scoped client construction failed, using default scope",
				"space_id", scope.SpaceID, "environment_id", scope.EnvironmentID, "error", err)
			return m.client
		}
		clients[scope] = client
		return client
	}
}

// buildStore selects the tracking backend named by the config. When a
// metadata content type is configured, the CMS itself is the primary store
// and the local backend serves as fallback and mirror, so records survive
// both CMS outages and local data loss.
func (m *Module) buildStore() (relation.Store, error) {
	storeLogger := logging.StoreLogger(m.provider)

	var local relation.Store
	switch provider := strings.ToLower(strings.TrimSpace(m.cfg.Tracking.Provider)); provider {
	case "file":
		fileStore, err := relation.NewFileStore(m.cfg.Tracking.Dir, relation.WithFileLogger(storeLogger))
		if err != nil {
			return nil, err
		}
		local = fileStore
	case "sqlite":
		db, err := openBun("sqlite3", m.cfg.Tracking.DSN)
		if err != nil {
			return nil, err
		}
		m.db = db
		m.bunStore = relation.NewBunStore(db)
		local = m.bunStore
	case "postgres":
		db, err := openBun("postgres", m.cfg.Tracking.DSN)
		if err != nil {
			return nil, err
		}
		m.db = db
		m.bunStore = relation.NewBunStore(db)
		local = m.bunStore
	default:
		return nil, fmt.Errorf("%w: %s", runtimeconfig.ErrTrackingProviderUnknown, provider)
	}

	if strings.TrimSpace(m.cfg.CMS.MetadataContentType) == "" {
		return local, nil
	}

	primary := relation.NewCMSStore(m.client, relation.CMSStoreConfig{
		ContentType:   m.cfg.CMS.MetadataContentType,
		StorageLocale: m.cfg.CMS.StorageLocale,
	}, relation.WithCMSLogger(storeLogger))
	return relation.NewComposite(primary, local, relation.WithCompositeLogger(storeLogger)), nil
}

func openBun(driver, dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("locsync: open %s database: %w", driver, err)
	}
	switch driver {
	case "postgres":
		return bun.NewDB(sqldb, pgdialect.New()), nil
	default:
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	}
}

func buildLoggerProvider(cfg LoggingConfig) (interfaces.LoggerProvider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "noop":
		return nil, nil
	case "gologger":
		return gologger.NewProvider(gologger.Config{
			Level:     cfg.Level,
			Format:    cfg.Format,
			AddSource: cfg.AddSource,
			Focus:     cfg.Focus,
		})
	default:
		level := consoleLevel(cfg.Level)
		return console.NewProvider(console.Options{MinLevel: &level}), nil
	}
}

func consoleLevel(level string) console.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return console.LevelTrace
	case "debug":
		return console.LevelDebug
	case "warn", "warning":
		return console.LevelWarn
	case "error":
		return console.LevelError
	case "fatal":
		return console.LevelFatal
	default:
		return console.LevelInfo
	}
}
