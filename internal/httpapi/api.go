// Package httpapi exposes the clone and incremental translation engine over
// HTTP. Routes follow the management tooling this service replaces: a clone
// endpoint with multi-target fan-out, incremental status/update, relationship
// and backup listings, and deep-reference snapshot inspection.
package httpapi

import (
	"net/http"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/locsync/locsync/internal/cms"
	"github.com/locsync/locsync/internal/engine"
	"github.com/locsync/locsync/internal/logging"
	"github.com/locsync/locsync/internal/relation"
	"github.com/locsync/locsync/internal/translate"
	"github.com/locsync/locsync/pkg/interfaces"
)

// API registers the locsync endpoints on a standard mux.
type API struct {
	engine     *engine.Engine
	store      relation.Store
	translator translate.Translator
	logger     interfaces.Logger

	// flight serializes clone and update work per relationship id. This is
	// the only cross-request ordering guarantee the engine asks for.
	flight singleflight.Group
}

// Option mutates the API configuration.
type Option func(*API)

// WithLogger attaches a request logger.
func WithLogger(logger interfaces.Logger) Option {
	return func(api *API) {
		if logger != nil {
			api.logger = logger
		}
	}
}

// New constructs the API over the engine, the relationship store, and the
// translation provider.
func New(eng *engine.Engine, store relation.Store, translator translate.Translator, opts ...Option) *API {
	api := &API{
		engine:     eng,
		store:      store,
		translator: translator,
		logger:     logging.NoOp(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(api)
		}
	}
	return api
}

// Register wires every route onto the mux. Handlers are wrapped with panic
// recovery so a failing request never terminates the process.
func (api *API) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("GET /health", api.recovered(api.handleHealth))
	mux.HandleFunc("GET /api/deepl/status", api.recovered(api.handleTranslatorStatus))
	mux.HandleFunc("POST /api/clone", api.recovered(api.handleClone))
	mux.HandleFunc("GET /api/incremental/status", api.recovered(api.handleStatus))
	mux.HandleFunc("POST /api/incremental/update", api.recovered(api.handleUpdate))
	mux.HandleFunc("GET /api/incremental/relationships/{entryId}", api.recovered(api.handleRelationships))
	mux.HandleFunc("GET /api/incremental/backups/{entryId}", api.recovered(api.handleBackups))
	mux.HandleFunc("GET /api/incremental/deep-references/{sourceId}/{targetId}", api.recovered(api.handleDeepReferences))
	mux.HandleFunc("POST /api/incremental/deep-references/{sourceId}/{targetId}/rebuild", api.recovered(api.handleDeepReferencesRebuild))
}

// Handler returns a ready-to-serve handler with all routes registered.
func (api *API) Handler() http.Handler {
	mux := http.NewServeMux()
	api.Register(mux)
	return mux
}

func (api *API) recovered(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				api.logger.Error("request handler panicked",
					"method", r.Method, "path", r.URL.Path, "panic", rec)
				writeJSON(w, http.StatusInternalServerError, errorResponse{
					Error:   "internal_error",
					Message: "request processing failed",
				})
			}
		}()
		next(w, r)
	}
}

func scopeFromQuery(r *http.Request) cms.Scope {
	return cms.Scope{
		SpaceID:       strings.TrimSpace(r.URL.Query().Get("spaceId")),
		EnvironmentID: strings.TrimSpace(r.URL.Query().Get("environmentId")),
	}
}

func (api *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
