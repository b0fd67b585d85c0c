package httpapi

import (
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/locsync/locsync/internal/cms"
	"github.com/locsync/locsync/internal/engine"
)

type clonePayload struct {
	SourceEntryID   string   `json:"sourceEntryId"`
	EntryID         string   `json:"entryId"` // legacy alias for sourceEntryId
	SpaceID         string   `json:"spaceId"`
	EnvironmentID   string   `json:"environmentId"`
	SourceLanguage  string   `json:"sourceLanguage"`
	TargetLanguage  string   `json:"targetLanguage"`
	TargetLanguages []string `json:"targetLanguages"`
}

func (p clonePayload) sourceID() string {
	if id := strings.TrimSpace(p.SourceEntryID); id != "" {
		return id
	}
	return strings.TrimSpace(p.EntryID)
}

// targets returns the requested target languages, deduplicated and in request
// order. The scalar field acts as a one-element list.
func (p clonePayload) targets() []string {
	raw := p.TargetLanguages
	if len(raw) == 0 && strings.TrimSpace(p.TargetLanguage) != "" {
		raw = []string{p.TargetLanguage}
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(raw))
	for _, lang := range raw {
		normalized := strings.ToUpper(strings.TrimSpace(lang))
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	return out
}

func (p clonePayload) validate() error {
	errs := validation.Errors{}
	if p.sourceID() == "" {
		errs["sourceEntryId"] = validation.NewError("locsync.clone.source_required", "sourceEntryId is required")
	}
	if len(p.targets()) == 0 {
		errs["targetLanguage"] = validation.NewError("locsync.clone.target_language_required", "targetLanguage or targetLanguages is required")
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

type cloneTargetResult struct {
	TargetLanguage string            `json:"targetLanguage"`
	TargetLocale   string            `json:"targetLocale,omitempty"`
	Success        bool              `json:"success"`
	ClonedEntryID  string            `json:"clonedEntryId,omitempty"`
	CloneMapping   map[string]string `json:"cloneMapping,omitempty"`
	Error          string            `json:"error,omitempty"`
}

type cloneResponse struct {
	Success         bool                `json:"success"`
	OriginalEntryID string              `json:"originalEntryId"`
	ClonedEntryID   string              `json:"clonedEntryId,omitempty"`
	CloneMapping    map[string]string   `json:"cloneMapping,omitempty"`
	SourceLanguage  string              `json:"sourceLanguage,omitempty"`
	TargetLocales   []string            `json:"targetLocales"`
	AllResults      []cloneTargetResult `json:"allResults"`
}

// handleClone clones the source entry once per requested target language.
// Per-target failures are reported in allResults without aborting the other
// targets; the first successful result fills the legacy top-level fields.
func (api *API) handleClone(w http.ResponseWriter, r *http.Request) {
	var payload clonePayload
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "invalid JSON payload"})
		return
	}
	if err := payload.validate(); err != nil {
		writeError(w, err)
		return
	}

	sourceID := payload.sourceID()
	scope := cms.Scope{SpaceID: payload.SpaceID, EnvironmentID: payload.EnvironmentID}
	targets := payload.targets()

	response := cloneResponse{
		OriginalEntryID: sourceID,
		TargetLocales:   []string{},
		AllResults:      make([]cloneTargetResult, 0, len(targets)),
	}

	var firstErr error
	for _, lang := range targets {
		key := "clone:" + sourceID + ":" + lang
		value, err, _ := api.flight.Do(key, func() (any, error) {
			return api.engine.Clone(r.Context(), engine.CloneRequest{
				Scope:          scope,
				SourceEntryID:  sourceID,
				SourceLanguage: payload.SourceLanguage,
				TargetLanguage: lang,
			})
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			response.AllResults = append(response.AllResults, cloneTargetResult{
				TargetLanguage: lang,
				Error:          err.Error(),
			})
			continue
		}

		result := value.(*engine.CloneResult)
		response.AllResults = append(response.AllResults, cloneTargetResult{
			TargetLanguage: result.TargetLanguage,
			TargetLocale:   result.TargetLocale,
			Success:        true,
			ClonedEntryID:  result.ClonedEntryID,
			CloneMapping:   result.CloneMapping,
		})
		response.TargetLocales = append(response.TargetLocales, result.TargetLocale)
		if !response.Success {
			response.Success = true
			response.ClonedEntryID = result.ClonedEntryID
			response.CloneMapping = result.CloneMapping
			response.SourceLanguage = result.SourceLanguage
		}
	}

	if !response.Success && firstErr != nil {
		writeError(w, firstErr)
		return
	}
	writeJSON(w, http.StatusOK, response)
}
