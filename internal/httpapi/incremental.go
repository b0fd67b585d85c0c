package httpapi

import (
	"net/http"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/locsync/locsync/internal/cms"
	"github.com/locsync/locsync/internal/engine"
	"github.com/locsync/locsync/internal/relation"
)

// handleStatus answers the incremental status check. The relationship is
// resolved by source entry id plus target language, matching how editors
// address translations.
func (api *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	entryID := strings.TrimSpace(query.Get("entryId"))
	targetLanguage := strings.TrimSpace(query.Get("targetLanguage"))

	errs := validation.Errors{}
	if entryID == "" {
		errs["entryId"] = validation.NewError("locsync.status.entry_required", "entryId is required")
	}
	if targetLanguage == "" {
		errs["targetLanguage"] = validation.NewError("locsync.status.target_language_required", "targetLanguage is required")
	}
	if len(errs) > 0 {
		writeError(w, errs)
		return
	}

	rel, err := api.engine.FindRelationship(r.Context(), entryID, targetLanguage)
	if relation.IsNotFound(err) {
		writeJSON(w, http.StatusOK, &engine.StatusResult{
			Changes:   []engine.StatusChange{},
			Conflicts: []engine.Conflict{},
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	status, err := api.engine.Status(r.Context(), scopeFromQuery(r), entryID, rel.TargetEntryID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type updatePayload struct {
	SourceEntryID  string `json:"sourceEntryId"`
	EntryID        string `json:"entryId"` // legacy alias for sourceEntryId
	TargetEntryID  string `json:"targetEntryId"`
	TargetLanguage string `json:"targetLanguage"`
	SpaceID        string `json:"spaceId"`
	EnvironmentID  string `json:"environmentId"`
	Options        struct {
		Reason string `json:"reason"`
	} `json:"options"`
}

func (p updatePayload) sourceID() string {
	if id := strings.TrimSpace(p.SourceEntryID); id != "" {
		return id
	}
	return strings.TrimSpace(p.EntryID)
}

func (p updatePayload) validate() error {
	errs := validation.Errors{}
	if p.sourceID() == "" {
		errs["sourceEntryId"] = validation.NewError("locsync.update.source_required", "sourceEntryId is required")
	}
	if strings.TrimSpace(p.TargetEntryID) == "" && strings.TrimSpace(p.TargetLanguage) == "" {
		errs["targetEntryId"] = validation.NewError("locsync.update.target_required", "targetEntryId or targetLanguage is required")
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// handleUpdate runs one incremental update, serialized per relationship id.
func (api *API) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var payload updatePayload
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "invalid JSON payload"})
		return
	}
	if err := payload.validate(); err != nil {
		writeError(w, err)
		return
	}

	sourceID := payload.sourceID()
	targetID := strings.TrimSpace(payload.TargetEntryID)
	if targetID == "" {
		rel, err := api.engine.FindRelationship(r.Context(), sourceID, payload.TargetLanguage)
		if err != nil {
			writeError(w, err)
			return
		}
		targetID = rel.TargetEntryID
	}

	key := "update:" + relation.RelationshipID(sourceID, targetID)
	value, err, _ := api.flight.Do(key, func() (any, error) {
		return api.engine.Update(r.Context(), engine.UpdateRequest{
			Scope:         cms.Scope{SpaceID: payload.SpaceID, EnvironmentID: payload.EnvironmentID},
			SourceEntryID: sourceID,
			TargetEntryID: targetID,
			Reason:        payload.Options.Reason,
		})
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, value.(*engine.UpdateResult))
}

// handleRelationships lists every relationship the entry participates in, on
// either side.
func (api *API) handleRelationships(w http.ResponseWriter, r *http.Request) {
	entryID := strings.TrimSpace(r.PathValue("entryId"))
	if entryID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "entryId is required"})
		return
	}

	asSource, err := api.store.ListBySource(r.Context(), entryID)
	if err != nil {
		writeError(w, err)
		return
	}
	asTarget, err := api.store.ListByTarget(r.Context(), entryID)
	if err != nil {
		writeError(w, err)
		return
	}

	seen := map[string]bool{}
	merged := make([]*relation.Relationship, 0, len(asSource)+len(asTarget))
	for _, rel := range append(asSource, asTarget...) {
		if seen[rel.ID()] {
			continue
		}
		seen[rel.ID()] = true
		// Tree snapshots can be large; listings report bookkeeping only.
		trimmed := rel.Clone()
		trimmed.DeepReferenceMap = nil
		merged = append(merged, trimmed)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID() < merged[j].ID() })

	writeJSON(w, http.StatusOK, map[string]any{
		"entryId":       entryID,
		"relationships": merged,
		"count":         len(merged),
	})
}

// handleBackups lists the backup history of an entry, newest first.
func (api *API) handleBackups(w http.ResponseWriter, r *http.Request) {
	entryID := strings.TrimSpace(r.PathValue("entryId"))
	if entryID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "entryId is required"})
		return
	}

	backups, err := api.store.ListBackups(r.Context(), entryID)
	if err != nil {
		writeError(w, err)
		return
	}
	if backups == nil {
		backups = []*relation.Backup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entryId": entryID,
		"backups": backups,
		"count":   len(backups),
	})
}

// handleDeepReferences reports the stored reference tree snapshot's stats.
func (api *API) handleDeepReferences(w http.ResponseWriter, r *http.Request) {
	sourceID := strings.TrimSpace(r.PathValue("sourceId"))
	targetID := strings.TrimSpace(r.PathValue("targetId"))

	stats, err := api.engine.DeepReferenceStats(r.Context(), sourceID, targetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleDeepReferencesRebuild re-scans the live reference graph and replaces
// the stored snapshot.
func (api *API) handleDeepReferencesRebuild(w http.ResponseWriter, r *http.Request) {
	sourceID := strings.TrimSpace(r.PathValue("sourceId"))
	targetID := strings.TrimSpace(r.PathValue("targetId"))

	key := "update:" + relation.RelationshipID(sourceID, targetID)
	value, err, _ := api.flight.Do(key, func() (any, error) {
		return api.engine.Refresh(r.Context(), scopeFromQuery(r), sourceID, targetID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, value.(*engine.RefreshResult))
}
