package httpapi

import (
	"net/http"
)

// handleTranslatorStatus reports provider reachability, quota usage, and the
// supported language lists. The DeepL client caches language and usage
// responses, so editors polling this endpoint never hammer the provider.
func (api *API) handleTranslatorStatus(w http.ResponseWriter, r *http.Request) {
	usage, err := api.translator.Usage(r.Context())
	if err != nil {
		status, payload := mapError(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
			payload = errorResponse{Error: "translator_unreachable", Message: err.Error()}
		}
		writeJSON(w, status, payload)
		return
	}

	sources, err := api.translator.SourceLanguages(r.Context())
	if err != nil {
		api.logger.Warn("source language listing failed", "error", err)
	}
	targets, err := api.translator.TargetLanguages(r.Context())
	if err != nil {
		api.logger.Warn("target language listing failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"usage":           usage,
		"sourceLanguages": sources,
		"targetLanguages": targets,
	})
}
