package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/locsync/locsync/internal/cms"
	"github.com/locsync/locsync/internal/engine"
	"github.com/locsync/locsync/internal/policy"
	"github.com/locsync/locsync/internal/relation"
	"github.com/locsync/locsync/internal/translate"
)

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Issues  map[string]string `json:"issues,omitempty"`
}

func decodeJSON(r *http.Request, target any) error {
	if r == nil || r.Body == nil {
		return io.EOF
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status, payload := mapError(err)
	writeJSON(w, status, payload)
}

func mapError(err error) (int, errorResponse) {
	if err == nil {
		return http.StatusInternalServerError, errorResponse{Error: "unknown_error"}
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		issues := make(map[string]string, len(verrs))
		for field, fieldErr := range verrs {
			issues[field] = fieldErr.Error()
		}
		return http.StatusUnprocessableEntity, errorResponse{
			Error:   "validation_failed",
			Message: "request payload is invalid",
			Issues:  issues,
		}
	}

	if relation.IsNotFound(err) ||
		errors.Is(err, cms.ErrEntryNotFound) ||
		errors.Is(err, cms.ErrContentTypeNotFound) {
		return http.StatusNotFound, errorResponse{
			Error:   "not_found",
			Message: err.Error(),
		}
	}

	if errors.Is(err, engine.ErrSourceEntryRequired) ||
		errors.Is(err, engine.ErrTargetEntryRequired) ||
		errors.Is(err, engine.ErrTargetLanguageRequired) ||
		errors.Is(err, engine.ErrSourceLanguageRequired) ||
		errors.Is(err, engine.ErrSourceCultureMissing) ||
		errors.Is(err, policy.ErrUnknownProviderCode) ||
		errors.Is(err, policy.ErrUnknownLocale) ||
		errors.Is(err, relation.ErrRelationshipInvalid) ||
		errors.Is(err, cms.ErrEntryIDRequired) ||
		errors.Is(err, cms.ErrContentTypeIDRequired) {
		return http.StatusBadRequest, errorResponse{
			Error:   "bad_request",
			Message: err.Error(),
		}
	}

	if errors.Is(err, cms.ErrVersionMismatch) {
		return http.StatusConflict, errorResponse{
			Error:   "conflict",
			Message: err.Error(),
		}
	}

	var apiErr *translate.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway, errorResponse{
			Error:   "translator_error",
			Message: err.Error(),
		}
	}
	var cmsErr *cms.APIError
	if errors.As(err, &cmsErr) {
		return http.StatusBadGateway, errorResponse{
			Error:   "cms_error",
			Message: err.Error(),
		}
	}

	return http.StatusInternalServerError, errorResponse{
		Error:   "internal_error",
		Message: err.Error(),
	}
}
