package api

import (
	"encoding/json"
	"net/http"

	"github.com/usdanismanlik/takipus/internal/apperr"
)

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Message string     `json:"message,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, envelope{Success: true, Data: data, Message: message})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		l := h.logger(r)
		l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	kind := string(apperr.KindOf(err))
	writeJSON(w, status, envelope{Error: &errorBody{Kind: kind, Message: apperr.Message(err)}})
}

func writeFailure(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, envelope{Error: &errorBody{Kind: kind, Message: msg}})
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return apperr.Validation("decode", "request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("decode", "invalid json: %s", err.Error())
	}
	return nil
}
