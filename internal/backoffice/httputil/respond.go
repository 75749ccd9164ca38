package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	boerrors "github.com/virtualcc/backoffice/internal/errors"
	"github.com/virtualcc/backoffice/internal/logging"
)

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes v as the JSON response body.
func WriteJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("Failed to encode JSON response")
	}
}

// WriteError maps err to a status and a client-safe message. Server errors
// are logged with their full detail; clients only see fallback.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := boerrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg(fallback)
	}
	WriteJSON(w, status, ErrorResponse{Error: boerrors.PublicMessage(err, fallback)})
}

// DecodeJSON decodes a bounded request body into v, rejecting unknown fields.
func DecodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return boerrors.Validation("decode_body", "Invalid JSON body")
	}
	return nil
}

// QueryDate parses an optional date query parameter given as RFC 3339 or
// YYYY-MM-DD. A missing parameter yields nil.
func QueryDate(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, boerrors.Validation("parse_query", "Invalid "+name)
}

// QueryInt parses an optional positive integer query parameter, returning def
// when absent.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, boerrors.Validation("parse_query", "Invalid "+name)
	}
	return n, nil
}
