package server

import (
	"encoding/json"
	"net/http"

	"github.com/burrowai/burrow/internal/apierr"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// writeAPIError maps a service error onto the wire taxonomy.
func writeAPIError(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	writeError(w, apierr.HTTPStatus(kind), string(kind), apierr.MessageOf(err))
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// decodeJSON reads a request body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierr.Wrap(apierr.KindValidation, err, "invalid JSON body")
	}
	return nil
}
