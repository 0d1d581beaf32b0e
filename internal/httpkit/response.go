// Package httpkit holds small HTTP and database helpers shared by handlers
// and repositories.
package httpkit

import (
	"encoding/json"
	"net/http"
)

// ErrorEnvelope is the JSON body of every error response.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the inner error object.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteJSON writes body as JSON with status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteErr writes an ErrorEnvelope with status.
func WriteErr(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	WriteJSON(w, status, ErrorEnvelope{Error: ErrorBody{
		Code:    code,
		Message: msg,
		Details: details,
	}})
}
