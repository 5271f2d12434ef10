package common

import (
	"encoding/json"
	"net/http"
)

// Envelope is the uniform response shape returned by every JSON endpoint.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONSuccess renders a 200 envelope with the given message and optional data.
func JSONSuccess(w http.ResponseWriter, message string, data any) {
	JSON(w, http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

// JSONError renders an error envelope. Provider and database internals must
// already be reduced to a message string by the caller.
func JSONError(w http.ResponseWriter, status int, message string) {
	JSON(w, status, Envelope{Success: false, Message: message})
}

// JSONAppError renders an AppError using its attached HTTP status, falling
// back to 500 for unclassified errors.
func JSONAppError(w http.ResponseWriter, err error) {
	if app, ok := AsAppError(err); ok {
		JSONError(w, app.HTTPStatus, app.Message)
		return
	}
	JSONError(w, http.StatusInternalServerError, "internal error")
}
