package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/nestorgt/go-settlement/core"
)

// Envelope is the single response shape of every route.
type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	mapped := core.MapError(err)
	status := mapped.Code
	if status < 400 {
		status = http.StatusInternalServerError
	}
	message := mapped.Message
	if message == "" {
		message = err.Error()
	}
	writeJSON(w, status, Envelope{
		Success:   false,
		Error:     message,
		ErrorCode: mapped.TextCode,
	})
}
