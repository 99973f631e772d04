// Package dispatcher is the HTTP front door of spec.md §6: the chi router,
// the three canonical JSON response shapes, the `/api` POST entry point,
// the legacy per-verb paths dispatched identically to it, and the login
// handshake. Grounded on the teacher's internal/api/handler.go (`JSON`/
// `Error` response helpers) and internal/api/container.go's route
// registration style.
package dispatcher

import (
	"encoding/json"
	"net/http"
)

// Errcode values returned to clients, per spec.md §6.
const (
	ErrNoFunction       = "NO_FUNCTION"
	ErrFunctionNoexists = "FUNCTION_NOEXISTS"
	ErrBadCookie        = "BAD_COOKIE"
	ErrNoAgent          = "NO_AGENT"
	ErrNoSalt           = "NO_SALT"
	ErrDecryptFailed    = "DECRYPT_FAILED"
	ErrAuthFailed       = "AUTH_FAILED"
	ErrUnknown          = "UNKNOWN_ERROR"
)

type successEnvelope struct {
	Success bool `json:"success"`
	Result  any  `json:"result,omitempty"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Errcode string `json:"errcode"`
}

// writeOK writes the bare {success:true} shape.
func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, successEnvelope{Success: true})
}

// writeResult writes the {success:true,result} shape.
func writeResult(w http.ResponseWriter, result any) {
	writeJSON(w, http.StatusOK, successEnvelope{Success: true, Result: result})
}

// writeError writes the {success:false,message,errcode} shape. Per
// spec.md §6, HTTP status is 200 for protocol-band errors; only transport-
// band failures (missing session, poll timeout) use a non-200 status, so
// callers needing those pass them explicitly via writeErrorStatus.
func writeError(w http.ResponseWriter, errcode, message string) {
	writeErrorStatus(w, http.StatusOK, errcode, message)
}

func writeErrorStatus(w http.ResponseWriter, status int, errcode, message string) {
	writeJSON(w, status, errorEnvelope{Success: false, Message: message, Errcode: errcode})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
