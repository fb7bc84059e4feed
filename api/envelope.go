package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/xraph/pointledger"
)

// Envelope wraps every response body.
type Envelope struct {
	Success   bool                  `json:"success"`
	Message   string                `json:"message,omitempty"`
	Error     string                `json:"error,omitempty"`
	ErrorType pointledger.ErrorType `json:"errorType,omitempty"`
	Data      any                   `json:"data,omitempty"`
}

// statusFor maps an error class to its HTTP status.
func statusFor(t pointledger.ErrorType) int {
	switch t {
	case pointledger.ErrorTypeValidation:
		return http.StatusBadRequest
	case pointledger.ErrorTypeInsufficientFunds:
		return http.StatusPaymentRequired
	case pointledger.ErrorTypeBalanceCap:
		return http.StatusUnprocessableEntity
	case pointledger.ErrorTypeBusinessRule:
		return http.StatusConflict
	case pointledger.ErrorTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, code int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // client went away
}

func respondOK(w http.ResponseWriter, message string, data any) {
	respondJSON(w, http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

// respondError classifies err and writes the matching envelope. System
// errors are logged and hidden behind a generic message.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	t := pointledger.Classify(err)
	msg := err.Error()
	if t == pointledger.ErrorTypeSystem {
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		msg = "internal error"
	}
	respondJSON(w, statusFor(t), Envelope{Success: false, Error: msg, ErrorType: t})
}
