package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-hwmon/internal/auth"
	"github.com/nerrad567/gray-logic-hwmon/internal/bridges/hwmon"
)

// Error is the body of every non-2xx response.
//
//	{"status":404,"code":"not_found","message":"hwmon: device not found: fan-9"}
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeNotFound      = "not_found"
	ErrCodeUnauthorized  = "unauthorised"
	ErrCodeForbidden     = "forbidden"
	ErrCodeConflict      = "conflict"
	ErrCodeInternal      = "internal_error"
	ErrCodeValidation    = "validation_error"
	ErrCodeNotConfigured = "not_configured"
	ErrCodeUnavailable   = "unavailable"
	ErrCodeTimeout       = "timeout"
	ErrCodeCancelled     = "cancelled"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // best-effort write; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// domainErrors maps adapter, context and auth errors onto responses. The
// first matching entry wins.
var domainErrors = []struct {
	target error
	status int
	code   string
}{
	{hwmon.ErrDeviceNotFound, http.StatusNotFound, ErrCodeNotFound},
	{hwmon.ErrPropertyNotFound, http.StatusNotFound, ErrCodeNotFound},
	{hwmon.ErrDuplicateDevice, http.StatusConflict, ErrCodeConflict},
	{hwmon.ErrNoOffer, http.StatusConflict, ErrCodeConflict},
	{hwmon.ErrValidation, http.StatusBadRequest, ErrCodeValidation},
	{hwmon.ErrConfiguration, http.StatusPreconditionFailed, ErrCodeNotConfigured},
	{hwmon.ErrFetch, http.StatusBadGateway, ErrCodeUnavailable},
	{hwmon.ErrParse, http.StatusBadGateway, ErrCodeUnavailable},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, ErrCodeTimeout},
	{context.Canceled, http.StatusConflict, ErrCodeCancelled},
	{auth.ErrForbidden, http.StatusForbidden, ErrCodeForbidden},
}

func writeDomainError(w http.ResponseWriter, err error) {
	for _, de := range domainErrors {
		if errors.Is(err, de.target) {
			writeError(w, de.status, de.code, err.Error())
			return
		}
	}
	writeInternalError(w, err.Error())
}

// decodeBody decodes a JSON request body, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	dec.UseNumber()
	return dec.Decode(dst)
}
