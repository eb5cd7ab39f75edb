package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/usbroles/internal/usb"
)

// ErrorCode is a stable API error identifier returned in the envelope.
type ErrorCode int

// Catalogued error codes.
const (
	CodeNotFound         ErrorCode = 404
	CodeInvalidParam     ErrorCode = 1002
	CodeUnauthorized     ErrorCode = 1003
	CodePermissionDenied ErrorCode = 1004
	CodeDBError          ErrorCode = 2001
	CodeConflict         ErrorCode = 2002
	CodeUnknown          ErrorCode = 9999
)

// codeServerError is the envelope code of an untyped server failure.
const codeServerError = 500

type errorInfo struct {
	msg    string
	status int
}

var errorCatalog = map[ErrorCode]errorInfo{
	CodeNotFound:         {"Resource Not Found", http.StatusNotFound},
	CodeInvalidParam:     {"Invalid Parameters", http.StatusBadRequest},
	CodeUnauthorized:     {"Unauthorized Access", http.StatusUnauthorized},
	CodePermissionDenied: {"Permission Denied", http.StatusForbidden},
	CodeDBError:          {"Database Error", http.StatusInternalServerError},
	CodeConflict:         {"Resource Already Exists", http.StatusConflict},
	CodeUnknown:          {"Unknown Server Error", http.StatusInternalServerError},
}

// Message returns the catalogued message for c.
func (c ErrorCode) Message() string {
	if info, ok := errorCatalog[c]; ok {
		return info.msg
	}
	return errorCatalog[CodeUnknown].msg
}

// HTTPStatus returns the catalogued HTTP status for c.
func (c ErrorCode) HTTPStatus() int {
	if info, ok := errorCatalog[c]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Envelope is the body of every JSON API response.
type Envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeOK writes a success envelope carrying data (null when nil).
func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Envelope{Code: 0, Msg: "ok", Data: data})
}

// writeError writes the catalogued envelope for code.
func writeError(w http.ResponseWriter, code ErrorCode) {
	writeJSON(w, code.HTTPStatus(), Envelope{Code: int(code), Msg: code.Message()})
}

// writeServerError writes a 500 envelope with a free-form message.
func writeServerError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusInternalServerError, Envelope{Code: codeServerError, Msg: msg})
}

// codeForRuleError maps a rule validation error onto the catalog.
func codeForRuleError(err error) ErrorCode {
	switch {
	case errors.Is(err, usb.ErrDuplicateRole):
		return CodeConflict
	case errors.Is(err, usb.ErrEmptyRuleSet):
		return CodeInvalidParam
	default:
		return CodeUnknown
	}
}
