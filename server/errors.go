package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cod31nvictus/eterny/server/schedule"
)

// Error codes carried in ErrorBody.Code.
const (
	CodeValidation         = "validation"
	CodeNotFound           = "not_found"
	CodeDuplicateException = "duplicate_exception"
	CodeConflict           = "conflict"
	CodePreconditionFailed = "precondition_failed"
	CodePersistence        = "persistence"
	CodePartialMutation    = "partial_mutation"
	CodeUnauthorized       = "unauthorized"
	CodeInternal           = "internal"
)

// statusFor maps a service error onto an HTTP status and error code.
// conditional is set when the request carried If-Match.
func statusFor(err error, conditional bool) (int, string) {
	switch {
	case errors.Is(err, schedule.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, schedule.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, schedule.ErrDuplicateException):
		return http.StatusConflict, CodeDuplicateException
	case errors.Is(err, schedule.ErrConflict):
		if conditional {
			return http.StatusPreconditionFailed, CodePreconditionFailed
		}
		return http.StatusConflict, CodeConflict
	case errors.Is(err, schedule.ErrPartialMutation):
		return http.StatusInternalServerError, CodePartialMutation
	case errors.Is(err, schedule.ErrPersistence):
		return http.StatusInternalServerError, CodePersistence
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(headerContentType, mimeTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err, r.Header.Get(headerIfMatch) != "")
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", code,
			"error", err)
	} else {
		h.logger.Debug("request rejected",
			"method", r.Method,
			"path", r.URL.Path,
			"code", code,
			"error", err)
	}
	writeErrorCode(w, status, code, err.Error())
}
