package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/racedesk/apiserver/internal/auth"
	"github.com/racedesk/apiserver/internal/paging"
	"github.com/racedesk/apiserver/internal/services"
	"github.com/racedesk/apiserver/internal/store"
	"github.com/racedesk/apiserver/internal/validation"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string                  `json:"error"`
	Status  int                     `json:"status"`
	Details []validation.FieldError `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Status: status})
}

// respondError maps err onto a status and writes it. Server side failures
// are logged with their cause; the client only sees a generic message.
func respondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation failed",
			Status:  http.StatusBadRequest,
			Details: verr.Fields,
		})
	case errors.Is(err, paging.ErrInvalidPage):
		writeInvalidParam(w, "page", err)
	case errors.Is(err, paging.ErrInvalidLimit):
		writeInvalidParam(w, "limit", err)
	case errors.Is(err, paging.ErrInvalidSort):
		writeInvalidParam(w, "sort", err)
	case errors.Is(err, auth.ErrNoIdentity):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, services.ErrInvalidRecipients), errors.Is(err, services.ErrInvalidSender):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, services.ErrDuplicateNick):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, internalMessage(err))
	}
}

func internalMessage(err error) string {
	switch {
	case errors.Is(err, services.ErrMessageCreateFailed):
		return "failed to create message"
	case errors.Is(err, services.ErrRecipientAssignmentFailed):
		return "failed to assign recipients"
	case errors.Is(err, services.ErrCascadeDeleteFailed):
		return "failed to delete user"
	default:
		return "internal server error"
	}
}

func writeInvalidParam(w http.ResponseWriter, param string, err error) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "invalid query parameters",
		Status:  http.StatusBadRequest,
		Details: []validation.FieldError{{Path: param, Reason: err.Error()}},
	})
}

// decodeJSON reads a JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return validation.Invalid("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}
