package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/racedesk/apiserver/internal/paging"
	"github.com/racedesk/apiserver/internal/services"
	"github.com/racedesk/apiserver/internal/validation"
	"github.com/racedesk/apiserver/types"
)

// UserHandler provides HTTP handlers for users.
type UserHandler struct {
	users    *services.UserService
	defaults paging.Defaults
	logger   *slog.Logger
}

// NewUserHandler constructs a handler with the provided service.
func NewUserHandler(users *services.UserService, defaults paging.Defaults, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, defaults: defaults, logger: logger}
}

// UserRouter registers user routes on the given router.
func UserRouter(r chi.Router, h *UserHandler) {
	requireDirector := RequireRole(types.RoleRaceDirector, h.logger)

	r.Get("/", h.ListUsers)
	r.With(requireDirector).Post("/", h.CreateUser)
	r.With(requireDirector).Delete("/{userID}", h.DeleteUser)
}

// ListUsers serves ?role=&page=&limit=.
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, err := paging.Parse(query.Get("page"), query.Get("limit"), h.defaults)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	list, err := h.users.List(r.Context(), query.Get("role"), page)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	var cmd types.CreateUserCommand
	if err := decodeJSON(w, r, &cmd); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	cmd.Nick = strings.TrimSpace(cmd.Nick)

	user, err := h.users.Create(r.Context(), caller, cmd)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "userID")))
	if err != nil {
		respondError(w, r, h.logger, validation.Invalid("id", "must be a UUID"))
		return
	}

	if err := h.users.Delete(r.Context(), caller, id); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
