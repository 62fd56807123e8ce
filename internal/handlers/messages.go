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

// MessageHandler provides HTTP handlers for messages.
type MessageHandler struct {
	messages *services.MessageService
	users    *services.UserService
	defaults paging.Defaults
	logger   *slog.Logger
}

// NewMessageHandler constructs a handler with the provided services.
func NewMessageHandler(messages *services.MessageService, users *services.UserService, defaults paging.Defaults, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		users:    users,
		defaults: defaults,
		logger:   logger,
	}
}

// MessageRouter registers message routes on the given router. Callers must
// already be identified.
func MessageRouter(r chi.Router, h *MessageHandler) {
	r.Get("/", h.ListMessages)
	r.With(RequireRole(types.RoleRaceDirector, h.logger)).Post("/", h.CreateMessage)
	r.Get("/users", h.ListRecipients)
}

// RecipientsResponse lists every user that can receive a message.
type RecipientsResponse struct {
	Users []types.User `json:"users"`
}

// ListMessages serves ?page=&limit=&sort=field:dir&recipient_id=.
//
// Without an explicit recipient_id a pilot only sees messages addressed to
// them; race directors see every message.
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	query := r.URL.Query()
	page, err := paging.Parse(query.Get("page"), query.Get("limit"), h.defaults)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	sort, err := paging.ParseSort(query.Get("sort"), services.MessageSortFields, services.DefaultMessageSort)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	var recipient *uuid.UUID
	if raw := strings.TrimSpace(query.Get("recipient_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, r, h.logger, validation.Invalid("recipient_id", "must be a UUID"))
			return
		}
		recipient = &id
	} else if caller.Role == types.RolePilot {
		recipient = &caller.ID
	}

	list, err := h.messages.List(r.Context(), services.MessageQuery{
		Page:        page,
		Sort:        sort,
		RecipientID: recipient,
	})
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListRecipients returns every user for recipient selection.
func (h *MessageHandler) ListRecipients(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListAll(r.Context())
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, RecipientsResponse{Users: users})
}

func (h *MessageHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	var cmd types.CreateMessageCommand
	if err := decodeJSON(w, r, &cmd); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	if err := validation.Struct(cmd); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	msg, err := h.messages.Create(r.Context(), caller, cmd)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
