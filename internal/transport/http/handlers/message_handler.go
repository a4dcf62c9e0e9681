package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/vedran77/chatspace/internal/logging"
	"github.com/vedran77/chatspace/internal/service"
	"github.com/vedran77/chatspace/internal/transport/http/middleware"
	"github.com/vedran77/chatspace/pkg/validator"
)

type MessageHandler struct {
	messageService *service.MessageService
	logger         logging.Logger
}

func NewMessageHandler(messageService *service.MessageService, logger logging.Logger) *MessageHandler {
	return &MessageHandler{messageService: messageService, logger: logger}
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input service.SendMessageInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if errs := validator.ValidateMessage(input.Content); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	msg, err := h.messageService.Send(r.Context(), userID, input)
	if err != nil {
		if errors.Is(err, service.ErrProfileRequired) {
			writeError(w, http.StatusConflict, "PROFILE_REQUIRED", "Create your profile before sending")
		} else {
			h.logger.Error(r.Context(), "send message failed", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := service.DefaultMessageLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 || l > service.MaxMessageLimit {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 100")
			return
		}
		limit = l
	}

	resp, err := h.messageService.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error(r.Context(), "list messages failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	msg, err := h.messageService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, service.ErrMessageNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Message not found")
		} else {
			h.logger.Error(r.Context(), "get message failed", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusOK, msg)
}
