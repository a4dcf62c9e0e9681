package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/vedran77/chatspace/internal/logging"
	"github.com/vedran77/chatspace/internal/service"
	"github.com/vedran77/chatspace/pkg/validator"
)

type AuthHandler struct {
	authService *service.AuthService
	logger      logging.Logger
}

func NewAuthHandler(authService *service.AuthService, logger logging.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, logger: logger}
}

// Token exchanges an identity provider ID token for an access token.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var input service.TokenInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if strings.TrimSpace(input.IDToken) == "" {
		errs := make(validator.ValidationErrors)
		errs.Add("id_token", "ID token is required")
		writeValidationErrors(w, errs)
		return
	}

	resp, err := h.authService.Exchange(r.Context(), input)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCreds) {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Identity token rejected")
		} else {
			h.logger.Error(r.Context(), "token exchange failed", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeValidationErrors(w http.ResponseWriter, errs validator.ValidationErrors) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"code":    "VALIDATION_ERROR",
			"message": "Validation failed",
			"fields":  errs,
		},
	})
}
