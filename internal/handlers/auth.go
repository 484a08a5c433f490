package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-delivery/internal/auth"
	"github.com/ukydev/fleet-delivery/internal/middleware"
	"github.com/ukydev/fleet-delivery/internal/models"
)

// AuthHandler handles token requests
type AuthHandler struct {
	authService *auth.Service
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService *auth.Service) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// Grant exchanges a client uuid and secret for a transport token
func (h *AuthHandler) Grant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var grantReq models.GrantRequest
	if err := json.Unmarshal(body, &grantReq); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := h.authService.ValidateUUID(grantReq.UUID); err != nil {
		http.Error(w, "A valid uuid is required", http.StatusBadRequest)
		return
	}

	if !h.authService.CheckClientSecret(grantReq.ClientSecret) {
		log.WithField("uuid", grantReq.UUID).Info("Token grant refused")
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, expiresAt, err := h.authService.GrantToken(grantReq.UUID)
	if err != nil {
		log.WithError(err).Error("Failed to generate token")
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	response := models.GrantResponse{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// WhoAmI returns the claims of the calling client
func (h *AuthHandler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims, ok := middleware.GetClientFromContext(r.Context())
	if !ok {
		http.Error(w, "Client context not found", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(claims)
}
