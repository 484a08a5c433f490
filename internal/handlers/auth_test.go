package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-delivery/internal/auth"
	"github.com/ukydev/fleet-delivery/internal/middleware"
	"github.com/ukydev/fleet-delivery/internal/models"
)

func newAuthService(t *testing.T) *auth.Service {
	t.Helper()
	t.Setenv("JWT_SECRET", "handlers-test-secret")
	t.Setenv("TOKEN_CLIENT_SECRET_HASH", "")
	authService, err := auth.NewService()
	require.NoError(t, err)
	return authService
}

func TestAuthHandler_Grant(t *testing.T) {
	hash, err := newAuthService(t).HashSecret("demo-secret")
	require.NoError(t, err)
	t.Setenv("TOKEN_CLIENT_SECRET_HASH", hash)
	authService, err := auth.NewService()
	require.NoError(t, err)
	handler := NewAuthHandler(authService)

	tests := []struct {
		name           string
		method         string
		body           string
		expectedStatus int
	}{
		{"valid grant", http.MethodPost, `{"uuid":"viewer-1","client_secret":"demo-secret"}`, http.StatusOK},
		{"wrong secret", http.MethodPost, `{"uuid":"viewer-1","client_secret":"nope"}`, http.StatusUnauthorized},
		{"missing uuid", http.MethodPost, `{"client_secret":"demo-secret"}`, http.StatusBadRequest},
		{"pattern uuid", http.MethodPost, `{"uuid":"vehicle.*","client_secret":"demo-secret"}`, http.StatusBadRequest},
		{"invalid json", http.MethodPost, `{"uuid":`, http.StatusBadRequest},
		{"wrong method", http.MethodGet, ``, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, auth.GrantPath, bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()

			handler.Grant(w, req)
			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus == http.StatusOK {
				var resp models.GrantResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
				claims, err := authService.ValidateToken(resp.Token)
				require.NoError(t, err)
				assert.Equal(t, "viewer-1", claims.UUID)
				assert.Equal(t, claims.Exp, resp.ExpiresAt)
			}
		})
	}
}

func TestAuthHandler_WhoAmI(t *testing.T) {
	authService := newAuthService(t)
	handler := NewAuthHandler(authService)
	authMW := middleware.NewAuthMiddleware(authService)
	token, _, err := authService.GrantToken("viewer-7")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	authMW.Authenticate(http.HandlerFunc(handler.WhoAmI)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var claims models.Claims
	require.NoError(t, json.NewDecoder(w.Body).Decode(&claims))
	assert.Equal(t, "viewer-7", claims.UUID)

	// Without the middleware there is no client in the context
	w = httptest.NewRecorder()
	handler.WhoAmI(w, httptest.NewRequest(http.MethodGet, "/api/auth/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
