package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-delivery/internal/models"
)

// GrantPath is where the token endpoint is mounted.
const GrantPath = "/api/auth/grant"

var grantClient = &http.Client{Timeout: 10 * time.Second}

// RequestToken asks the token server at serverURL for a transport token for
// uuid. Failures are logged and yield an empty token so callers can carry on
// unauthenticated.
func RequestToken(ctx context.Context, serverURL, uuid, clientSecret string) string {
	token, err := requestToken(ctx, serverURL, uuid, clientSecret)
	if err != nil {
		log.WithError(err).WithField("uuid", uuid).Warn("Token request failed")
		return ""
	}
	return token
}

func requestToken(ctx context.Context, serverURL, uuid, clientSecret string) (string, error) {
	body, err := json.Marshal(models.GrantRequest{UUID: uuid, ClientSecret: clientSecret})
	if err != nil {
		return "", err
	}
	url := strings.TrimRight(serverURL, "/") + GrantPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := grantClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token server returned %s", resp.Status)
	}

	var grant models.GrantResponse
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if grant.Token == "" {
		return "", ErrInvalidToken
	}
	return grant.Token, nil
}
