package models

// GrantRequest asks the token endpoint for a transport credential.
type GrantRequest struct {
	UUID         string `json:"uuid"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// GrantResponse carries the issued transport credential.
type GrantResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Claims represents JWT claims
type Claims struct {
	UUID string `json:"uuid"`
	Exp  int64  `json:"exp"`
}
