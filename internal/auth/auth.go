package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-delivery/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidUUID        = errors.New("invalid uuid")
)

const maxUUIDLength = 64

// Service issues and validates the opaque tokens clients present to the
// transport and to the HTTP API.
type Service struct {
	jwtSecret        []byte
	tokenExp         time.Duration
	clientSecretHash []byte
}

// NewService creates a new token service from JWT_SECRET, JWT_EXPIRY and
// TOKEN_CLIENT_SECRET_HASH.
func NewService() (*Service, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "default-secret-key-change-in-production"
	}

	expStr := os.Getenv("JWT_EXPIRY")
	exp := 24 * time.Hour // default 24 hours
	if expStr != "" {
		parsed, err := time.ParseDuration(expStr)
		if err != nil {
			return nil, fmt.Errorf("invalid JWT_EXPIRY %q: %w", expStr, err)
		}
		exp = parsed
	}

	s := &Service{
		jwtSecret: []byte(secret),
		tokenExp:  exp,
	}
	if hash := os.Getenv("TOKEN_CLIENT_SECRET_HASH"); hash != "" {
		s.clientSecretHash = []byte(hash)
	} else {
		log.Warn("TOKEN_CLIENT_SECRET_HASH not set, token grants are open to any client")
	}
	return s, nil
}

// HashSecret hashes a client secret using bcrypt
func (s *Service) HashSecret(secret string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(bytes), nil
}

// CheckClientSecret reports whether secret may be exchanged for a token.
// Without a configured hash every secret is accepted.
func (s *Service) CheckClientSecret(secret string) bool {
	if len(s.clientSecretHash) == 0 {
		return true
	}
	return bcrypt.CompareHashAndPassword(s.clientSecretHash, []byte(secret)) == nil
}

// ValidateUUID checks that uuid can be used as a client identity and a
// private channel name.
func (s *Service) ValidateUUID(uuid string) error {
	if uuid == "" || len(uuid) > maxUUIDLength {
		return ErrInvalidUUID
	}
	if strings.ContainsAny(uuid, "/+#* ") {
		return ErrInvalidUUID
	}
	return nil
}

// GrantToken issues a token for the client identified by uuid.
func (s *Service) GrantToken(uuid string) (string, time.Time, error) {
	if err := s.ValidateUUID(uuid); err != nil {
		return "", time.Time{}, err
	}
	now := time.Now()
	expiresAt := now.Add(s.tokenExp)
	claims := jwt.MapClaims{
		"uuid": uuid,
		"exp":  expiresAt.Unix(),
		"iat":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*models.Claims, error) {
	// Remove "Bearer " prefix if present
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	uuid, ok := claims["uuid"].(string)
	if !ok || uuid == "" {
		return nil, ErrInvalidToken
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrInvalidToken
	}

	return &models.Claims{
		UUID: uuid,
		Exp:  int64(exp),
	}, nil
}

// ExtractTokenFromHeader extracts token from Authorization header
func (s *Service) ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrInvalidToken
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", ErrInvalidToken
	}

	return parts[1], nil
}
