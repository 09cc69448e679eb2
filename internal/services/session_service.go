package services

import (
	"fmt"
	"log"
	"time"

	"warung/internal/models"

	"github.com/dgrijalva/jwt-go"
)

// SessionService validates the bearer tokens the backend issues at sign-in.
// This client never sees credentials; it only carries the token and reads
// the actor identity out of it.
type SessionService struct {
	jwtSecret  []byte
	tokenDurat time.Duration
}

// NewSessionService creates a new SessionService.
func NewSessionService(jwtSecret string) *SessionService {
	return &SessionService{
		jwtSecret:  []byte(jwtSecret),
		tokenDurat: 24 * time.Hour,
	}
}

// IssueToken mints a session token for an actor. Used by local tooling and
// tests; in production the backend is the issuer.
func (s *SessionService) IssueToken(actorID string, role models.Role) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", role)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"actor_id": actorID,
		"role":     string(role),
		"exp":      time.Now().Add(s.tokenDurat).Unix(),
		"iat":      time.Now().Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken parses and validates a session token, returning the actor
// identity carried in its claims.
func (s *SessionService) ValidateToken(tokenString string) (actorID string, role models.Role, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		log.Printf("Token validation error: %v", err)
		return "", "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("invalid token")
	}

	actorID, _ = claims["actor_id"].(string)
	roleStr, _ := claims["role"].(string)
	role = models.Role(roleStr)
	if actorID == "" || !role.Valid() {
		return "", "", fmt.Errorf("token is missing actor identity")
	}
	return actorID, role, nil
}
