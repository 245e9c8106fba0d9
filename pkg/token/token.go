package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrWrongType    = errors.New("wrong token type")
)

// Token types.
const (
	TypeAccess  = "access"
	TypeConnect = "connect"
)

// Claims represents JWT claims for both access and connect tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Type   string `json:"type"` // "access" or "connect"
}

// Manager signs and verifies HS256 tokens.
type Manager struct {
	secret          []byte
	accessDuration  time.Duration
	connectDuration time.Duration
	issuer          string
}

// NewManager creates a new token manager.
func NewManager(secret string, accessDuration, connectDuration time.Duration, issuer string) *Manager {
	return &Manager{
		secret:          []byte(secret),
		accessDuration:  accessDuration,
		connectDuration: connectDuration,
		issuer:          issuer,
	}
}

// MintAccess creates a primary-session access token.
func (m *Manager) MintAccess(userID string) (string, error) {
	return m.mint(userID, TypeAccess, m.accessDuration)
}

// MintConnect creates a short-lived websocket connect token.
// Connect tokens are single-purpose: they authenticate the handshake and
// nothing else, so their lifetime stays short even when access tokens do not.
func (m *Manager) MintConnect(userID string) (string, error) {
	return m.mint(userID, TypeConnect, m.connectDuration)
}

func (m *Manager) mint(userID, tokenType string, d time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
		},
		UserID: userID,
		Type:   tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify validates a token and checks it carries the expected type.
func (m *Manager) Verify(tokenString, expectedType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Type != expectedType {
		return nil, ErrWrongType
	}

	return claims, nil
}
