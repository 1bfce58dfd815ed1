// Package auth secures the admin API with a single operator account. The
// password hash and JWT secret come from configuration or Vault; there is no
// user store.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
)

// Claims represents the JWT claims for an operator session
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenPair is the login response payload
type TokenPair struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Manager issues and validates operator tokens
type Manager struct {
	secret        []byte
	adminUser     string
	adminPassHash string
	tokenDuration time.Duration
}

// NewManager creates an auth manager. passwordHash is a bcrypt hash.
func NewManager(secret, adminUser, passwordHash string, tokenDuration time.Duration) *Manager {
	if tokenDuration <= 0 {
		tokenDuration = 24 * time.Hour
	}
	return &Manager{
		secret:        []byte(secret),
		adminUser:     adminUser,
		adminPassHash: passwordHash,
		tokenDuration: tokenDuration,
	}
}

// Login verifies operator credentials and issues a token pair
func (m *Manager) Login(username, password string) (*TokenPair, error) {
	if username != m.adminUser {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.adminPassHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := m.GenerateToken(username)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken: token,
		ExpiresIn:   int64(m.tokenDuration.Seconds()),
		TokenType:   "Bearer",
	}, nil
}

// GenerateToken signs an access token for the given operator
func (m *Manager) GenerateToken(username string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: username,
		Role:     "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "futures-guard",
			Audience:  []string{"futures-guard-api"},
		},
	})

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates an access token and returns its claims
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashPassword produces a bcrypt hash for operator provisioning tools
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
