package auth

import (
	"fmt"
	"time"

	"exam-prep-service/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	purposeSession = "session"
	purposeReset   = "reset"
)

// Claims are carried in session and password-reset tokens.
type Claims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email"`
	Name        string   `json:"name,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Purpose     string   `json:"purpose"`
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret   []byte
	ttl      time.Duration
	resetTTL time.Duration
	now      func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, resetTTL: time.Hour, now: time.Now}
}

func (i *Issuer) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// IssueSession creates a session token for an account.
func (i *Issuer) IssueSession(userID, email, name string, permissions []string) (domain.Session, error) {
	now := i.now()
	expires := now.Add(i.ttl)
	token, err := i.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Email:       email,
		Name:        name,
		Permissions: permissions,
		Purpose:     purposeSession,
	})
	if err != nil {
		return domain.Session{}, err
	}
	return domain.Session{
		UserID:      userID,
		Email:       email,
		Name:        name,
		Permissions: permissions,
		Token:       token,
		ExpiresAt:   expires,
	}, nil
}

// IssueReset creates a short-lived password reset token.
func (i *Issuer) IssueReset(userID, email string) (string, error) {
	now := i.now()
	return i.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.resetTTL)),
		},
		Email:   email,
		Purpose: purposeReset,
	})
}

// Parse verifies signature, expiry and purpose.
func (i *Issuer) Parse(tokenString, purpose string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Purpose != purpose {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

// SessionFromClaims rebuilds the session a token represents.
func SessionFromClaims(token string, c *Claims) domain.Session {
	s := domain.Session{
		UserID:      c.Subject,
		Email:       c.Email,
		Name:        c.Name,
		Permissions: c.Permissions,
		Token:       token,
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s
}
