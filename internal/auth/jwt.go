// Package auth issues and validates operator tokens for the admin API.
//
// Operator tokens are HS256 JWTs signed with ADMIN_JWT_SIGNING_KEY. The
// subject names the operator and is recorded as the actor on overrides,
// acknowledgements and incident resolutions. Tokens are minted with
// tutorguardctl; there is no login flow.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token defaults.
const (
	DefaultIssuer   = "tutorguard"
	DefaultAudience = "tutorguard-admin"

	// DefaultTokenExpiry is the lifetime of a minted operator token.
	DefaultTokenExpiry = 8 * time.Hour
)

// Token errors.
var (
	ErrInvalidToken   = errors.New("invalid operator token")
	ErrTokenExpired   = errors.New("operator token has expired")
	ErrMissingSubject = errors.New("operator token has no subject")
	ErrNoSigningKey   = errors.New("no signing key configured")
)

// Claims are the claims of an operator token.
type Claims struct {
	jwt.RegisteredClaims

	// Role is informational; every valid token grants admin access.
	Role string `json:"role,omitempty"`
}

// TokenConfig holds configuration for the token service.
type TokenConfig struct {
	// SigningKey is the HS256 secret.
	SigningKey string

	// Issuer defaults to DefaultIssuer.
	Issuer string

	// Audience defaults to DefaultAudience.
	Audience string

	// Expiry defaults to DefaultTokenExpiry.
	Expiry time.Duration

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// TokenService mints and validates operator tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   string
	expiry     time.Duration
	now        func() time.Time
}

// NewTokenService creates a token service.
func NewTokenService(cfg TokenConfig) *TokenService {
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	if cfg.Expiry == 0 {
		cfg.Expiry = DefaultTokenExpiry
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TokenService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		expiry:     cfg.Expiry,
		now:        cfg.Now,
	}
}

// Issue mints a token for operator subject.
func (s *TokenService) Issue(subject, role string) (string, time.Time, error) {
	if len(s.signingKey) == 0 {
		return "", time.Time{}, ErrNoSigningKey
	}
	if subject == "" {
		return "", time.Time{}, ErrMissingSubject
	}

	now := s.now()
	expiresAt := now.Add(s.expiry)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        generateTokenID(),
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing operator token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate checks a token and returns its claims.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	if len(s.signingKey) == 0 {
		return nil, ErrNoSigningKey
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

func generateTokenID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
