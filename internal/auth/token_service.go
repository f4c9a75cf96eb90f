package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/passq/passq/internal/keysource"
	"github.com/passq/passq/pkg/metrics"
)

// Token lifetimes applied when the configuration leaves them unset.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Default claim values identifying this service and its consumers.
const (
	DefaultIssuer   = "passq-auth"
	DefaultAudience = "passq-api"
)

// TokenKind distinguishes short-lived access tokens from long-lived
// refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Claims is the signed payload of an issued token.
type Claims struct {
	Kind      TokenKind `json:"kind"`
	SessionID string    `json:"sid"`
	DeviceID  string    `json:"did,omitempty"`
	Scope     []string  `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// TokenConfig bundles the configuration required to build a TokenService.
type TokenConfig struct {
	Issuer          string
	Audience        string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Clock           func() time.Time
}

// IssueInput holds the parameters for issuing one token.
type IssueInput struct {
	Subject   string
	SessionID string
	Kind      TokenKind
	DeviceID  string
	Scope     []string
}

// IssuedToken is one signed token together with the identifiers the session
// registry needs to track and later revoke it.
type IssuedToken struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

// TokenService signs and verifies session tokens as compact JWS (HS256).
// Verification is pure: it never consults the revocation registry, which
// holds mutable state and is checked by callers as a separate step.
type TokenService struct {
	key        []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService resolves the signing key from the source and validates the
// configuration. The signing key is distinct from the encryption key by
// key-source contract.
func NewTokenService(ctx context.Context, source keysource.Source, cfg TokenConfig) (*TokenService, error) {
	if source == nil {
		return nil, errors.New("token service: key source is required")
	}

	key, err := source.Key(ctx, keysource.PurposeTokenSigning)
	if err != nil {
		return nil, fmt.Errorf("token service: resolve signing key: %w", err)
	}

	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}
	audience := cfg.Audience
	if audience == "" {
		audience = DefaultAudience
	}

	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &TokenService{
		key:        key,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
	}, nil
}

// AccessTokenTTL reports the configured access token lifetime.
func (s *TokenService) AccessTokenTTL() time.Duration { return s.accessTTL }

// RefreshTokenTTL reports the configured refresh token lifetime.
func (s *TokenService) RefreshTokenTTL() time.Duration { return s.refreshTTL }

// Issue signs a token of the requested kind. Each call assigns a fresh jti.
func (s *TokenService) Issue(input IssueInput) (IssuedToken, error) {
	if strings.TrimSpace(input.Subject) == "" {
		return IssuedToken{}, errors.New("token service: subject is required")
	}
	if strings.TrimSpace(input.SessionID) == "" {
		return IssuedToken{}, errors.New("token service: session id is required")
	}

	ttl := s.accessTTL
	switch input.Kind {
	case TokenKindAccess:
	case TokenKindRefresh:
		ttl = s.refreshTTL
	default:
		return IssuedToken{}, fmt.Errorf("token service: unknown token kind %q", input.Kind)
	}

	now := s.now()
	expiresAt := now.Add(ttl)
	tokenID := uuid.NewString()

	claims := &Claims{
		Kind:      input.Kind,
		SessionID: input.SessionID,
		DeviceID:  input.DeviceID,
		Scope:     append([]string(nil), input.Scope...),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   input.Subject,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("token service: sign token: %w", err)
	}

	metrics.TokensIssued.WithLabelValues(string(input.Kind)).Inc()

	return IssuedToken{Token: signed, TokenID: tokenID, ExpiresAt: expiresAt}, nil
}

// Verify parses and validates a signed token and checks that it carries the
// expected kind. Failures map onto the closed error set: ErrTokenExpired,
// ErrTokenMalformed, ErrBadSignature, ErrWrongKind.
func (s *TokenService) Verify(tokenString string, expected TokenKind) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrTokenMalformed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrBadSignature
		default:
			return nil, ErrTokenMalformed
		}
	}

	if claims.ID == "" || claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrTokenMalformed
	}

	if claims.Kind != expected {
		return nil, ErrWrongKind
	}

	return &claims, nil
}
