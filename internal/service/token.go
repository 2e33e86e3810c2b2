package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rryowa/sessionguard/internal/models"
	"github.com/rryowa/sessionguard/internal/util"
)

var (
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenInvalid         = errors.New("token invalid")
	ErrTokenMalformed       = errors.New("token is malformed")
	ErrWrongTokenKind       = errors.New("token kind mismatch")
	ErrInvalidSigningMethod = errors.New("invalid signing method")
)

// Claims is the payload of both access and refresh tokens; Kind tells them apart.
type Claims struct {
	Kind       string `json:"typ"`
	FamilyID   string `json:"fam,omitempty"`
	AuthMethod string `json:"amr,omitempty"`
	AuthTime   int64  `json:"auth_time,omitempty"`
	jwt.RegisteredClaims
}

var _ CredentialCodec = (*TokenService)(nil)

// TokenService signs and verifies HS512 JWTs for a single issuer and audience.
type TokenService struct {
	JwtSecretKey []byte
	issuer       string
	audience     string
	accessTTL    time.Duration
	refreshTTL   time.Duration
}

func NewTokenService(cfg *util.TokenConfig) *TokenService {
	return &TokenService{
		JwtSecretKey: cfg.JwtSecretKey,
		issuer:       cfg.Issuer,
		audience:     cfg.Audience,
		accessTTL:    cfg.AccessTTL,
		refreshTTL:   cfg.RefreshTTL,
	}
}

func (ts *TokenService) AccessTTL() time.Duration  { return ts.accessTTL }
func (ts *TokenService) RefreshTTL() time.Duration { return ts.refreshTTL }

// CreateAccessToken creates a short-lived access token for subject.
func (ts *TokenService) CreateAccessToken(subject string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(ts.accessTTL)
	claims := &Claims{
		Kind:     models.TokenKindAccess,
		AuthTime: now.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    ts.issuer,
			Audience:  jwt.ClaimStrings{ts.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := ts.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// EncodeRefresh signs the refresh credential for cred; the JWT expiry equals cred.ExpiresAt.
func (ts *TokenService) EncodeRefresh(cred models.RefreshCredential, authMethod string) (string, error) {
	claims := &Claims{
		Kind:       models.TokenKindRefresh,
		FamilyID:   cred.FamilyID,
		AuthMethod: authMethod,
		AuthTime:   cred.CreatedAt.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        cred.ID,
			Subject:   cred.Subject,
			Issuer:    ts.issuer,
			Audience:  jwt.ClaimStrings{ts.audience},
			IssuedAt:  jwt.NewNumericDate(cred.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(cred.ExpiresAt),
		},
	}

	return ts.sign(claims)
}

// DecodeRefresh verifies signature, issuer, audience and expiry, and requires the refresh kind.
func (ts *TokenService) DecodeRefresh(raw string) (*Claims, error) {
	claims, err := ts.parse(raw, ts.parserOptions(false)...)
	if err != nil {
		return nil, err
	}
	if claims.Kind != models.TokenKindRefresh {
		return nil, fmt.Errorf("%w: %q", ErrWrongTokenKind, claims.Kind)
	}
	return claims, nil
}

// ParseAccessToken verifies an access token. With allowExpired an expired but
// otherwise valid token is returned together with expired=true.
func (ts *TokenService) ParseAccessToken(raw string, allowExpired bool) (*Claims, bool, error) {
	claims, err := ts.parse(raw, ts.parserOptions(allowExpired)...)
	if err != nil {
		return nil, false, err
	}
	if claims.Kind != models.TokenKindAccess {
		return nil, false, fmt.Errorf("%w: %q", ErrWrongTokenKind, claims.Kind)
	}
	if allowExpired && !ts.addressedToUs(claims) {
		return nil, false, fmt.Errorf("%w: issuer or audience mismatch", ErrTokenInvalid)
	}

	expired := claims.ExpiresAt == nil || !time.Now().Before(claims.ExpiresAt.Time.Add(util.JWTLeeWay))
	return claims, expired, nil
}

// addressedToUs repeats the issuer and audience checks that
// jwt.WithoutClaimsValidation skips.
func (ts *TokenService) addressedToUs(claims *Claims) bool {
	if claims.Issuer != ts.issuer {
		return false
	}
	for _, aud := range claims.Audience {
		if aud == ts.audience {
			return true
		}
	}
	return false
}

func (ts *TokenService) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signedToken, err := token.SignedString(ts.JwtSecretKey)
	if err != nil {
		return "", fmt.Errorf("signed string: %w", err)
	}
	return signedToken, nil
}

func (ts *TokenService) parserOptions(skipClaimsValidation bool) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
	}
	if skipClaimsValidation {
		return append(opts, jwt.WithoutClaimsValidation())
	}
	return append(opts,
		jwt.WithLeeway(util.JWTLeeWay),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(ts.issuer),
		jwt.WithAudience(ts.audience),
	)
}

func (ts *TokenService) parse(raw string, opts ...jwt.ParserOption) (*Claims, error) {
	parsedToken, err := jwt.ParseWithClaims(
		raw,
		&Claims{},
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS512.Alg() {
				return nil, ErrInvalidSigningMethod
			}
			return ts.JwtSecretKey, nil
		},
		opts...,
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: %w", ErrTokenMalformed, err)
		default:
			return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
		}
	}

	claims, ok := parsedToken.Claims.(*Claims)
	if !ok || !parsedToken.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
