package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rryowa/sessionguard/internal/fingerprint"
)

// TokenPair is what a successful login or refresh hands back. RefreshToken is
// empty when the presented access token was still valid and nothing rotated.
type TokenPair struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
}

// AuthService is the HTTP-facing facade over rotation, revocation and access tokens.
type AuthService struct {
	engine  *RotationEngine
	revoker *SessionRevoker
	tokens  *TokenService
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewAuthService(engine *RotationEngine, revoker *SessionRevoker, tokens *TokenService, log *zap.SugaredLogger) *AuthService {
	return &AuthService{
		engine:  engine,
		revoker: revoker,
		tokens:  tokens,
		log:     log,
		now:     time.Now,
	}
}

func (s *AuthService) RefreshTTL() time.Duration {
	return s.engine.RefreshTTL()
}

func (s *AuthService) IssueSession(ctx context.Context, subject string, client fingerprint.Client, authMethod string) (*TokenPair, error) {
	refresh, err := s.engine.IssueNewFamily(ctx, subject, client, authMethod)
	if err != nil {
		return nil, err
	}

	access, expiresAt, err := s.tokens.CreateAccessToken(subject, s.now())
	if err != nil {
		return nil, fmt.Errorf("create access token: %w", err)
	}

	return &TokenPair{AccessToken: access, AccessExpiresAt: expiresAt, RefreshToken: refresh}, nil
}

// Refresh rotates refreshRaw. When accessRaw is a still-valid access token it
// is returned unchanged and no rotation happens; an expired one binds the
// rotation to its subject. Unparseable access tokens are ignored.
func (s *AuthService) Refresh(ctx context.Context, refreshRaw, accessRaw string, client fingerprint.Client) (*TokenPair, error) {
	var expectedSubject string
	if accessRaw != "" {
		claims, expired, err := s.tokens.ParseAccessToken(accessRaw, true)
		switch {
		case errors.Is(err, ErrWrongTokenKind):
			return nil, fmt.Errorf("%w: refresh token presented as access token", ErrInvalidCredential)
		case err != nil:
			s.log.Debugw("Ignoring unusable access token on refresh", "error", err)
		case !expired:
			return &TokenPair{AccessToken: accessRaw, AccessExpiresAt: claims.ExpiresAt.Time}, nil
		default:
			expectedSubject = claims.Subject
		}
	}

	if refreshRaw == "" {
		return nil, fmt.Errorf("%w: refresh token is missing", ErrInvalidCredential)
	}

	next, err := s.engine.Rotate(ctx, refreshRaw, client, expectedSubject)
	if err != nil {
		return nil, err
	}

	claims, err := s.tokens.DecodeRefresh(next)
	if err != nil {
		return nil, fmt.Errorf("decode rotated credential: %w", err)
	}

	access, expiresAt, err := s.tokens.CreateAccessToken(claims.Subject, s.now())
	if err != nil {
		return nil, fmt.Errorf("create access token: %w", err)
	}

	return &TokenPair{AccessToken: access, AccessExpiresAt: expiresAt, RefreshToken: next}, nil
}

// Logout revokes the family of refreshRaw. An unreadable credential has no
// family to revoke and is not an error.
func (s *AuthService) Logout(ctx context.Context, refreshRaw string) error {
	if refreshRaw == "" {
		return nil
	}

	claims, err := s.tokens.DecodeRefresh(refreshRaw)
	if err != nil {
		s.log.Debugw("Logout with unreadable refresh token", "error", err)
		return nil
	}

	return s.revoker.RevokeFamily(ctx, claims.FamilyID)
}

func (s *AuthService) LogoutAll(ctx context.Context, subject string) error {
	return s.revoker.RevokeAllForSubject(ctx, subject)
}
