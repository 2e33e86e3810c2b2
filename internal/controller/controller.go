package controller

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/sessionguard/internal/fingerprint"
	"github.com/rryowa/sessionguard/internal/models"
	"github.com/rryowa/sessionguard/internal/service"
	"github.com/rryowa/sessionguard/internal/util"
)

const (
	bearerPrefix    = "Bearer "
	tokenTypeBearer = "Bearer"
)

type Controller struct {
	zapLogger   *zap.SugaredLogger
	authService *service.AuthService
}

func NewController(logger *zap.SugaredLogger, authService *service.AuthService) *Controller {
	return &Controller{
		zapLogger:   logger,
		authService: authService,
	}
}

// (GET /api/ping).
func (c *Controller) CheckServer(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, "ok")
}

// (POST /api/auth/sessions).
func (c *Controller) IssueSession(ctx echo.Context) error {
	var req models.IssueSessionRequest
	if err := ctx.Bind(&req); err != nil {
		return util.NewBadRequestError("invalid request body")
	}

	pair, err := c.authService.IssueSession(
		ctx.Request().Context(),
		req.Subject,
		fingerprint.FromRequest(ctx.Request()),
		req.AuthMethod,
	)
	if err != nil {
		return err
	}

	setRefreshCookie(ctx, pair.RefreshToken, c.authService.RefreshTTL())
	return ctx.JSON(http.StatusCreated, accessTokenResponse(pair))
}

// (POST /api/auth/refresh).
func (c *Controller) Refresh(ctx echo.Context) error {
	pair, err := c.authService.Refresh(
		ctx.Request().Context(),
		readRefreshCookie(ctx),
		bearerToken(ctx.Request()),
		fingerprint.FromRequest(ctx.Request()),
	)
	if err != nil {
		if service.IsAuthFailure(err) {
			clearRefreshCookie(ctx)
		}
		return err
	}

	if pair.RefreshToken != "" {
		setRefreshCookie(ctx, pair.RefreshToken, c.authService.RefreshTTL())
	}
	return ctx.JSON(http.StatusOK, accessTokenResponse(pair))
}

// (POST /api/auth/logout).
func (c *Controller) Logout(ctx echo.Context) error {
	if err := c.authService.Logout(ctx.Request().Context(), readRefreshCookie(ctx)); err != nil {
		return err
	}

	clearRefreshCookie(ctx)
	return ctx.NoContent(http.StatusNoContent)
}

// (POST /api/auth/logout-all).
func (c *Controller) LogoutAll(ctx echo.Context) error {
	var req models.LogoutAllRequest
	if err := ctx.Bind(&req); err != nil {
		return util.NewBadRequestError("invalid request body")
	}

	if err := c.authService.LogoutAll(ctx.Request().Context(), req.Subject); err != nil {
		return err
	}

	c.zapLogger.Infow("Logout everywhere", "subject", req.Subject)
	return ctx.NoContent(http.StatusNoContent)
}

func accessTokenResponse(pair *service.TokenPair) models.AccessTokenResponse {
	expiresIn := int64(time.Until(pair.AccessExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return models.AccessTokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   expiresIn,
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get(echo.HeaderAuthorization)
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}
