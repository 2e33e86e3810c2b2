package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/sessionguard/internal/models"
	"github.com/rryowa/sessionguard/internal/service"
	"github.com/rryowa/sessionguard/internal/util"
)

const (
	reasonReauthenticate = "re-authentication required"
	reasonUnavailable    = "service temporarily unavailable"
	reasonInternal       = "internal server error"
)

// ErrorHandler never echoes the rotation failure reason to the client; it is
// only logged.
func ErrorHandler(log *zap.SugaredLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, reason := classify(err)
		switch {
		case status == http.StatusUnauthorized && service.IsAuthFailure(err):
			log.Warnw("Rotation rejected", "error", err, "uri", c.Request().RequestURI)
		case status >= http.StatusInternalServerError:
			log.Errorw("HTTP error", "error", err, "uri", c.Request().RequestURI)
		}

		if err := c.JSON(status, models.ErrorResponse{Reason: reason}); err != nil {
			log.Errorw("failed to write json response", "error", err)
		}
	}
}

func classify(err error) (int, string) {
	if service.IsAuthFailure(err) {
		return http.StatusUnauthorized, reasonReauthenticate
	}
	if errors.Is(err, service.ErrStoreUnavailable) {
		return http.StatusServiceUnavailable, reasonUnavailable
	}
	if errors.Is(err, service.ErrInvalidSubject) {
		return http.StatusBadRequest, service.ErrInvalidSubject.Error()
	}

	var respErr util.MyResponseError
	if errors.As(err, &respErr) {
		return respErr.Status, respErr.Msg
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			return he.Code, msg
		}
		return he.Code, fmt.Sprint(he.Message)
	}

	return http.StatusInternalServerError, reasonInternal
}
