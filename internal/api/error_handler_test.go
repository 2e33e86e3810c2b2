package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/rryowa/sessionguard/internal/service"
	"github.com/rryowa/sessionguard/internal/util"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantReason string
	}{
		{"replay", fmt.Errorf("rotate: %w", service.ErrReplayDetected), http.StatusUnauthorized, reasonReauthenticate},
		{"tampered", service.ErrTampered, http.StatusUnauthorized, reasonReauthenticate},
		{"invalid", service.ErrInvalidCredential, http.StatusUnauthorized, reasonReauthenticate},
		{"replay with failed revoke", errors.Join(service.ErrReplayDetected, service.ErrStoreUnavailable), http.StatusUnauthorized, reasonReauthenticate},
		{"store down", fmt.Errorf("%w: timeout", service.ErrStoreUnavailable), http.StatusServiceUnavailable, reasonUnavailable},
		{"empty subject", service.ErrInvalidSubject, http.StatusBadRequest, service.ErrInvalidSubject.Error()},
		{"response error", util.NewBadRequestError("invalid request body"), http.StatusBadRequest, "invalid request body"},
		{"echo error", echo.NewHTTPError(http.StatusNotFound, "not found"), http.StatusNotFound, "not found"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, reasonInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, reason := classify(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}
