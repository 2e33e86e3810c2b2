package controller

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rryowa/sessionguard/internal/models"
)

// setRefreshCookie stores raw in an HttpOnly cookie whose Max-Age equals the
// credential TTL. Cross-site delivery (SameSite=None) needs Secure, so it is
// only used over TLS.
func setRefreshCookie(c echo.Context, raw string, ttl time.Duration) {
	c.SetCookie(refreshCookie(c, raw, int(ttl.Seconds())))
}

func clearRefreshCookie(c echo.Context) {
	c.SetCookie(refreshCookie(c, "", -1))
}

func refreshCookie(c echo.Context, value string, maxAge int) *http.Cookie {
	secure := c.Scheme() == "https"
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteNoneMode
	}

	return &http.Cookie{
		Name:     models.RefreshCookieName,
		Value:    value,
		Path:     models.RefreshCookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	}
}

func readRefreshCookie(c echo.Context) string {
	cookie, err := c.Cookie(models.RefreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
