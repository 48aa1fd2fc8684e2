package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	AccessCookieName  = "access_token"
	RefreshCookieName = "refresh_token"
)

// Cookies maps a session onto the two httpOnly cookies that carry it.
// Both are scoped to path "/" and SameSite=Strict; Secure outside dev.
type Cookies struct {
	secure bool
}

func NewCookies(env string) *Cookies {
	return &Cookies{secure: env == "prod"}
}

func (c *Cookies) SetSession(ctx *gin.Context, s Session) {
	ctx.SetSameSite(http.SameSiteStrictMode)

	ctx.SetCookie(AccessCookieName, s.AccessToken, maxAgeFrom(s.AccessExpiresAt), "/", "", c.secure, true)
	ctx.SetCookie(RefreshCookieName, s.RefreshToken, maxAgeFrom(s.RefreshExpiresAt), "/", "", c.secure, true)
}

func (c *Cookies) Clear(ctx *gin.Context) {
	ctx.SetSameSite(http.SameSiteStrictMode)

	ctx.SetCookie(AccessCookieName, "", -1, "/", "", c.secure, true)
	ctx.SetCookie(RefreshCookieName, "", -1, "/", "", c.secure, true)
}

// AccessToken reads the access cookie; a missing cookie is "no session",
// not an error.
func (c *Cookies) AccessToken(ctx *gin.Context) (string, bool) {
	return readCookie(ctx, AccessCookieName)
}

func (c *Cookies) RefreshToken(ctx *gin.Context) (string, bool) {
	return readCookie(ctx, RefreshCookieName)
}

func readCookie(ctx *gin.Context, name string) (string, bool) {
	v, err := ctx.Cookie(name)

	if err != nil || v == "" {
		return "", false
	}

	return v, true
}

// maxAgeFrom converts an absolute expiry into a cookie Max-Age. An expiry
// at or before now yields -1, which SetCookie writes as an expired cookie
// rather than a session one.
func maxAgeFrom(exp time.Time) int {
	sec := int(time.Until(exp).Seconds())
	if sec <= 0 {
		return -1
	}
	return sec
}
