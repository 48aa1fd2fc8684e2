package middlewares

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/storefronthq/storefront/internal/auth"
	"github.com/storefronthq/storefront/internal/domain/customer"
)

// Keep these interfaces small so tests can fake them easily.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*auth.Claims, error)
}

type SessionRefresher interface {
	Refresh(ctx context.Context, rawRefresh string) (customer.Customer, auth.Session, error)
}

// SessionGuard authenticates requests from the session cookies. When the
// access token is gone or expired it attempts one silent refresh from the
// refresh cookie before rejecting the request.
type SessionGuard struct {
	jwt      TokenVerifier
	sessions SessionRefresher
	cookies  *auth.Cookies
	sf       singleflight.Group
}

func NewSessionGuard(jwt TokenVerifier, sessions SessionRefresher, cookies *auth.Cookies) *SessionGuard {
	return &SessionGuard{jwt: jwt, sessions: sessions, cookies: cookies}
}

type refreshResult struct {
	cust    customer.Customer
	session auth.Session
}

func (g *SessionGuard) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw, ok := g.cookies.AccessToken(c); ok {
			claims, err := g.jwt.VerifyAccessToken(raw)
			if err == nil {
				c.Set(ctxUserIDKey, claims.UserID)
				c.Set(ctxEmailKey, claims.Email)
				c.Next()
				return
			}
			// fall through to the refresh path on any verification failure
		}

		rawRefresh, ok := g.cookies.RefreshToken(c)
		if !ok {
			unauthorized(c)
			return
		}

		// Concurrent requests holding the same refresh token share one
		// rotation. Without this, the second request would present an
		// already-rotated token and get logged out.
		v, err, _ := g.sf.Do(rawRefresh, func() (any, error) {
			cust, session, err := g.sessions.Refresh(c.Request.Context(), rawRefresh)
			if err != nil {
				return nil, err
			}
			return refreshResult{cust: cust, session: session}, nil
		})

		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				g.cookies.Clear(c)
				unauthorized(c)
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{
					"code":    "internal_error",
					"message": "Something went wrong",
				},
			})
			return
		}

		res := v.(refreshResult)
		g.cookies.SetSession(c, res.session)
		c.Set(ctxUserIDKey, res.cust.ID)
		c.Set(ctxEmailKey, res.cust.Email)

		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"code":    "unauthorized",
			"message": "Authentication required",
		},
	})
}
