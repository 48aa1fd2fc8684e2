package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storefronthq/storefront/internal/auth"
	"github.com/storefronthq/storefront/internal/config"
	"github.com/storefronthq/storefront/internal/domain/customer"
	"github.com/storefronthq/storefront/internal/http/middlewares"
)

// SessionService is the auth orchestration surface the handler depends on.
// Kept as an interface so tests can drive the handler with a fake.
type SessionService interface {
	Register(ctx context.Context, name, email, password string) (customer.Customer, auth.Session, error)
	Login(ctx context.Context, email, password string) (customer.Customer, auth.Session, error)
	Refresh(ctx context.Context, rawRefresh string) (customer.Customer, auth.Session, error)
	Logout(ctx context.Context, rawRefresh string)
	CurrentUser(ctx context.Context, rawAccess string) (customer.Customer, error)
}

type CustomerReader interface {
	GetByID(ctx context.Context, id string) (customer.Customer, error)
}

type AuthHandler struct {
	sessions  SessionService
	customers CustomerReader
	cookies   *auth.Cookies
}

func NewAuthHandler(sessions SessionService, customers CustomerReader, cookies *auth.Cookies) *AuthHandler {
	return &AuthHandler{sessions: sessions, customers: customers, cookies: cookies}
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req customer.CreateRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	cust, session, err := h.sessions.Register(cctx, req.Name, req.Email, req.Password)

	if err != nil {
		if errors.Is(err, customer.ErrEmailTaken) {
			RespondError(ctx, http.StatusBadRequest, "email_taken", "Email is already in use.", nil)
			return
		}

		RespondInternal(ctx, "Could not create account")
		return
	}

	h.cookies.SetSession(ctx, session)

	ctx.JSON(http.StatusCreated, gin.H{"user": cust.Public()})
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	cust, session, err := h.sessions.Login(cctx, req.Email, req.Password)

	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			RespondUnauthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
			return
		}

		RespondInternal(ctx, "Could not sign in")
		return
	}

	h.cookies.SetSession(ctx, session)

	ctx.JSON(http.StatusOK, gin.H{"user": cust.Public()})
}

// Refresh rotates the session from the refresh cookie. The previous refresh
// token is dead after this call whether or not the client saves the new one.
func (h *AuthHandler) Refresh(ctx *gin.Context) {
	raw, ok := h.cookies.RefreshToken(ctx)

	if !ok {
		RespondUnauthorized(ctx, "invalid_refresh", "Missing refresh token")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	cust, session, err := h.sessions.Refresh(cctx, raw)

	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			h.cookies.Clear(ctx)
			RespondUnauthorized(ctx, "invalid_refresh", "Invalid refresh token")
			return
		}

		RespondInternal(ctx, "Could not refresh session")
		return
	}

	h.cookies.SetSession(ctx, session)

	ctx.JSON(http.StatusOK, gin.H{"user": cust.Public()})
}

// Logout always succeeds: revocation is best effort and the cookies are
// cleared no matter what the store says.
func (h *AuthHandler) Logout(ctx *gin.Context) {
	raw, ok := h.cookies.RefreshToken(ctx)

	if ok {
		cctx, cancel := config.WithTimeout(3 * time.Second)
		defer cancel()

		h.sessions.Logout(cctx, raw)
	}

	h.cookies.Clear(ctx)

	ctx.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (h *AuthHandler) Me(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	// Fast path: the access cookie on the request is still valid.
	if raw, ok := h.cookies.AccessToken(ctx); ok {
		cust, err := h.sessions.CurrentUser(cctx, raw)
		if err == nil {
			ctx.JSON(http.StatusOK, gin.H{"user": cust.Public()})
			return
		}
	}

	// The guard may have just refreshed the session; the request still
	// carries the stale cookie, so fall back to the identity it stashed.
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnauthorized(ctx, "unauthorized", "Authentication required")
		return
	}

	cust, err := h.customers.GetByID(cctx, userID)
	if err != nil {
		RespondUnauthorized(ctx, "unauthorized", "Authentication required")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"user": cust.Public()})
}
