package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storefronthq/storefront/internal/auth"
	"github.com/storefronthq/storefront/internal/domain/customer"
	"github.com/storefronthq/storefront/internal/http/handlers"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSessions struct {
	registerFn func(ctx context.Context, name, email, password string) (customer.Customer, auth.Session, error)
	loginFn    func(ctx context.Context, email, password string) (customer.Customer, auth.Session, error)
	refreshFn  func(ctx context.Context, rawRefresh string) (customer.Customer, auth.Session, error)
	logoutFn   func(ctx context.Context, rawRefresh string)
	currentFn  func(ctx context.Context, rawAccess string) (customer.Customer, error)
}

func (f *fakeSessions) Register(ctx context.Context, name, email, password string) (customer.Customer, auth.Session, error) {
	if f.registerFn != nil {
		return f.registerFn(ctx, name, email, password)
	}
	return customer.Customer{}, auth.Session{}, nil
}

func (f *fakeSessions) Login(ctx context.Context, email, password string) (customer.Customer, auth.Session, error) {
	if f.loginFn != nil {
		return f.loginFn(ctx, email, password)
	}
	return customer.Customer{}, auth.Session{}, nil
}

func (f *fakeSessions) Refresh(ctx context.Context, rawRefresh string) (customer.Customer, auth.Session, error) {
	if f.refreshFn != nil {
		return f.refreshFn(ctx, rawRefresh)
	}
	return customer.Customer{}, auth.Session{}, nil
}

func (f *fakeSessions) Logout(ctx context.Context, rawRefresh string) {
	if f.logoutFn != nil {
		f.logoutFn(ctx, rawRefresh)
	}
}

func (f *fakeSessions) CurrentUser(ctx context.Context, rawAccess string) (customer.Customer, error) {
	if f.currentFn != nil {
		return f.currentFn(ctx, rawAccess)
	}
	return customer.Customer{}, auth.ErrUnauthorized
}

type fakeCustomerReader struct {
	getFn func(ctx context.Context, id string) (customer.Customer, error)
}

func (f *fakeCustomerReader) GetByID(ctx context.Context, id string) (customer.Customer, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return customer.Customer{}, customer.ErrNotFound
}

func testCustomer() customer.Customer {
	return customer.Customer{
		ID:           "11111111-1111-4111-8111-111111111111",
		Name:         "Jo",
		Email:        "jo@example.com",
		PasswordHash: "$2a$10$secret",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
}

func testSession() auth.Session {
	return auth.Session{
		AccessToken:      "access-raw",
		AccessExpiresAt:  time.Now().Add(15 * time.Minute),
		RefreshToken:     "refresh-raw",
		RefreshExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	}
}

func newAuthRouter(sessions *fakeSessions, customers *fakeCustomerReader) *gin.Engine {
	h := handlers.NewAuthHandler(sessions, customers, auth.NewCookies("test"))

	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", h.Refresh)
	r.POST("/auth/logout", h.Logout)
	r.GET("/auth/me", h.Me)
	return r
}

func cookieByName(res *http.Response, name string) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRegisterSetsSessionCookies(t *testing.T) {
	sessions := &fakeSessions{
		registerFn: func(ctx context.Context, name, email, password string) (customer.Customer, auth.Session, error) {
			return testCustomer(), testSession(), nil
		},
	}
	r := newAuthRouter(sessions, &fakeCustomerReader{})

	body := `{"name":"Jo","email":"jo@example.com","password":"secret1"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("got status %d, want 201, body=%s", w.Code, w.Body.String())
	}

	res := w.Result()

	for _, name := range []string{auth.AccessCookieName, auth.RefreshCookieName} {
		c := cookieByName(res, name)
		if c == nil {
			t.Fatalf("missing %s cookie", name)
		}
		if !c.HttpOnly {
			t.Errorf("%s cookie must be httpOnly", name)
		}
		if c.Path != "/" {
			t.Errorf("%s cookie path = %q, want /", name, c.Path)
		}
		if c.MaxAge <= 0 {
			t.Errorf("%s cookie max-age = %d, want positive", name, c.MaxAge)
		}
	}

	if strings.Contains(w.Body.String(), "password") {
		t.Errorf("response body leaks credential material: %s", w.Body.String())
	}

	var parsed struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if parsed.User.Email != "jo@example.com" {
		t.Errorf("user email = %q", parsed.User.Email)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	sessions := &fakeSessions{
		registerFn: func(ctx context.Context, name, email, password string) (customer.Customer, auth.Session, error) {
			return customer.Customer{}, auth.Session{}, customer.ErrEmailTaken
		},
	}
	r := newAuthRouter(sessions, &fakeCustomerReader{})

	body := `{"name":"Jo","email":"jo@example.com","password":"secret1"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400, body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "email_taken") {
		t.Errorf("expected email_taken code, body=%s", w.Body.String())
	}
}

func TestLoginWrongPassword(t *testing.T) {
	sessions := &fakeSessions{
		loginFn: func(ctx context.Context, email, password string) (customer.Customer, auth.Session, error) {
			return customer.Customer{}, auth.Session{}, auth.ErrInvalidCredentials
		},
	}
	r := newAuthRouter(sessions, &fakeCustomerReader{})

	body := `{"email":"jo@example.com","password":"wrong"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401, body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "invalid_credentials") {
		t.Errorf("expected invalid_credentials code, body=%s", w.Body.String())
	}
	if len(w.Result().Cookies()) != 0 {
		t.Errorf("failed login must not set cookies: %v", w.Result().Cookies())
	}
}

func TestRefreshRotatesCookies(t *testing.T) {
	var presented string

	sessions := &fakeSessions{
		refreshFn: func(ctx context.Context, rawRefresh string) (customer.Customer, auth.Session, error) {
			presented = rawRefresh
			s := testSession()
			s.AccessToken = "access-v2"
			s.RefreshToken = "refresh-v2"
			return testCustomer(), s, nil
		},
	}
	r := newAuthRouter(sessions, &fakeCustomerReader{})

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: "refresh-v1"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if presented != "refresh-v1" {
		t.Errorf("service saw refresh token %q, want refresh-v1", presented)
	}

	c := cookieByName(w.Result(), auth.RefreshCookieName)
	if c == nil || c.Value != "refresh-v2" {
		t.Errorf("refresh cookie not rotated: %+v", c)
	}
}

func TestRefreshWithoutCookie(t *testing.T) {
	r := newAuthRouter(&fakeSessions{}, &fakeCustomerReader{})

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", w.Code)
	}
}

func TestRefreshRejectedClearsCookies(t *testing.T) {
	sessions := &fakeSessions{
		refreshFn: func(ctx context.Context, rawRefresh string) (customer.Customer, auth.Session, error) {
			return customer.Customer{}, auth.Session{}, auth.ErrUnauthorized
		},
	}
	r := newAuthRouter(sessions, &fakeCustomerReader{})

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: "stolen-or-stale"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401, body=%s", w.Code, w.Body.String())
	}

	c := cookieByName(w.Result(), auth.RefreshCookieName)
	if c == nil || c.Value != "" || c.MaxAge >= 0 {
		t.Errorf("refresh cookie not cleared: %+v", c)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	var revoked []string

	sessions := &fakeSessions{
		logoutFn: func(ctx context.Context, rawRefresh string) {
			revoked = append(revoked, rawRefresh)
		},
	}
	r := newAuthRouter(sessions, &fakeCustomerReader{})

	// with a cookie, then without one: both succeed with the same body
	for i, withCookie := range []bool{true, false} {
		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		if withCookie {
			req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: "refresh-raw"})
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("call %d: got status %d, want 200", i, w.Code)
		}
		if !strings.Contains(w.Body.String(), "Logged out successfully") {
			t.Errorf("call %d: unexpected body %s", i, w.Body.String())
		}

		c := cookieByName(w.Result(), auth.AccessCookieName)
		if c == nil || c.Value != "" {
			t.Errorf("call %d: access cookie not cleared", i)
		}
	}

	if len(revoked) != 1 || revoked[0] != "refresh-raw" {
		t.Errorf("revocations = %v, want one for refresh-raw", revoked)
	}
}

func TestMeWithValidAccessCookie(t *testing.T) {
	sessions := &fakeSessions{
		currentFn: func(ctx context.Context, rawAccess string) (customer.Customer, error) {
			if rawAccess != "access-raw" {
				return customer.Customer{}, auth.ErrUnauthorized
			}
			return testCustomer(), nil
		},
	}
	r := newAuthRouter(sessions, &fakeCustomerReader{})

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: auth.AccessCookieName, Value: "access-raw"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Errorf("response body leaks credential material: %s", w.Body.String())
	}
}

func TestMeWithoutSession(t *testing.T) {
	r := newAuthRouter(&fakeSessions{}, &fakeCustomerReader{
		getFn: func(ctx context.Context, id string) (customer.Customer, error) {
			return customer.Customer{}, errors.New("should not be called")
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", w.Code)
	}
}
