package middlewares_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storefronthq/storefront/internal/auth"
	"github.com/storefronthq/storefront/internal/domain/customer"
	"github.com/storefronthq/storefront/internal/http/middlewares"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeVerifier struct {
	verifyFn func(token string) (*auth.Claims, error)
}

func (f *fakeVerifier) VerifyAccessToken(token string) (*auth.Claims, error) {
	if f.verifyFn != nil {
		return f.verifyFn(token)
	}
	return nil, auth.ErrInvalidToken
}

type fakeRefresher struct {
	mu        sync.Mutex
	calls     int
	refreshFn func(ctx context.Context, rawRefresh string) (customer.Customer, auth.Session, error)
}

func (f *fakeRefresher) Refresh(ctx context.Context, rawRefresh string) (customer.Customer, auth.Session, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.refreshFn != nil {
		return f.refreshFn(ctx, rawRefresh)
	}
	return customer.Customer{}, auth.Session{}, auth.ErrUnauthorized
}

func guardedRouter(verifier *fakeVerifier, refresher *fakeRefresher) *gin.Engine {
	guard := middlewares.NewSessionGuard(verifier, refresher, auth.NewCookies("test"))

	r := gin.New()
	r.GET("/protected", guard.RequireSession(), func(c *gin.Context) {
		id, _ := middlewares.UserIDFromContext(c)
		c.JSON(http.StatusOK, gin.H{"userId": id})
	})
	return r
}

func TestGuardPassesWithValidAccessCookie(t *testing.T) {
	verifier := &fakeVerifier{
		verifyFn: func(token string) (*auth.Claims, error) {
			if token != "good-access" {
				return nil, auth.ErrInvalidToken
			}
			return &auth.Claims{UserID: "u1", Email: "jo@example.com"}, nil
		},
	}
	refresher := &fakeRefresher{}
	r := guardedRouter(verifier, refresher)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: auth.AccessCookieName, Value: "good-access"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if refresher.calls != 0 {
		t.Errorf("refresh called %d times for a valid access token", refresher.calls)
	}
}

func TestGuardSilentlyRefreshesExpiredAccess(t *testing.T) {
	verifier := &fakeVerifier{
		verifyFn: func(token string) (*auth.Claims, error) {
			return nil, auth.ErrTokenExpired
		},
	}
	refresher := &fakeRefresher{
		refreshFn: func(ctx context.Context, rawRefresh string) (customer.Customer, auth.Session, error) {
			if rawRefresh != "good-refresh" {
				return customer.Customer{}, auth.Session{}, auth.ErrUnauthorized
			}
			return customer.Customer{ID: "u1", Email: "jo@example.com"}, auth.Session{
					AccessToken:      "access-v2",
					AccessExpiresAt:  time.Now().Add(15 * time.Minute),
					RefreshToken:     "refresh-v2",
					RefreshExpiresAt: time.Now().Add(7 * 24 * time.Hour),
				}, nil
		},
	}
	r := guardedRouter(verifier, refresher)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: auth.AccessCookieName, Value: "expired-access"})
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: "good-refresh"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if refresher.calls != 1 {
		t.Errorf("refresh called %d times, want 1", refresher.calls)
	}

	var rotated bool
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.AccessCookieName && c.Value == "access-v2" {
			rotated = true
		}
	}
	if !rotated {
		t.Error("new access cookie not set after silent refresh")
	}
}

func TestGuardRejectsWithoutAnyCookie(t *testing.T) {
	r := guardedRouter(&fakeVerifier{}, &fakeRefresher{})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", w.Code)
	}
}

func TestGuardClearsCookiesOnRejectedRefresh(t *testing.T) {
	r := guardedRouter(&fakeVerifier{}, &fakeRefresher{
		refreshFn: func(ctx context.Context, rawRefresh string) (customer.Customer, auth.Session, error) {
			return customer.Customer{}, auth.Session{}, auth.ErrUnauthorized
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: "already-rotated"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401, body=%s", w.Code, w.Body.String())
	}

	var cleared bool
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.RefreshCookieName && c.Value == "" {
			cleared = true
		}
	}
	if !cleared {
		t.Error("refresh cookie not cleared on rejected refresh")
	}
}

func TestGuardStoreFailureIs500(t *testing.T) {
	r := guardedRouter(&fakeVerifier{}, &fakeRefresher{
		refreshFn: func(ctx context.Context, rawRefresh string) (customer.Customer, auth.Session, error) {
			return customer.Customer{}, auth.Session{}, errors.New("pg down")
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: "good-refresh"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("got status %d, want 500, body=%s", w.Code, w.Body.String())
	}
}

// Two requests racing on the same refresh cookie must share one rotation.
func TestGuardCoalescesConcurrentRefreshes(t *testing.T) {
	release := make(chan struct{})

	refresher := &fakeRefresher{
		refreshFn: func(ctx context.Context, rawRefresh string) (customer.Customer, auth.Session, error) {
			<-release
			return customer.Customer{ID: "u1"}, auth.Session{
					AccessToken:      "access-v2",
					AccessExpiresAt:  time.Now().Add(15 * time.Minute),
					RefreshToken:     "refresh-v2",
					RefreshExpiresAt: time.Now().Add(7 * 24 * time.Hour),
				}, nil
		},
	}
	r := guardedRouter(&fakeVerifier{}, refresher)

	const n = 4
	var wg sync.WaitGroup
	codes := make([]int, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: "shared-refresh"})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			codes[i] = w.Code
		}(i)
	}

	// let the requests pile up on the singleflight key before releasing
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("request %d: got status %d, want 200", i, code)
		}
	}

	refresher.mu.Lock()
	calls := refresher.calls
	refresher.mu.Unlock()

	if calls != 1 {
		t.Errorf("refresh executed %d times, want 1", calls)
	}
}
