package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/storefronthq/storefront/internal/domain/customer"
	"github.com/storefronthq/storefront/internal/security"
)

type fakeCustomerStore struct {
	byEmail map[string]customer.Customer
	byID    map[string]customer.Customer
}

func newFakeCustomerStore() *fakeCustomerStore {
	return &fakeCustomerStore{
		byEmail: make(map[string]customer.Customer),
		byID:    make(map[string]customer.Customer),
	}
}

func (f *fakeCustomerStore) GetByEmail(_ context.Context, email string) (customer.Customer, error) {
	c, ok := f.byEmail[email]
	if !ok {
		return customer.Customer{}, customer.ErrNotFound
	}
	return c, nil
}

func (f *fakeCustomerStore) GetByID(_ context.Context, id string) (customer.Customer, error) {
	c, ok := f.byID[id]
	if !ok {
		return customer.Customer{}, customer.ErrNotFound
	}
	return c, nil
}

func (f *fakeCustomerStore) Create(_ context.Context, name, email, passwordHash string) (customer.Customer, error) {
	if _, ok := f.byEmail[email]; ok {
		return customer.Customer{}, customer.ErrEmailTaken
	}

	now := time.Now().UTC()
	c := customer.Customer{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.byEmail[email] = c
	f.byID[c.ID] = c
	return c, nil
}

type refreshRow struct {
	rec     RefreshTokenRecord
	revoked bool
}

type fakeRefreshStore struct {
	rows map[string]*refreshRow
}

func newFakeRefreshStore() *fakeRefreshStore {
	return &fakeRefreshStore{rows: make(map[string]*refreshRow)}
}

func (f *fakeRefreshStore) Save(_ context.Context, rec RefreshTokenRecord) error {
	f.rows[rec.ID] = &refreshRow{rec: rec}
	return nil
}

func (f *fakeRefreshStore) Rotate(_ context.Context, id string, presentedHash string, next RefreshTokenRecord) error {
	row, ok := f.rows[id]

	if !ok || row.revoked || time.Now().UTC().After(row.rec.ExpiresAt) || row.rec.TokenHash != presentedHash {
		return ErrRefreshRejected
	}

	row.revoked = true
	f.rows[next.ID] = &refreshRow{rec: next}
	return nil
}

func (f *fakeRefreshStore) Revoke(_ context.Context, id string) error {
	if row, ok := f.rows[id]; ok {
		row.revoked = true
	}
	return nil
}

func newTestService() (*Service, *fakeCustomerStore, *fakeRefreshStore) {
	customers := newFakeCustomerStore()
	refresh := newFakeRefreshStore()
	jwt := NewManager("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)
	return NewService(customers, refresh, jwt), customers, refresh
}

func TestRegisterHashesPasswordAndIssuesSession(t *testing.T) {
	svc, customers, _ := newTestService()
	ctx := context.Background()

	cust, sess, err := svc.Register(ctx, "John Doe", "john@example.com", "password123")

	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	stored := customers.byEmail["john@example.com"]
	if stored.PasswordHash == "password123" || stored.PasswordHash == "" {
		t.Fatal("password stored in plaintext or missing")
	}
	if err := security.CheckPassword(stored.PasswordHash, "password123"); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}

	if sess.AccessToken == "" || sess.RefreshToken == "" {
		t.Fatal("expected both tokens issued")
	}
	if cust.Email != "john@example.com" {
		t.Fatalf("unexpected customer: %+v", cust)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "John Doe", "john@example.com", "password123")
	if err != nil {
		t.Fatalf("first Register: %v", err)
	}

	_, _, err = svc.Register(ctx, "Jane Doe", "john@example.com", "hunter22")

	if !errors.Is(err, customer.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "John Doe", "john@example.com", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	t.Run("correct password", func(t *testing.T) {
		cust, sess, err := svc.Login(ctx, "john@example.com", "password123")
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		if cust.Name != "John Doe" || sess.AccessToken == "" {
			t.Fatalf("unexpected login result: %+v", cust)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "john@example.com", "wrong")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("unknown email reports the same error", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "nobody@example.com", "password123")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})
}

func TestRefreshRotation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, sess, err := svc.Register(ctx, "John Doe", "john@example.com", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, rotated, err := svc.Refresh(ctx, sess.RefreshToken)

	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if rotated.AccessToken == sess.AccessToken {
		t.Fatal("access token was not rotated")
	}
	if rotated.RefreshToken == sess.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// the pre-rotation refresh token is dead
	_, _, err = svc.Refresh(ctx, sess.RefreshToken)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected replayed token to fail with ErrUnauthorized, got %v", err)
	}

	// and the rotated one still works
	_, _, err = svc.Refresh(ctx, rotated.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh(rotated): %v", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, sess, err := svc.Register(ctx, "John Doe", "john@example.com", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, _, err = svc.Refresh(ctx, sess.AccessToken)

	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for access-token-as-refresh, got %v", err)
	}
}

func TestRefreshDeletedSubject(t *testing.T) {
	svc, customers, _ := newTestService()
	ctx := context.Background()

	cust, sess, err := svc.Register(ctx, "John Doe", "john@example.com", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	delete(customers.byID, cust.ID)
	delete(customers.byEmail, cust.Email)

	_, _, err = svc.Refresh(ctx, sess.RefreshToken)

	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for deleted subject, got %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	svc, _, refresh := newTestService()
	ctx := context.Background()

	_, sess, err := svc.Register(ctx, "John Doe", "john@example.com", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	svc.Logout(ctx, sess.RefreshToken)
	svc.Logout(ctx, sess.RefreshToken) // second call is a no-op, not a failure
	svc.Logout(ctx, "")                // so is a missing cookie

	for _, row := range refresh.rows {
		if !row.revoked {
			t.Fatal("expected all refresh rows revoked after logout")
		}
	}

	_, _, err = svc.Refresh(ctx, sess.RefreshToken)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected refresh after logout to fail, got %v", err)
	}
}

func TestCurrentUser(t *testing.T) {
	svc, customers, _ := newTestService()
	ctx := context.Background()

	cust, sess, err := svc.Register(ctx, "John Doe", "john@example.com", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := svc.CurrentUser(ctx, sess.AccessToken)
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if got.ID != cust.ID {
		t.Fatalf("got customer %s, want %s", got.ID, cust.ID)
	}

	if _, err := svc.CurrentUser(ctx, sess.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("refresh token accepted by CurrentUser: %v", err)
	}

	delete(customers.byID, cust.ID)

	if _, err := svc.CurrentUser(ctx, sess.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for deleted subject, got %v", err)
	}
}
