package auth

import (
	"context"
	"errors"
	"time"

	"github.com/storefronthq/storefront/internal/domain/customer"
	"github.com/storefronthq/storefront/internal/security"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized covers every token-side refusal: bad signature,
	// expiry, wrong kind, revoked or replayed refresh token, and a subject
	// that no longer exists. Callers must not leak which one it was.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRefreshRejected is returned by the RefreshTokenStore when the
	// presented token row is missing, revoked, expired, or the hash does
	// not match.
	ErrRefreshRejected = errors.New("refresh token rejected")
)

// Session is the issued pair; it is never persisted as such. Validity is
// signature + expiry + kind, plus the server-side refresh record.
type Session struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RefreshTokenRecord is what the store keeps per refresh token: the JTI,
// an HMAC of the raw token, and its expiry. Never the token itself.
type RefreshTokenRecord struct {
	ID         string
	CustomerID string
	TokenHash  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

type CustomerStore interface {
	GetByEmail(ctx context.Context, email string) (customer.Customer, error)
	GetByID(ctx context.Context, id string) (customer.Customer, error)
	Create(ctx context.Context, name, email, passwordHash string) (customer.Customer, error)
}

type RefreshTokenStore interface {
	Save(ctx context.Context, rec RefreshTokenRecord) error
	// Rotate atomically revokes the token row id (recording next.ID as its
	// replacement) and inserts next. It fails with ErrRefreshRejected when
	// id is unknown, already revoked, expired, or presentedHash mismatches.
	Rotate(ctx context.Context, id string, presentedHash string, next RefreshTokenRecord) error
	// Revoke marks a single token row revoked; unknown ids are not an error.
	Revoke(ctx context.Context, id string) error
}

// Service coordinates the credential store, the token manager, and the
// refresh-token store across register/login/refresh/logout.
type Service struct {
	customers CustomerStore
	refresh   RefreshTokenStore
	jwt       *Manager
}

func NewService(customers CustomerStore, refresh RefreshTokenStore, jwt *Manager) *Service {
	return &Service{
		customers: customers,
		refresh:   refresh,
		jwt:       jwt,
	}
}

// Register stores a new customer with a bcrypt hash of the password and
// logs them straight in. A duplicate email surfaces customer.ErrEmailTaken
// (enforced by the store's uniqueness constraint, so concurrent registrations
// race safely).
func (s *Service) Register(ctx context.Context, name, email, password string) (customer.Customer, Session, error) {
	hash, err := security.HashPassword(password)

	if err != nil {
		return customer.Customer{}, Session{}, err
	}

	cust, err := s.customers.Create(ctx, name, email, hash)

	if err != nil {
		return customer.Customer{}, Session{}, err
	}

	sess, err := s.issueSession(ctx, cust)

	return cust, sess, err
}

// Login never discloses whether the email exists: a missing customer and a
// failed hash comparison report the same ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (customer.Customer, Session, error) {
	cust, err := s.customers.GetByEmail(ctx, email)

	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			return customer.Customer{}, Session{}, ErrInvalidCredentials
		}
		return customer.Customer{}, Session{}, err
	}

	err = security.CheckPassword(cust.PasswordHash, password)

	if err != nil {
		return customer.Customer{}, Session{}, ErrInvalidCredentials
	}

	sess, err := s.issueSession(ctx, cust)

	return cust, sess, err
}

// Refresh verifies the presented refresh token (kind must be refresh),
// re-checks the subject still exists, and rotates: the old token row is
// revoked and a brand-new pair issued in one store transaction. A replayed
// pre-rotation token fails here with ErrUnauthorized.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (customer.Customer, Session, error) {
	claims, err := s.jwt.VerifyRefreshToken(rawRefresh)

	if err != nil {
		return customer.Customer{}, Session{}, ErrUnauthorized
	}

	cust, err := s.customers.GetByID(ctx, claims.UserID)

	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			// subject deleted since issuance; do not leak existence
			return customer.Customer{}, Session{}, ErrUnauthorized
		}
		return customer.Customer{}, Session{}, err
	}

	access, accessExp, err := s.jwt.GenerateAccessToken(cust.ID, cust.Email)

	if err != nil {
		return customer.Customer{}, Session{}, err
	}

	newRaw, newJTI, newExp, err := s.jwt.GenerateRefreshToken(cust.ID, cust.Email)

	if err != nil {
		return customer.Customer{}, Session{}, err
	}

	next := RefreshTokenRecord{
		ID:         newJTI,
		CustomerID: cust.ID,
		TokenHash:  s.jwt.HashRefreshToken(newRaw),
		ExpiresAt:  newExp,
		CreatedAt:  time.Now().UTC(),
	}

	err = s.refresh.Rotate(ctx, claims.JTI, s.jwt.HashRefreshToken(rawRefresh), next)

	if err != nil {
		if errors.Is(err, ErrRefreshRejected) {
			return customer.Customer{}, Session{}, ErrUnauthorized
		}
		return customer.Customer{}, Session{}, err
	}

	return cust, Session{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     newRaw,
		RefreshExpiresAt: newExp,
	}, nil
}

// Logout revokes the presented refresh token if it verifies. It is
// best-effort and idempotent: any token problem is swallowed, since the
// caller is discarding the session either way.
func (s *Service) Logout(ctx context.Context, rawRefresh string) {
	if rawRefresh == "" {
		return
	}

	claims, err := s.jwt.VerifyRefreshToken(rawRefresh)
	if err != nil {
		return
	}

	_ = s.refresh.Revoke(ctx, claims.JTI)
}

// CurrentUser resolves a verified access token to its customer. A deleted
// subject is ErrUnauthorized, not a not-found, to avoid leaking account
// existence.
func (s *Service) CurrentUser(ctx context.Context, rawAccess string) (customer.Customer, error) {
	claims, err := s.jwt.VerifyAccessToken(rawAccess)

	if err != nil {
		return customer.Customer{}, ErrUnauthorized
	}

	cust, err := s.customers.GetByID(ctx, claims.UserID)

	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			return customer.Customer{}, ErrUnauthorized
		}
		return customer.Customer{}, err
	}

	return cust, nil
}

func (s *Service) issueSession(ctx context.Context, cust customer.Customer) (Session, error) {
	access, accessExp, err := s.jwt.GenerateAccessToken(cust.ID, cust.Email)

	if err != nil {
		return Session{}, err
	}

	rawRefresh, jti, refreshExp, err := s.jwt.GenerateRefreshToken(cust.ID, cust.Email)

	if err != nil {
		return Session{}, err
	}

	rec := RefreshTokenRecord{
		ID:         jti,
		CustomerID: cust.ID,
		TokenHash:  s.jwt.HashRefreshToken(rawRefresh),
		ExpiresAt:  refreshExp,
		CreatedAt:  time.Now().UTC(),
	}

	err = s.refresh.Save(ctx, rec)

	if err != nil {
		return Session{}, err
	}

	return Session{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     rawRefresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}
