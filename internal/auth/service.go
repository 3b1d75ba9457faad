package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// defaultAccessTTL is deliberately a single fixed short value; clients
	// are expected to rotate on expiry rather than hold long-lived access.
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultResetTTL   = 10 * time.Minute
	defaultIssuerName = "libris"
)

// Mailer delivers reset-flow mail. Delivery mechanics are an external
// collaborator; the service only depends on this surface.
type Mailer interface {
	SendResetCode(ctx context.Context, email, name, code string) error
	SendResetConfirmation(ctx context.Context, email, name string) error
}

// Service owns the session/credential lifecycle: login, rotation, revocation,
// registration and the reset flow. All session state lives in the account
// record; the service itself holds no cross-request mutable state and is safe
// for concurrent use.
type Service struct {
	store  Store
	issuer *Issuer
	mailer Mailer
	now    func() time.Time

	accessSecret  []byte
	refreshSecret []byte
	issuerName    string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	resetTTL      time.Duration
	adminKey      string
}

// ServiceOption configures Service behaviour.
type ServiceOption func(*Service) error

// WithAccessTTL overrides the access-token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL overrides the refresh-token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithResetTTL overrides the reset-challenge lifetime.
func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.resetTTL = ttl
		}
		return nil
	}
}

// WithIssuerName overrides the token issuer claim.
func WithIssuerName(name string) ServiceOption {
	return func(s *Service) error {
		if strings.TrimSpace(name) != "" {
			s.issuerName = strings.TrimSpace(name)
		}
		return nil
	}
}

// WithAdminKey sets the out-of-band admin registration key. An empty key
// disables admin self-registration entirely. The key authorizes nothing but
// the role choice at registration; it never touches the token lifecycle.
func WithAdminKey(key string) ServiceOption {
	return func(s *Service) error {
		s.adminKey = key
		return nil
	}
}

// WithMailer sets the reset-mail collaborator.
func WithMailer(m Mailer) ServiceOption {
	return func(s *Service) error {
		s.mailer = m
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the credential service. Access and refresh signing
// secrets are both required and must differ.
func NewService(store Store, accessSecret, refreshSecret []byte, opts ...ServiceOption) (*Service, error) {
	svc := &Service{
		store:         store,
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		now:           time.Now,
		issuerName:    defaultIssuerName,
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		resetTTL:      defaultResetTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	issuer, err := NewIssuer(accessSecret, refreshSecret, svc.issuerName, svc.accessTTL, svc.refreshTTL, svc.now)
	if err != nil {
		return nil, err
	}
	svc.issuer = issuer
	return svc, nil
}

// RefreshTTL reports the refresh-token lifetime, used by the transport layer
// for the cookie max-age.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// Session is the result of a successful login or rotation.
type Session struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Account          PublicAccount
}

// Register creates a new account. The admin role requires the configured
// admin key; the comparison is constant-time and independent of the session
// core.
func (s *Service) Register(ctx context.Context, name, email, password, role, adminKey string) (PublicAccount, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if name == "" || email == "" || password == "" {
		return PublicAccount{}, fmt.Errorf("%w: name, email and password are required", ErrInvalidEmail)
	}
	if err := ValidateEmail(email); err != nil {
		return PublicAccount{}, err
	}
	if err := ValidatePassword(password); err != nil {
		return PublicAccount{}, err
	}
	switch role {
	case "", RoleUser:
		role = RoleUser
	case RoleAdmin:
		if s.adminKey == "" || subtle.ConstantTimeCompare([]byte(adminKey), []byte(s.adminKey)) != 1 {
			return PublicAccount{}, ErrAdminKey
		}
	default:
		return PublicAccount{}, ErrInvalidRole
	}

	hash, err := HashPassword(password)
	if err != nil {
		return PublicAccount{}, fmt.Errorf("hash password: %w", err)
	}
	account := &Account{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return PublicAccount{}, err
	}
	return account.Public(), nil
}

// Login verifies credentials and issues a fresh token pair. The refresh token
// is persisted before the session is returned: a persistence failure fails
// the login rather than handing out tokens the store cannot honour.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	account, err := s.store.FindAccountByEmail(ctx, email)
	if err != nil {
		// Never reveal whether the identifier or the secret was wrong.
		return nil, ErrInvalidCredentials
	}
	if err := VerifyPassword(account.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}

	session, err := s.issuePair(account)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetRefreshToken(ctx, account.ID, &session.RefreshToken); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionPersistence, err)
	}
	return session, nil
}

// RotationOutcome is the closed set of rotation results. Every exit of the
// protocol maps to exactly one variant so transport code can switch
// exhaustively.
type RotationOutcome int

const (
	RotationOK RotationOutcome = iota
	// RotationMissing: no refresh token was presented at all.
	RotationMissing
	// RotationInvalidToken: signature or expiry verification failed.
	RotationInvalidToken
	// RotationAccountGone: the token's subject no longer resolves.
	RotationAccountGone
	// RotationReuseDetected: the presented token no longer matches the
	// stored slot. Treated as theft; the session family has been burned.
	RotationReuseDetected
	// RotationPersistence: the store write for the new token did not land.
	RotationPersistence
)

// RotationResult carries either the issued session or failure metadata.
type RotationResult struct {
	Outcome RotationOutcome
	Session *Session
	Err     error
}

// Rotate exchanges a valid refresh token for a new access/refresh pair,
// invalidating the old refresh token by overwriting the stored slot.
//
// The read-compare-overwrite sequence behaves as if atomic per account: the
// overwrite is a compare-and-set against the presented value, so of two
// concurrent rotations with the same token exactly one lands and the other
// observes reuse. On any mismatch the stored slot is cleared: the design
// assumes compromise and burns the session family rather than guessing which
// of two tokens is legitimate.
func (s *Service) Rotate(ctx context.Context, presented string) RotationResult {
	if strings.TrimSpace(presented) == "" {
		return RotationResult{Outcome: RotationMissing, Err: ErrInvalidToken}
	}

	claims, err := s.issuer.ParseRefresh(presented)
	if err != nil {
		return RotationResult{Outcome: RotationInvalidToken, Err: err}
	}

	account, err := s.store.FindAccount(ctx, claims.Subject)
	switch {
	case errors.Is(err, ErrNotFound):
		return RotationResult{Outcome: RotationAccountGone, Err: err}
	case err != nil:
		return RotationResult{Outcome: RotationPersistence, Err: fmt.Errorf("%w: %v", ErrSessionPersistence, err)}
	}

	if account.RefreshToken == nil || *account.RefreshToken != presented {
		// Theft signal: a token that once was valid is being replayed after
		// rotation. Null the slot so the entire session family dies.
		_ = s.store.SetRefreshToken(ctx, account.ID, nil)
		return RotationResult{Outcome: RotationReuseDetected, Err: ErrSessionRevoked}
	}

	// Claims for the new pair come from the account as it is now, so role
	// changes since login are reflected immediately.
	session, err := s.issuePair(account)
	if err != nil {
		return RotationResult{Outcome: RotationPersistence, Err: fmt.Errorf("%w: %v", ErrSessionPersistence, err)}
	}

	err = s.store.SwapRefreshToken(ctx, account.ID, presented, session.RefreshToken)
	switch {
	case errors.Is(err, ErrRefreshTokenStale):
		// A concurrent rotation won the race. Same response as replay.
		_ = s.store.SetRefreshToken(ctx, account.ID, nil)
		return RotationResult{Outcome: RotationReuseDetected, Err: ErrSessionRevoked}
	case errors.Is(err, ErrNotFound):
		return RotationResult{Outcome: RotationAccountGone, Err: err}
	case err != nil:
		return RotationResult{Outcome: RotationPersistence, Err: fmt.Errorf("%w: %v", ErrSessionPersistence, err)}
	}

	return RotationResult{Outcome: RotationOK, Session: session}
}

// Logout clears the account's stored refresh token. Transport-level cleanup
// (the cookie) is the caller's responsibility and must happen even when this
// returns an error.
func (s *Service) Logout(ctx context.Context, accountID string) error {
	if err := s.store.SetRefreshToken(ctx, accountID, nil); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrSessionPersistence, err)
	}
	return nil
}

// VerifyAccess validates a bearer access token and returns its claims.
func (s *Service) VerifyAccess(token string) (*AccessClaims, error) {
	return s.issuer.ParseAccess(token)
}

// Account returns the public view of an account.
func (s *Service) Account(ctx context.Context, id string) (PublicAccount, error) {
	account, err := s.store.FindAccount(ctx, id)
	if err != nil {
		return PublicAccount{}, err
	}
	return account.Public(), nil
}

// ListAccounts returns public views of all accounts, for the admin surface.
func (s *Service) ListAccounts(ctx context.Context) ([]PublicAccount, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PublicAccount, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Public())
	}
	return out, nil
}

// DeleteAccount removes an account entirely, admin action only.
func (s *Service) DeleteAccount(ctx context.Context, id string) (PublicAccount, error) {
	account, err := s.store.FindAccount(ctx, id)
	if err != nil {
		return PublicAccount{}, err
	}
	if err := s.store.DeleteAccount(ctx, id); err != nil {
		return PublicAccount{}, err
	}
	return account.Public(), nil
}

func (s *Service) issuePair(account *Account) (*Session, error) {
	access, accessExp, err := s.issuer.IssueAccess(account)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.issuer.IssueRefresh(account)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		Account:          account.Public(),
	}, nil
}
