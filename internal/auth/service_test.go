package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

const testPassword = "Sup3r-secret"

// captureMailer records outgoing reset mail instead of sending it.
type captureMailer struct {
	mu            sync.Mutex
	codes         []string
	confirmations int
	fail          bool
}

func (m *captureMailer) SendResetCode(ctx context.Context, email, name, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp down")
	}
	m.codes = append(m.codes, code)
	return nil
}

func (m *captureMailer) SendResetConfirmation(ctx context.Context, email, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmations++
	return nil
}

func (m *captureMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.codes) == 0 {
		t.Fatal("no reset code was sent")
	}
	return m.codes[len(m.codes)-1]
}

// brokenStore fails selected writes while delegating the rest.
type brokenStore struct {
	Store
	failSetRefresh bool
}

func (s *brokenStore) SetRefreshToken(ctx context.Context, accountID string, token *string) error {
	if s.failSetRefresh {
		return errors.New("disk full")
	}
	return s.Store.SetRefreshToken(ctx, accountID, token)
}

func newTestService(t *testing.T, store Store, clock *fakeClock, opts ...ServiceOption) *Service {
	t.Helper()
	base := []ServiceOption{WithClock(clock.Now), WithAdminKey("letmein")}
	svc, err := NewService(store, []byte("access-secret"), []byte("refresh-secret"),
		append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func registerTestAccount(t *testing.T, svc *Service, email string) PublicAccount {
	t.Helper()
	account, err := svc.Register(context.Background(), "Test Reader", email, testPassword, RoleUser, "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return account
}

func TestRegisterValidation(t *testing.T) {
	clock := newFakeClock(time.Now())
	svc := newTestService(t, NewInMemoryStore(), clock)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		role     string
		adminKey string
		wantErr  error
	}{
		{"bad email", "not-an-email", testPassword, RoleUser, "", ErrInvalidEmail},
		{"short password", "a@b.co", "Ab1!", RoleUser, "", ErrWeakPassword},
		{"no uppercase", "a@b.co", "weak-pass1", RoleUser, "", ErrWeakPassword},
		{"no digit", "a@b.co", "Weak-pass!", RoleUser, "", ErrWeakPassword},
		{"unknown role", "a@b.co", testPassword, "librarian", "", ErrInvalidRole},
		{"admin without key", "a@b.co", testPassword, RoleAdmin, "", ErrAdminKey},
		{"admin with wrong key", "a@b.co", testPassword, RoleAdmin, "nope", ErrAdminKey},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, "Name", tc.email, tc.password, tc.role, tc.adminKey)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}

	admin, err := svc.Register(ctx, "Root", "root@example.com", testPassword, RoleAdmin, "letmein")
	if err != nil {
		t.Fatalf("admin registration with key: %v", err)
	}
	if admin.Role != RoleAdmin {
		t.Fatalf("role = %q, want admin", admin.Role)
	}

	if _, err := svc.Register(ctx, "Dup", "root@example.com", testPassword, RoleUser, ""); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate email err = %v, want ErrAlreadyExists", err)
	}
}

func TestAdminRegistrationDisabledWithoutKey(t *testing.T) {
	clock := newFakeClock(time.Now())
	svc, err := NewService(NewInMemoryStore(), []byte("a-secret"), []byte("r-secret"), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svc.Register(context.Background(), "Root", "root@example.com", testPassword, RoleAdmin, ""); !errors.Is(err, ErrAdminKey) {
		t.Fatalf("err = %v, want ErrAdminKey", err)
	}
}

func TestLogin(t *testing.T) {
	clock := newFakeClock(time.Now())
	store := NewInMemoryStore()
	svc := newTestService(t, store, clock)
	ctx := context.Background()
	account := registerTestAccount(t, svc, "reader@example.com")

	session, err := svc.Login(ctx, "Reader@Example.com", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatal("session missing tokens")
	}
	if session.Account.ID != account.ID {
		t.Fatalf("account id = %q, want %q", session.Account.ID, account.ID)
	}

	stored, err := store.FindAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("FindAccount: %v", err)
	}
	if stored.RefreshToken == nil || *stored.RefreshToken != session.RefreshToken {
		t.Fatal("refresh token was not persisted")
	}

	if _, err := svc.Login(ctx, "reader@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginFailsWhenPersistenceFails(t *testing.T) {
	clock := newFakeClock(time.Now())
	mem := NewInMemoryStore()
	broken := &brokenStore{Store: mem}
	svc := newTestService(t, broken, clock)
	registerTestAccount(t, svc, "reader@example.com")

	broken.failSetRefresh = true
	_, err := svc.Login(context.Background(), "reader@example.com", testPassword)
	if !errors.Is(err, ErrSessionPersistence) {
		t.Fatalf("err = %v, want ErrSessionPersistence", err)
	}
}

func TestRotateIssuesNewPairAndBurnsOld(t *testing.T) {
	clock := newFakeClock(time.Now())
	svc := newTestService(t, NewInMemoryStore(), clock)
	ctx := context.Background()
	registerTestAccount(t, svc, "reader@example.com")

	session, err := svc.Login(ctx, "reader@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	clock.Advance(time.Minute)
	res := svc.Rotate(ctx, session.RefreshToken)
	if res.Outcome != RotationOK {
		t.Fatalf("outcome = %v, err = %v, want RotationOK", res.Outcome, res.Err)
	}
	if res.Session.RefreshToken == session.RefreshToken {
		t.Fatal("rotation returned the same refresh token")
	}
	if res.Session.AccessToken == session.AccessToken {
		t.Fatal("rotation returned the same access token")
	}

	// Replaying the superseded token is theft. The family burns: the replay
	// is rejected and the legitimately rotated token dies with it.
	replay := svc.Rotate(ctx, session.RefreshToken)
	if replay.Outcome != RotationReuseDetected {
		t.Fatalf("replay outcome = %v, want RotationReuseDetected", replay.Outcome)
	}
	after := svc.Rotate(ctx, res.Session.RefreshToken)
	if after.Outcome != RotationReuseDetected {
		t.Fatalf("post-burn outcome = %v, want RotationReuseDetected", after.Outcome)
	}
}

func TestRotateRejectsMissingAndInvalid(t *testing.T) {
	clock := newFakeClock(time.Now())
	svc := newTestService(t, NewInMemoryStore(), clock)
	ctx := context.Background()

	if res := svc.Rotate(ctx, ""); res.Outcome != RotationMissing {
		t.Fatalf("empty token outcome = %v, want RotationMissing", res.Outcome)
	}
	if res := svc.Rotate(ctx, "garbage.token.value"); res.Outcome != RotationInvalidToken {
		t.Fatalf("garbage outcome = %v, want RotationInvalidToken", res.Outcome)
	}
}

func TestRotateExpiredRefreshToken(t *testing.T) {
	clock := newFakeClock(time.Now())
	svc := newTestService(t, NewInMemoryStore(), clock, WithRefreshTTL(time.Hour))
	ctx := context.Background()
	registerTestAccount(t, svc, "reader@example.com")

	session, err := svc.Login(ctx, "reader@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	clock.Advance(time.Hour + time.Minute)
	if res := svc.Rotate(ctx, session.RefreshToken); res.Outcome != RotationInvalidToken {
		t.Fatalf("expired refresh outcome = %v, want RotationInvalidToken", res.Outcome)
	}
}

func TestRotateAccountGone(t *testing.T) {
	clock := newFakeClock(time.Now())
	store := NewInMemoryStore()
	svc := newTestService(t, store, clock)
	ctx := context.Background()
	account := registerTestAccount(t, svc, "reader@example.com")

	session, err := svc.Login(ctx, "reader@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := store.DeleteAccount(ctx, account.ID); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}

	if res := svc.Rotate(ctx, session.RefreshToken); res.Outcome != RotationAccountGone {
		t.Fatalf("outcome = %v, want RotationAccountGone", res.Outcome)
	}
}

func TestConcurrentRotationExactlyOneWins(t *testing.T) {
	clock := newFakeClock(time.Now())
	svc := newTestService(t, NewInMemoryStore(), clock)
	ctx := context.Background()
	registerTestAccount(t, svc, "reader@example.com")

	for i := 0; i < 20; i++ {
		session, err := svc.Login(ctx, "reader@example.com", testPassword)
		if err != nil {
			t.Fatalf("Login: %v", err)
		}

		results := make(chan RotationResult, 2)
		var wg sync.WaitGroup
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- svc.Rotate(ctx, session.RefreshToken)
			}()
		}
		wg.Wait()
		close(results)

		var ok, reuse int
		for res := range results {
			switch res.Outcome {
			case RotationOK:
				ok++
			case RotationReuseDetected:
				reuse++
			default:
				t.Fatalf("unexpected outcome %v (err %v)", res.Outcome, res.Err)
			}
		}
		if ok != 1 || reuse != 1 {
			t.Fatalf("round %d: ok=%d reuse=%d, want exactly one of each", i, ok, reuse)
		}
	}
}

func TestRotatedAccessTokenReflectsRoleChange(t *testing.T) {
	clock := newFakeClock(time.Now())
	store := NewInMemoryStore()
	svc := newTestService(t, store, clock)
	ctx := context.Background()
	account := registerTestAccount(t, svc, "reader@example.com")

	session, err := svc.Login(ctx, "reader@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := svc.VerifyAccess(session.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.Role != RoleUser {
		t.Fatalf("initial role = %q, want user", claims.Role)
	}

	if err := store.SetRole(account.ID, RoleAdmin); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	res := svc.Rotate(ctx, session.RefreshToken)
	if res.Outcome != RotationOK {
		t.Fatalf("outcome = %v, want RotationOK", res.Outcome)
	}
	claims, err = svc.VerifyAccess(res.Session.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess after rotation: %v", err)
	}
	if claims.Role != RoleAdmin {
		t.Fatalf("rotated role = %q, want admin", claims.Role)
	}
}

func TestLogoutClearsSlot(t *testing.T) {
	clock := newFakeClock(time.Now())
	store := NewInMemoryStore()
	svc := newTestService(t, store, clock)
	ctx := context.Background()
	account := registerTestAccount(t, svc, "reader@example.com")

	session, err := svc.Login(ctx, "reader@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.Logout(ctx, account.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	stored, err := store.FindAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("FindAccount: %v", err)
	}
	if stored.RefreshToken != nil {
		t.Fatal("refresh slot still populated after logout")
	}
	if res := svc.Rotate(ctx, session.RefreshToken); res.Outcome != RotationReuseDetected {
		t.Fatalf("rotation after logout outcome = %v, want RotationReuseDetected", res.Outcome)
	}
}

func TestLogoutUnknownAccountIsNoError(t *testing.T) {
	clock := newFakeClock(time.Now())
	svc := newTestService(t, NewInMemoryStore(), clock)
	if err := svc.Logout(context.Background(), "missing"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	clock := newFakeClock(time.Now())
	store := NewInMemoryStore()
	mailer := &captureMailer{}
	svc := newTestService(t, store, clock, WithMailer(mailer))
	ctx := context.Background()
	account := registerTestAccount(t, svc, "reader@example.com")

	session, err := svc.Login(ctx, "reader@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := svc.RequestPasswordReset(ctx, "reader@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	code := mailer.lastCode(t)
	if len(code) != 6 {
		t.Fatalf("code = %q, want six digits", code)
	}

	if err := svc.VerifyResetCode(ctx, "reader@example.com", code); err != nil {
		t.Fatalf("VerifyResetCode: %v", err)
	}
	if err := svc.VerifyResetCode(ctx, "reader@example.com", "000000"); !errors.Is(err, ErrResetCode) && code != "000000" {
		t.Fatalf("wrong code err = %v, want ErrResetCode", err)
	}

	if err := svc.ResetPassword(ctx, "reader@example.com", code, testPassword); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("same password err = %v, want ErrPasswordReuse", err)
	}

	newPassword := "An0ther-secret"
	if err := svc.ResetPassword(ctx, "reader@example.com", code, newPassword); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	if _, err := svc.Login(ctx, "reader@example.com", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("old password still accepted after reset")
	}
	if _, err := svc.Login(ctx, "reader@example.com", newPassword); err != nil {
		t.Fatalf("login with new password: %v", err)
	}

	// Outstanding sessions die with the old password.
	if res := svc.Rotate(ctx, session.RefreshToken); res.Outcome != RotationReuseDetected {
		t.Fatalf("old session outcome = %v, want RotationReuseDetected", res.Outcome)
	}

	// The challenge is single use.
	if err := svc.VerifyResetCode(ctx, "reader@example.com", code); !errors.Is(err, ErrResetCode) {
		t.Fatalf("consumed code err = %v, want ErrResetCode", err)
	}

	stored, err := store.FindAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("FindAccount: %v", err)
	}
	if stored.ResetCode != nil || stored.ResetExpires != nil {
		t.Fatal("reset challenge not cleared")
	}
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	clock := newFakeClock(time.Now())
	mailer := &captureMailer{}
	svc := newTestService(t, NewInMemoryStore(), clock, WithMailer(mailer))

	if err := svc.RequestPasswordReset(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("unknown email should not error: %v", err)
	}
	if len(mailer.codes) != 0 {
		t.Fatal("mail sent for unknown account")
	}
}

func TestPasswordResetCodeExpires(t *testing.T) {
	clock := newFakeClock(time.Now())
	mailer := &captureMailer{}
	svc := newTestService(t, NewInMemoryStore(), clock, WithMailer(mailer))
	ctx := context.Background()
	registerTestAccount(t, svc, "reader@example.com")

	if err := svc.RequestPasswordReset(ctx, "reader@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	code := mailer.lastCode(t)

	clock.Advance(11 * time.Minute)
	if err := svc.VerifyResetCode(ctx, "reader@example.com", code); !errors.Is(err, ErrResetCode) {
		t.Fatalf("expired code err = %v, want ErrResetCode", err)
	}
}

func TestPasswordResetClearsChallengeWhenMailFails(t *testing.T) {
	clock := newFakeClock(time.Now())
	store := NewInMemoryStore()
	mailer := &captureMailer{fail: true}
	svc := newTestService(t, store, clock, WithMailer(mailer))
	ctx := context.Background()
	account := registerTestAccount(t, svc, "reader@example.com")

	if err := svc.RequestPasswordReset(ctx, "reader@example.com"); err == nil {
		t.Fatal("expected error when mail delivery fails")
	}
	stored, err := store.FindAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("FindAccount: %v", err)
	}
	if stored.ResetCode != nil {
		t.Fatal("undeliverable code left live")
	}
}

func TestAccountLifecycle(t *testing.T) {
	clock := newFakeClock(time.Now())
	svc := newTestService(t, NewInMemoryStore(), clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		registerTestAccount(t, svc, fmt.Sprintf("reader%d@example.com", i))
	}
	accounts, err := svc.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 3 {
		t.Fatalf("len = %d, want 3", len(accounts))
	}

	got, err := svc.Account(ctx, accounts[0].ID)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if got.Email == "" || got.Role == "" {
		t.Fatalf("incomplete public account: %+v", got)
	}

	deleted, err := svc.DeleteAccount(ctx, accounts[0].ID)
	if err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if deleted.ID != accounts[0].ID {
		t.Fatalf("deleted id = %q, want %q", deleted.ID, accounts[0].ID)
	}
	if _, err := svc.Account(ctx, accounts[0].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
