package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// RequestPasswordReset starts the OTP reset flow: a six-digit code is stored
// against the account and mailed to the address on file. An unknown email
// returns nil so the endpoint cannot be used to enumerate accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return ErrInvalidEmail
	}
	account, err := s.store.FindAccountByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	code, err := resetCode()
	if err != nil {
		return fmt.Errorf("generate reset code: %w", err)
	}
	expires := s.now().Add(s.resetTTL)
	if err := s.store.SetResetChallenge(ctx, account.ID, code, expires); err != nil {
		return err
	}

	if s.mailer == nil {
		return fmt.Errorf("no mailer configured")
	}
	if err := s.mailer.SendResetCode(ctx, account.Email, account.Name, code); err != nil {
		// A code the account holder never received must not stay live.
		_ = s.store.ClearResetChallenge(ctx, account.ID)
		return fmt.Errorf("send reset code: %w", err)
	}
	return nil
}

// VerifyResetCode checks a submitted code against the stored challenge
// without consuming it.
func (s *Service) VerifyResetCode(ctx context.Context, email, code string) error {
	_, err := s.checkResetCode(ctx, email, code)
	return err
}

// ResetPassword completes the flow: the code is checked, the new password is
// validated against policy and against the current hash, and the stored
// refresh slot is cleared so every outstanding session dies with the old
// password.
func (s *Service) ResetPassword(ctx context.Context, email, code, password string) error {
	account, err := s.checkResetCode(ctx, email, code)
	if err != nil {
		return err
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}
	if VerifyPassword(account.PasswordHash, password) == nil {
		return ErrPasswordReuse
	}

	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdatePassword(ctx, account.ID, hash); err != nil {
		return err
	}
	if err := s.store.ClearResetChallenge(ctx, account.ID); err != nil {
		return err
	}
	if err := s.store.SetRefreshToken(ctx, account.ID, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionPersistence, err)
	}

	if s.mailer != nil {
		// Confirmation mail is best effort; the reset already happened.
		_ = s.mailer.SendResetConfirmation(ctx, account.Email, account.Name)
	}
	return nil
}

func (s *Service) checkResetCode(ctx context.Context, email, code string) (*Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return nil, ErrResetCode
	}
	account, err := s.store.FindAccountByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrResetCode
	}
	if err != nil {
		return nil, err
	}
	if account.ResetCode == nil || account.ResetExpires == nil {
		return nil, ErrResetCode
	}
	if s.now().After(*account.ResetExpires) {
		return nil, ErrResetCode
	}
	if subtle.ConstantTimeCompare([]byte(*account.ResetCode), []byte(code)) != 1 {
		return nil, ErrResetCode
	}
	return account, nil
}

func resetCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
