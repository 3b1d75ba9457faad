package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the credential
// subsystem. Implementations must treat the refresh-token slot as
// optimistic-concurrency-controlled state: SwapRefreshToken writes only when
// the stored value still equals the expected previous value.
type Store interface {
	CreateAccount(ctx context.Context, a *Account) error
	FindAccount(ctx context.Context, id string) (*Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
	DeleteAccount(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// SetRefreshToken unconditionally overwrites the account's single
	// refresh-token slot; nil clears it. Used by login, logout and theft
	// response, where superseding whatever is stored is the intent.
	SetRefreshToken(ctx context.Context, accountID string, token *string) error

	// SwapRefreshToken is the compare-and-set write used by rotation: the
	// slot is overwritten with next only if it still holds previous.
	// Returns ErrRefreshTokenStale when the precondition fails and
	// ErrNotFound when the account no longer exists.
	SwapRefreshToken(ctx context.Context, accountID, previous, next string) error

	// SetResetChallenge overwrites the account's single reset-challenge
	// slot; a fresh challenge supersedes any outstanding one.
	SetResetChallenge(ctx context.Context, accountID, code string, expires time.Time) error
	ClearResetChallenge(ctx context.Context, accountID string) error
}
