package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPGStore(db), mock
}

func accountRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "email", "password_hash", "role",
		"refresh_token", "reset_code", "reset_expires", "created_at", "updated_at",
	})
}

func TestPGStoreFindAccount(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	token := "refresh-token"

	mock.ExpectQuery(`select .* from accounts where id=\$1`).
		WithArgs("acc-1").
		WillReturnRows(accountRows().AddRow(
			"acc-1", "Ada", "ada@example.com", "hash", RoleUser, token, nil, nil, now, now))

	account, err := store.FindAccount(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("FindAccount: %v", err)
	}
	if account.Email != "ada@example.com" || account.RefreshToken == nil || *account.RefreshToken != token {
		t.Fatalf("unexpected account: %+v", account)
	}

	mock.ExpectQuery(`select .* from accounts where id=\$1`).
		WithArgs("missing").
		WillReturnRows(accountRows())

	if _, err := store.FindAccount(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreCreateAccountDuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`insert into accounts`).
		WithArgs(sqlmock.AnyArg(), "Ada", "ada@example.com", "hash", RoleUser).
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "accounts_email_key"`))

	err := store.CreateAccount(context.Background(), &Account{
		Name: "Ada", Email: "ada@example.com", PasswordHash: "hash", Role: RoleUser,
	})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreSwapRefreshToken(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`update accounts set refresh_token=\$3`).
		WithArgs("acc-1", "old", "new").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.SwapRefreshToken(ctx, "acc-1", "old", "new"); err != nil {
		t.Fatalf("SwapRefreshToken: %v", err)
	}

	// Predicate miss against an existing account classifies as stale.
	mock.ExpectExec(`update accounts set refresh_token=\$3`).
		WithArgs("acc-1", "old", "new").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select exists`).
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	if err := store.SwapRefreshToken(ctx, "acc-1", "old", "new"); !errors.Is(err, ErrRefreshTokenStale) {
		t.Fatalf("err = %v, want ErrRefreshTokenStale", err)
	}

	// Predicate miss against a missing account classifies as not found.
	mock.ExpectExec(`update accounts set refresh_token=\$3`).
		WithArgs("gone", "old", "new").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select exists`).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	if err := store.SwapRefreshToken(ctx, "gone", "old", "new"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreSetRefreshToken(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	token := "fresh"

	mock.ExpectExec(`update accounts set refresh_token=\$2`).
		WithArgs("acc-1", token).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.SetRefreshToken(ctx, "acc-1", &token); err != nil {
		t.Fatalf("SetRefreshToken: %v", err)
	}

	mock.ExpectExec(`update accounts set refresh_token=\$2`).
		WithArgs("gone", nil).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.SetRefreshToken(ctx, "gone", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreResetChallenge(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	expires := time.Now().Add(10 * time.Minute)

	mock.ExpectExec(`update accounts set reset_code=\$2, reset_expires=\$3`).
		WithArgs("acc-1", "123456", expires).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.SetResetChallenge(ctx, "acc-1", "123456", expires); err != nil {
		t.Fatalf("SetResetChallenge: %v", err)
	}

	mock.ExpectExec(`update accounts set reset_code=null, reset_expires=null`).
		WithArgs("acc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.ClearResetChallenge(ctx, "acc-1"); err != nil {
		t.Fatalf("ClearResetChallenge: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
