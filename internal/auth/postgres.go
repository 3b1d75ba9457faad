package auth

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"libris.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const accountColumns = `id, name, email, password_hash, role, refresh_token, reset_code, reset_expires, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.Role,
		&a.RefreshToken, &a.ResetCode, &a.ResetExpires, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *PGStore) CreateAccount(ctx context.Context, account *Account) error {
	if account.ID == "" {
		account.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into accounts(id, name, email, password_hash, role) values($1,$2,$3,$4,$5)`,
		account.ID, account.Name, account.Email, account.PasswordHash, account.Role,
	)
	if err != nil && strings.Contains(err.Error(), "accounts_email_key") {
		return ErrAlreadyExists
	}
	return err
}

func (s *PGStore) FindAccount(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id)
	return scanAccount(row)
}

func (s *PGStore) FindAccountByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email=$1`, email)
	return scanAccount(row)
}

func (s *PGStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+accountColumns+` from accounts order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s *PGStore) DeleteAccount(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `delete from accounts where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		`update accounts set password_hash=$2, updated_at=now() where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRefreshToken overwrites the refresh slot unconditionally. A nil token
// revokes the session.
func (s *PGStore) SetRefreshToken(ctx context.Context, id string, token *string) error {
	result, err := s.db.ExecContext(ctx,
		`update accounts set refresh_token=$2, updated_at=now() where id=$1`, id, token)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SwapRefreshToken replaces the refresh slot only if it still holds previous.
// The single UPDATE is the compare-and-set: under concurrent rotation exactly
// one caller's predicate matches.
func (s *PGStore) SwapRefreshToken(ctx context.Context, id, previous, next string) error {
	result, err := s.db.ExecContext(ctx,
		`update accounts set refresh_token=$3, updated_at=now() where id=$1 and refresh_token=$2`,
		id, previous, next)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 1 {
		return nil
	}
	// Zero rows: either the slot moved or the account is gone.
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from accounts where id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrRefreshTokenStale
}

func (s *PGStore) SetResetChallenge(ctx context.Context, id, code string, expires time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`update accounts set reset_code=$2, reset_expires=$3, updated_at=now() where id=$1`,
		id, code, expires)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ClearResetChallenge(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`update accounts set reset_code=null, reset_expires=null, updated_at=now() where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
