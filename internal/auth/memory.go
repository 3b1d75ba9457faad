package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"libris.org/internal/ids"
)

// InMemoryStore implements Store with in-process concurrency safety. It backs
// tests and DSN-less development runs; production uses the PostgreSQL store.
type InMemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	byEmail  map[string]string
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty account store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		accounts: make(map[string]*Account),
		byEmail:  make(map[string]string),
	}
}

func (s *InMemoryStore) CreateAccount(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(a.Email)
	if _, ok := s.byEmail[email]; ok {
		return ErrAlreadyExists
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	cp := cloneAccount(a)
	s.accounts[a.ID] = cp
	s.byEmail[email] = a.ID
	return nil
}

func (s *InMemoryStore) FindAccount(ctx context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(a), nil
}

func (s *InMemoryStore) FindAccountByEmail(ctx context.Context, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(s.accounts[id]), nil
}

func (s *InMemoryStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, cloneAccount(a))
	}
	return out, nil
}

func (s *InMemoryStore) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byEmail, strings.ToLower(a.Email))
	delete(s.accounts, id)
	return nil
}

func (s *InMemoryStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = passwordHash
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) SetRefreshToken(ctx context.Context, accountID string, token *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.RefreshToken = cloneString(token)
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) SwapRefreshToken(ctx context.Context, accountID, previous, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	if a.RefreshToken == nil || *a.RefreshToken != previous {
		return ErrRefreshTokenStale
	}
	a.RefreshToken = &next
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) SetResetChallenge(ctx context.Context, accountID, code string, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.ResetCode = &code
	a.ResetExpires = &expires
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) ClearResetChallenge(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.ResetCode = nil
	a.ResetExpires = nil
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// SetRole is a test-and-admin helper mutating the stored role directly; the
// rotation path must pick the new role up without refresh-token reissuance.
func (s *InMemoryStore) SetRole(accountID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.Role = role
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneAccount(a *Account) *Account {
	cp := *a
	cp.RefreshToken = cloneString(a.RefreshToken)
	cp.ResetCode = cloneString(a.ResetCode)
	if a.ResetExpires != nil {
		t := *a.ResetExpires
		cp.ResetExpires = &t
	}
	return &cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
