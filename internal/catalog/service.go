package catalog

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"libris.org/internal/ids"
)

// Service defines catalogue operations.
type Service interface {
	CreateBook(ctx context.Context, title, authorName string, copies int) (Book, error)
	GetBook(ctx context.Context, id string) (Book, error)
	ListBooks(ctx context.Context) ([]Book, error)
	UpdateBook(ctx context.Context, id string, upd BookUpdate) (Book, error)
	DeleteBook(ctx context.Context, id string) error

	CreateAuthor(ctx context.Context, name string) (Author, error)
	GetAuthor(ctx context.Context, id string) (Author, error)
	ListAuthors(ctx context.Context) ([]Author, error)
	UpdateAuthor(ctx context.Context, id, name string) (Author, error)
	DeleteAuthor(ctx context.Context, id string) error

	// CheckoutBook lends quantity copies of a book to an account with a
	// LoanPeriod due date, failing with ErrInsufficientCopies when the
	// shelf cannot cover it.
	CheckoutBook(ctx context.Context, accountID, bookID string, quantity int) (Checkout, error)
	// ReturnCheckout closes a loan and restores the copies. A non-empty
	// accountID must match the loan's owner; an empty accountID skips the
	// ownership check (admin path).
	ReturnCheckout(ctx context.Context, checkoutID, accountID string) (Checkout, error)
	ListCheckoutsForAccount(ctx context.Context, accountID string) ([]Checkout, error)
	ListCheckouts(ctx context.Context) ([]Checkout, error)
}

// InMemory implements Service with in-process concurrency safety. It backs
// tests and DSN-less development runs; production uses the Postgres store.
type InMemory struct {
	mu        sync.RWMutex
	books     map[string]*Book
	byTitle   map[string]string
	authors   map[string]*Author
	byAuthor  map[string]string
	checkouts map[string]*Checkout
	order     []string
	now       func() time.Time
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty catalogue.
func NewInMemory() *InMemory {
	return &InMemory{
		books:     make(map[string]*Book),
		byTitle:   make(map[string]string),
		authors:   make(map[string]*Author),
		byAuthor:  make(map[string]string),
		checkouts: make(map[string]*Checkout),
		now:       time.Now,
	}
}

// SetClock overrides the time source (tests).
func (s *InMemory) SetClock(fn func() time.Time) { s.now = fn }

func titleKey(title string) string { return strings.ToLower(strings.TrimSpace(title)) }

func (s *InMemory) CreateBook(ctx context.Context, title, authorName string, copies int) (Book, error) {
	title = strings.TrimSpace(title)
	authorName = strings.TrimSpace(authorName)
	if title == "" || authorName == "" {
		return Book{}, ErrInvalidInput
	}
	if copies <= 0 {
		copies = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()

	// A book already on the shelf under the same title gains copies rather
	// than a duplicate record.
	if id, ok := s.byTitle[titleKey(title)]; ok {
		b := s.books[id]
		b.Copies += copies
		b.Status = statusFor(b.Copies)
		b.UpdatedAt = now
		return *b, nil
	}

	s.ensureAuthorLocked(authorName, title, now)

	b := &Book{
		ID:        ids.New(),
		Title:     title,
		Author:    authorName,
		Copies:    copies,
		Status:    statusFor(copies),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.books[b.ID] = b
	s.byTitle[titleKey(title)] = b.ID
	return *b, nil
}

func (s *InMemory) ensureAuthorLocked(name, bookTitle string, now time.Time) {
	key := strings.ToLower(name)
	if id, ok := s.byAuthor[key]; ok {
		a := s.authors[id]
		if bookTitle != "" && !slices.Contains(a.Books, bookTitle) {
			a.Books = append(a.Books, bookTitle)
			a.UpdatedAt = now
		}
		return
	}
	a := &Author{ID: ids.New(), Name: name, CreatedAt: now, UpdatedAt: now}
	if bookTitle != "" {
		a.Books = []string{bookTitle}
	}
	s.authors[a.ID] = a
	s.byAuthor[key] = a.ID
}

func (s *InMemory) GetBook(ctx context.Context, id string) (Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[id]
	if !ok {
		return Book{}, ErrNotFound
	}
	return *b, nil
}

func (s *InMemory) ListBooks(ctx context.Context) ([]Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Book, 0, len(s.books))
	for _, b := range s.books {
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b Book) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *InMemory) UpdateBook(ctx context.Context, id string, upd BookUpdate) (Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return Book{}, ErrNotFound
	}
	now := s.now().UTC()
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return Book{}, ErrInvalidInput
		}
		if other, ok := s.byTitle[titleKey(title)]; ok && other != id {
			return Book{}, ErrAlreadyExists
		}
		delete(s.byTitle, titleKey(b.Title))
		b.Title = title
		s.byTitle[titleKey(title)] = id
	}
	if upd.Author != nil {
		author := strings.TrimSpace(*upd.Author)
		if author == "" {
			return Book{}, ErrInvalidInput
		}
		s.ensureAuthorLocked(author, b.Title, now)
		b.Author = author
	}
	if upd.Copies != nil {
		if *upd.Copies < 0 {
			return Book{}, ErrInvalidInput
		}
		b.Copies = *upd.Copies
	}
	b.Status = statusFor(b.Copies)
	b.UpdatedAt = now
	return *b, nil
}

func (s *InMemory) DeleteBook(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byTitle, titleKey(b.Title))
	delete(s.books, id)
	return nil
}

func (s *InMemory) CreateAuthor(ctx context.Context, name string) (Author, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Author{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byAuthor[strings.ToLower(name)]; ok {
		return Author{}, ErrAlreadyExists
	}
	s.ensureAuthorLocked(name, "", s.now().UTC())
	return *s.authors[s.byAuthor[strings.ToLower(name)]], nil
}

func (s *InMemory) GetAuthor(ctx context.Context, id string) (Author, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.authors[id]
	if !ok {
		return Author{}, ErrNotFound
	}
	out := *a
	out.Books = slices.Clone(a.Books)
	return out, nil
}

func (s *InMemory) ListAuthors(ctx context.Context) ([]Author, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Author, 0, len(s.authors))
	for _, a := range s.authors {
		cp := *a
		cp.Books = slices.Clone(a.Books)
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b Author) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *InMemory) UpdateAuthor(ctx context.Context, id, name string) (Author, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Author{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.authors[id]
	if !ok {
		return Author{}, ErrNotFound
	}
	if other, ok := s.byAuthor[strings.ToLower(name)]; ok && other != id {
		return Author{}, ErrAlreadyExists
	}
	delete(s.byAuthor, strings.ToLower(a.Name))
	a.Name = name
	a.UpdatedAt = s.now().UTC()
	s.byAuthor[strings.ToLower(name)] = id
	out := *a
	out.Books = slices.Clone(a.Books)
	return out, nil
}

func (s *InMemory) DeleteAuthor(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.authors[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byAuthor, strings.ToLower(a.Name))
	delete(s.authors, id)
	return nil
}

func (s *InMemory) CheckoutBook(ctx context.Context, accountID, bookID string, quantity int) (Checkout, error) {
	if accountID == "" {
		return Checkout{}, ErrInvalidInput
	}
	if quantity <= 0 {
		quantity = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[bookID]
	if !ok {
		return Checkout{}, ErrNotFound
	}
	if b.Copies < quantity {
		return Checkout{}, ErrInsufficientCopies
	}
	now := s.now().UTC()
	b.Copies -= quantity
	b.Status = statusFor(b.Copies)
	b.UpdatedAt = now

	c := &Checkout{
		ID:        ids.New(),
		AccountID: accountID,
		BookID:    b.ID,
		BookTitle: b.Title,
		Quantity:  quantity,
		DueDate:   now.Add(LoanPeriod),
		CreatedAt: now,
	}
	s.checkouts[c.ID] = c
	s.order = append(s.order, c.ID)
	return *c, nil
}

func (s *InMemory) ReturnCheckout(ctx context.Context, checkoutID, accountID string) (Checkout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checkouts[checkoutID]
	if !ok {
		return Checkout{}, ErrNotFound
	}
	if accountID != "" && c.AccountID != accountID {
		return Checkout{}, ErrNotOwner
	}
	if c.ReturnedAt != nil {
		return Checkout{}, ErrAlreadyReturned
	}
	now := s.now().UTC()
	c.ReturnedAt = &now
	if b, ok := s.books[c.BookID]; ok {
		b.Copies += c.Quantity
		b.Status = statusFor(b.Copies)
		b.UpdatedAt = now
	}
	out := *c
	t := *c.ReturnedAt
	out.ReturnedAt = &t
	return out, nil
}

func (s *InMemory) ListCheckoutsForAccount(ctx context.Context, accountID string) ([]Checkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Checkout
	for _, id := range s.order {
		c := s.checkouts[id]
		if c.AccountID != accountID {
			continue
		}
		out = append(out, cloneCheckout(c))
	}
	return out, nil
}

func (s *InMemory) ListCheckouts(ctx context.Context) ([]Checkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Checkout, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneCheckout(s.checkouts[id]))
	}
	return out, nil
}

func cloneCheckout(c *Checkout) Checkout {
	out := *c
	if c.ReturnedAt != nil {
		t := *c.ReturnedAt
		out.ReturnedAt = &t
	}
	return out
}
