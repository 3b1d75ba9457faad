package catalog

import (
	"errors"
	"time"
)

// LoanPeriod is how long a checked-out book may be kept.
const LoanPeriod = 14 * 24 * time.Hour

// Book availability, derived from the copy count on every write.
const (
	StatusAvailable   = "Available"
	StatusUnavailable = "Unavailable"
)

// Book is a catalogue entry. Copies counts physical copies currently on the
// shelf; checkouts decrement it and returns restore it.
type Book struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Copies    int       `json:"copies"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func statusFor(copies int) string {
	if copies > 0 {
		return StatusAvailable
	}
	return StatusUnavailable
}

// Author groups books by writer. Books holds titles, not ids; the catalogue
// keys books by title for the increment-on-duplicate behaviour.
type Author struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Books     []string  `json:"books"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Checkout is a single borrowing record. ReturnedAt is nil while the loan is
// outstanding.
type Checkout struct {
	ID         string     `json:"id"`
	AccountID  string     `json:"account_id"`
	BookID     string     `json:"book_id"`
	BookTitle  string     `json:"book_title"`
	Quantity   int        `json:"quantity"`
	DueDate    time.Time  `json:"due_date"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// BookUpdate mutates only the fields that are set.
type BookUpdate struct {
	Title  *string
	Author *string
	Copies *int
}

var (
	ErrNotFound           = errors.New("catalog: not found")
	ErrAlreadyExists      = errors.New("catalog: already exists")
	ErrInvalidInput       = errors.New("catalog: invalid input")
	ErrInsufficientCopies = errors.New("catalog: not enough copies available")
	ErrAlreadyReturned    = errors.New("catalog: checkout already returned")
	ErrNotOwner           = errors.New("catalog: checkout belongs to another account")
)
