// Package pg holds the PostgreSQL-backed catalogue store. Connections use
// the pgx driver through database/sql so the rest of the code only sees
// *sql.DB.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"libris.org/internal/catalog"
	"libris.org/internal/ids"
)

type Store struct {
	db *sql.DB
}

var _ catalog.Service = (*Store)(nil)

// Open connects to Postgres and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle (tests).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Books ---------------------------------------------------------------------

const bookColumns = `id, title, author, copies, created_at, updated_at`

func scanBook(row interface{ Scan(...any) error }) (catalog.Book, error) {
	var b catalog.Book
	if err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Copies, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Book{}, catalog.ErrNotFound
		}
		return catalog.Book{}, err
	}
	b.Status = bookStatus(b.Copies)
	return b, nil
}

func bookStatus(copies int) string {
	if copies > 0 {
		return catalog.StatusAvailable
	}
	return catalog.StatusUnavailable
}

func (s *Store) CreateBook(ctx context.Context, title, authorName string, copies int) (catalog.Book, error) {
	title = strings.TrimSpace(title)
	authorName = strings.TrimSpace(authorName)
	if title == "" || authorName == "" {
		return catalog.Book{}, catalog.ErrInvalidInput
	}
	if copies <= 0 {
		copies = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return catalog.Book{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Existing title gains copies instead of a duplicate row.
	row := tx.QueryRowContext(ctx,
		`update books set copies = copies + $2, updated_at = now()
		 where lower(title) = lower($1)
		 returning `+bookColumns, title, copies)
	b, err := scanBook(row)
	if err == nil {
		return b, tx.Commit()
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return catalog.Book{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`insert into authors(id, name) values($1, $2)
		 on conflict (lower(name)) do nothing`, ids.New(), authorName); err != nil {
		return catalog.Book{}, err
	}

	row = tx.QueryRowContext(ctx,
		`insert into books(id, title, author, copies) values($1,$2,$3,$4)
		 returning `+bookColumns, ids.New(), title, authorName, copies)
	b, err = scanBook(row)
	if err != nil {
		return catalog.Book{}, err
	}
	return b, tx.Commit()
}

func (s *Store) GetBook(ctx context.Context, id string) (catalog.Book, error) {
	row := s.db.QueryRowContext(ctx, `select `+bookColumns+` from books where id=$1`, id)
	return scanBook(row)
}

func (s *Store) ListBooks(ctx context.Context) ([]catalog.Book, error) {
	rows, err := s.db.QueryContext(ctx, `select `+bookColumns+` from books order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []catalog.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (s *Store) UpdateBook(ctx context.Context, id string, upd catalog.BookUpdate) (catalog.Book, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return catalog.Book{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `select `+bookColumns+` from books where id=$1 for update`, id)
	b, err := scanBook(row)
	if err != nil {
		return catalog.Book{}, err
	}

	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return catalog.Book{}, catalog.ErrInvalidInput
		}
		b.Title = title
	}
	if upd.Author != nil {
		author := strings.TrimSpace(*upd.Author)
		if author == "" {
			return catalog.Book{}, catalog.ErrInvalidInput
		}
		if _, err := tx.ExecContext(ctx,
			`insert into authors(id, name) values($1, $2)
			 on conflict (lower(name)) do nothing`, ids.New(), author); err != nil {
			return catalog.Book{}, err
		}
		b.Author = author
	}
	if upd.Copies != nil {
		if *upd.Copies < 0 {
			return catalog.Book{}, catalog.ErrInvalidInput
		}
		b.Copies = *upd.Copies
	}

	row = tx.QueryRowContext(ctx,
		`update books set title=$2, author=$3, copies=$4, updated_at=now()
		 where id=$1 returning `+bookColumns, id, b.Title, b.Author, b.Copies)
	b, err = scanBook(row)
	if err != nil {
		if strings.Contains(err.Error(), "books_lower_title_key") {
			return catalog.Book{}, catalog.ErrAlreadyExists
		}
		return catalog.Book{}, err
	}
	return b, tx.Commit()
}

func (s *Store) DeleteBook(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `delete from books where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// Authors -------------------------------------------------------------------

func (s *Store) CreateAuthor(ctx context.Context, name string) (catalog.Author, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return catalog.Author{}, catalog.ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx,
		`insert into authors(id, name) values($1, $2)
		 returning id, name, created_at, updated_at`, ids.New(), name)
	var a catalog.Author
	if err := row.Scan(&a.ID, &a.Name, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if strings.Contains(err.Error(), "authors_lower_name_key") {
			return catalog.Author{}, catalog.ErrAlreadyExists
		}
		return catalog.Author{}, err
	}
	return a, nil
}

func (s *Store) GetAuthor(ctx context.Context, id string) (catalog.Author, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, created_at, updated_at from authors where id=$1`, id)
	var a catalog.Author
	if err := row.Scan(&a.ID, &a.Name, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Author{}, catalog.ErrNotFound
		}
		return catalog.Author{}, err
	}
	books, err := s.bookTitlesByAuthor(ctx, a.Name)
	if err != nil {
		return catalog.Author{}, err
	}
	a.Books = books
	return a, nil
}

func (s *Store) bookTitlesByAuthor(ctx context.Context, author string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select title from books where lower(author)=lower($1) order by created_at`, author)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

func (s *Store) ListAuthors(ctx context.Context) ([]catalog.Author, error) {
	rows, err := s.db.QueryContext(ctx,
		`select a.id, a.name, a.created_at, a.updated_at,
		        coalesce(array_agg(b.title order by b.created_at) filter (where b.id is not null), '{}')
		 from authors a
		 left join books b on lower(b.author)=lower(a.name)
		 group by a.id, a.name, a.created_at, a.updated_at
		 order by a.created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []catalog.Author
	for rows.Next() {
		var a catalog.Author
		var titles []byte
		if err := rows.Scan(&a.ID, &a.Name, &a.CreatedAt, &a.UpdatedAt, &titles); err != nil {
			return nil, err
		}
		a.Books = parseTextArray(string(titles))
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s *Store) UpdateAuthor(ctx context.Context, id, name string) (catalog.Author, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return catalog.Author{}, catalog.ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx,
		`update authors set name=$2, updated_at=now() where id=$1
		 returning id, name, created_at, updated_at`, id, name)
	var a catalog.Author
	if err := row.Scan(&a.ID, &a.Name, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Author{}, catalog.ErrNotFound
		}
		if strings.Contains(err.Error(), "authors_lower_name_key") {
			return catalog.Author{}, catalog.ErrAlreadyExists
		}
		return catalog.Author{}, err
	}
	return a, nil
}

func (s *Store) DeleteAuthor(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `delete from authors where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// Checkouts -----------------------------------------------------------------

const checkoutColumns = `id, account_id, book_id, book_title, quantity, due_date, returned_at, created_at`

func scanCheckout(row interface{ Scan(...any) error }) (catalog.Checkout, error) {
	var c catalog.Checkout
	err := row.Scan(&c.ID, &c.AccountID, &c.BookID, &c.BookTitle,
		&c.Quantity, &c.DueDate, &c.ReturnedAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Checkout{}, catalog.ErrNotFound
		}
		return catalog.Checkout{}, err
	}
	return c, nil
}

func (s *Store) CheckoutBook(ctx context.Context, accountID, bookID string, quantity int) (catalog.Checkout, error) {
	if accountID == "" {
		return catalog.Checkout{}, catalog.ErrInvalidInput
	}
	if quantity <= 0 {
		quantity = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return catalog.Checkout{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the book row so concurrent checkouts cannot oversell the shelf.
	var title string
	var copies int
	err = tx.QueryRowContext(ctx,
		`select title, copies from books where id=$1 for update`, bookID).Scan(&title, &copies)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Checkout{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Checkout{}, err
	}
	if copies < quantity {
		return catalog.Checkout{}, catalog.ErrInsufficientCopies
	}

	if _, err := tx.ExecContext(ctx,
		`update books set copies = copies - $2, updated_at = now() where id=$1`,
		bookID, quantity); err != nil {
		return catalog.Checkout{}, err
	}

	row := tx.QueryRowContext(ctx,
		`insert into checkouts(id, account_id, book_id, book_title, quantity, due_date)
		 values($1,$2,$3,$4,$5, now() + $6::interval)
		 returning `+checkoutColumns,
		ids.New(), accountID, bookID, title, quantity, catalog.LoanPeriod.String())
	c, err := scanCheckout(row)
	if err != nil {
		return catalog.Checkout{}, err
	}
	return c, tx.Commit()
}

func (s *Store) ReturnCheckout(ctx context.Context, checkoutID, accountID string) (catalog.Checkout, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return catalog.Checkout{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`select `+checkoutColumns+` from checkouts where id=$1 for update`, checkoutID)
	c, err := scanCheckout(row)
	if err != nil {
		return catalog.Checkout{}, err
	}
	if accountID != "" && c.AccountID != accountID {
		return catalog.Checkout{}, catalog.ErrNotOwner
	}
	if c.ReturnedAt != nil {
		return catalog.Checkout{}, catalog.ErrAlreadyReturned
	}

	row = tx.QueryRowContext(ctx,
		`update checkouts set returned_at = now() where id=$1 returning `+checkoutColumns, checkoutID)
	c, err = scanCheckout(row)
	if err != nil {
		return catalog.Checkout{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`update books set copies = copies + $2, updated_at = now() where id=$1`,
		c.BookID, c.Quantity); err != nil {
		return catalog.Checkout{}, err
	}
	return c, tx.Commit()
}

func (s *Store) ListCheckoutsForAccount(ctx context.Context, accountID string) ([]catalog.Checkout, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+checkoutColumns+` from checkouts where account_id=$1 order by created_at asc`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCheckouts(rows)
}

func (s *Store) ListCheckouts(ctx context.Context) ([]catalog.Checkout, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+checkoutColumns+` from checkouts order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCheckouts(rows)
}

func collectCheckouts(rows *sql.Rows) ([]catalog.Checkout, error) {
	var res []catalog.Checkout
	for rows.Next() {
		c, err := scanCheckout(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// parseTextArray decodes a flat Postgres text[] literal. Titles with quotes
// or commas arrive quoted; this covers the shapes array_agg produces.
func parseTextArray(s string) []string {
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	if s == "" {
		return nil
	}
	var out []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"':
			inQuotes = !inQuotes
		case ch == '\\' && i+1 < len(s):
			i++
			cur.WriteByte(s[i])
		case ch == ',' && !inQuotes:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}
	out = append(out, cur.String())
	return out
}
