package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"school-library/internal/validator"
)

type Book struct {
	ID                uuid.UUID `json:"id"`
	Title             string    `json:"title"`
	Author            string    `json:"author"`
	Publisher         string    `json:"publisher,omitempty"`
	Category          string    `json:"category,omitempty"`
	TotalQuantity     int       `json:"total_quantity"`
	AvailableQuantity int       `json:"available_quantity"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	Version           int       `json:"-"`
}

func ValidateBook(v *validator.Validator, book *Book) {
	v.Check(validator.NotBlank(book.Title), "title", "must be provided")
	v.Check(len(book.Title) <= 500, "title", "must not be more than 500 bytes long")
	v.Check(validator.NotBlank(book.Author), "author", "must be provided")
	v.Check(len(book.Author) <= 500, "author", "must not be more than 500 bytes long")
	v.Check(book.TotalQuantity >= 0, "total_quantity", "must not be negative")
}

type BookModel struct {
	DB *sql.DB
}

func (m BookModel) Insert(book *Book) error {
	query := `
		INSERT INTO books (id, title, author, publisher, category, total_quantity, available_quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING created_at, updated_at, version`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	book.ID = uuid.New()
	book.AvailableQuantity = book.TotalQuantity

	args := []any{book.ID, book.Title, book.Author, book.Publisher, book.Category, book.TotalQuantity}
	return m.DB.QueryRowContext(ctx, query, args...).
		Scan(&book.CreatedAt, &book.UpdatedAt, &book.Version)
}

func (m BookModel) Get(id uuid.UUID) (*Book, error) {
	query := `
		SELECT id, title, author, publisher, category, total_quantity, available_quantity, created_at, updated_at, version
		FROM books
		WHERE id = $1`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var b Book

	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&b.ID,
		&b.Title,
		&b.Author,
		&b.Publisher,
		&b.Category,
		&b.TotalQuantity,
		&b.AvailableQuantity,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.Version,
	)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}

	return &b, nil
}

// Search matches a case-insensitive substring of title or author. The filter
// narrows by availability: "available" keeps books with copies on the shelf,
// "borrowed" keeps books with at least one copy out.
func (m BookModel) Search(query, filter string) ([]*Book, error) {
	stmt := `
		SELECT id, title, author, publisher, category, total_quantity, available_quantity, created_at, updated_at, version
		FROM books
		WHERE (title ILIKE '%' || $1 || '%' OR author ILIKE '%' || $1 || '%')`

	switch filter {
	case "available":
		stmt += ` AND available_quantity > 0`
	case "borrowed":
		stmt += ` AND available_quantity < total_quantity`
	}

	stmt += ` ORDER BY title`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rows, err := m.DB.QueryContext(ctx, stmt, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		var b Book
		if err := rows.Scan(
			&b.ID, &b.Title, &b.Author, &b.Publisher, &b.Category,
			&b.TotalQuantity, &b.AvailableQuantity, &b.CreatedAt, &b.UpdatedAt, &b.Version,
		); err != nil {
			return nil, err
		}
		books = append(books, &b)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return books, nil
}

// Update adjusts available_quantity by the same delta applied to
// total_quantity, so the number of copies out on loan is preserved. Both
// counters move in a single statement against the current row values. The
// version check makes the write fail with ErrEditConflict when the row
// changed since it was read.
func (m BookModel) Update(book *Book) error {
	query := `
		UPDATE books
		SET title = $1, author = $2, publisher = $3, category = $4,
		    available_quantity = GREATEST(0, available_quantity + ($5 - total_quantity)),
		    total_quantity = $5,
		    updated_at = now(), version = version + 1
		WHERE id = $6 AND version = $7
		RETURNING available_quantity, updated_at, version`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	args := []any{book.Title, book.Author, book.Publisher, book.Category, book.TotalQuantity, book.ID, book.Version}
	err := m.DB.QueryRowContext(ctx, query, args...).
		Scan(&book.AvailableQuantity, &book.UpdatedAt, &book.Version)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrEditConflict
		default:
			return err
		}
	}
	return nil
}

// Delete only removes a book with no copies out on loan.
func (m BookModel) Delete(id uuid.UUID) error {
	query := `
		DELETE FROM books
		WHERE id = $1 AND available_quantity = total_quantity`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result, err := m.DB.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		var exists bool
		err := m.DB.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM books WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			return ErrHasOutstandingLoans
		}
		return ErrRecordNotFound
	}

	return nil
}
