package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"school-library/internal/validator"
)

const (
	StatusBorrowed = "emprestado"
	StatusReturned = "devolvido"
	StatusOverdue  = "atrasado"
)

const (
	MinLoanDays     = 1
	MaxLoanDays     = 30
	DefaultLoanDays = 14
)

type Loan struct {
	ID           uuid.UUID  `json:"id"`
	BookID       uuid.UUID  `json:"book_id"`
	StudentName  string     `json:"student_name"`
	StudentClass string     `json:"student_class"`
	LoanDate     time.Time  `json:"loan_date"`
	DueDate      time.Time  `json:"expected_return_date"`
	ReturnedAt   *time.Time `json:"actual_return_date"`
	Status       string     `json:"status"`
	CreatedBy    *int64     `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`

	Book *Book `json:"book,omitempty"`
}

// DeriveStatus is the single place the displayed status of a loan comes
// from. A returned loan stays "devolvido" forever; an outstanding loan is
// "atrasado" once its due date is strictly before today's date, otherwise
// "emprestado". Nothing is persisted on the overdue transition.
func (l *Loan) DeriveStatus(now time.Time) string {
	if l.ReturnedAt != nil {
		return StatusReturned
	}
	y, m, d := now.UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if l.DueDate.Before(today) {
		return StatusOverdue
	}
	return StatusBorrowed
}

func ValidateLoan(v *validator.Validator, loan *Loan, days int) {
	v.Check(validator.NotBlank(loan.StudentName), "student_name", "must be provided")
	v.Check(len(loan.StudentName) <= 500, "student_name", "must not be more than 500 bytes long")
	v.Check(validator.NotBlank(loan.StudentClass), "student_class", "must be provided")
	v.Check(days >= MinLoanDays && days <= MaxLoanDays, "loan_days", "must be between 1 and 30")
}

type LoanModel struct {
	DB *sql.DB
}

// Create inserts the loan and takes one copy off the shelf as a single
// transaction. The decrement is guarded by available_quantity > 0 so two
// callers racing for the last copy cannot both win.
func (m LoanModel) Create(loan *Loan, days int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE books
		SET available_quantity = available_quantity - 1, updated_at = now()
		WHERE id = $1 AND available_quantity > 0`, loan.BookID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM books WHERE id = $1)`, loan.BookID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			return ErrNoAvailableCopies
		}
		return ErrRecordNotFound
	}

	loan.ID = uuid.New()
	loan.Status = StatusBorrowed

	query := `
		INSERT INTO loans (id, book_id, student_name, student_class, loan_date, expected_return_date, status, created_by)
		VALUES ($1, $2, $3, $4, CURRENT_DATE, CURRENT_DATE + $5::integer, $6, $7)
		RETURNING loan_date, expected_return_date, created_at`

	args := []any{loan.ID, loan.BookID, loan.StudentName, loan.StudentClass, days, loan.Status, loan.CreatedBy}
	err = tx.QueryRowContext(ctx, query, args...).
		Scan(&loan.LoanDate, &loan.DueDate, &loan.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (m LoanModel) Get(id uuid.UUID) (*Loan, error) {
	// Deleting a book detaches its returned loans (book_id goes null), so
	// the join is LEFT and the book columns may be absent.
	query := `
		SELECT l.id, l.book_id, l.student_name, l.student_class, l.loan_date,
		       l.expected_return_date, l.actual_return_date, l.created_by, l.created_at,
		       b.id, b.title, b.author
		FROM loans l
		LEFT JOIN books b ON b.id = l.book_id
		WHERE l.id = $1`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var l Loan
	var bookID, joinedID uuid.NullUUID
	var title, author sql.NullString

	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&l.ID,
		&bookID,
		&l.StudentName,
		&l.StudentClass,
		&l.LoanDate,
		&l.DueDate,
		&l.ReturnedAt,
		&l.CreatedBy,
		&l.CreatedAt,
		&joinedID,
		&title,
		&author,
	)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}

	l.BookID = bookID.UUID
	if joinedID.Valid {
		l.Book = &Book{ID: joinedID.UUID, Title: title.String, Author: author.String}
	}
	l.Status = l.DeriveStatus(time.Now())
	return &l, nil
}

// Return stamps the return date and puts the copy back on the shelf as a
// single transaction. The stamp is guarded by actual_return_date IS NULL so
// a loan can only be returned once; the counter increment is capped at
// total_quantity.
func (m LoanModel) Return(id uuid.UUID) (*Loan, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		UPDATE loans
		SET actual_return_date = CURRENT_DATE, status = $2
		WHERE id = $1 AND actual_return_date IS NULL
		RETURNING id, book_id, student_name, student_class, loan_date, expected_return_date, actual_return_date, created_by, created_at`

	// The guard only matches outstanding loans, and a book with an
	// outstanding loan cannot be deleted, so book_id is non-null here.
	var l Loan
	err = tx.QueryRowContext(ctx, query, id, StatusReturned).Scan(
		&l.ID,
		&l.BookID,
		&l.StudentName,
		&l.StudentClass,
		&l.LoanDate,
		&l.DueDate,
		&l.ReturnedAt,
		&l.CreatedBy,
		&l.CreatedAt,
	)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM loans WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrAlreadyReturned
		}
		return nil, ErrRecordNotFound
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE books
		SET available_quantity = LEAST(available_quantity + 1, total_quantity), updated_at = now()
		WHERE id = $1`, l.BookID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	l.Status = StatusReturned
	return &l, nil
}

// History returns every loan, newest first, with the book joined in and the
// display status derived per read. The optional query matches book title,
// student name or class; the optional status narrows by derived status.
func (m LoanModel) History(query, status string) ([]*Loan, error) {
	stmt := `
		SELECT l.id, l.book_id, l.student_name, l.student_class, l.loan_date,
		       l.expected_return_date, l.actual_return_date, l.created_by, l.created_at,
		       b.id, b.title, b.author
		FROM loans l
		LEFT JOIN books b ON b.id = l.book_id
		WHERE ($1 = '' OR b.title ILIKE '%' || $1 || '%'
		       OR l.student_name ILIKE '%' || $1 || '%'
		       OR l.student_class ILIKE '%' || $1 || '%')
		ORDER BY l.loan_date DESC, l.created_at DESC`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rows, err := m.DB.QueryContext(ctx, stmt, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now()

	var loans []*Loan
	for rows.Next() {
		var l Loan
		var bookID, joinedID uuid.NullUUID
		var title, author sql.NullString
		if err := rows.Scan(
			&l.ID, &bookID, &l.StudentName, &l.StudentClass, &l.LoanDate,
			&l.DueDate, &l.ReturnedAt, &l.CreatedBy, &l.CreatedAt,
			&joinedID, &title, &author,
		); err != nil {
			return nil, err
		}

		l.BookID = bookID.UUID
		if joinedID.Valid {
			l.Book = &Book{ID: joinedID.UUID, Title: title.String, Author: author.String}
		}
		l.Status = l.DeriveStatus(now)

		// "atrasado" only exists on read, so the status filter has to be
		// applied after derivation rather than in the statement.
		if status != "" && status != "all" && l.Status != status {
			continue
		}

		loans = append(loans, &l)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return loans, nil
}
