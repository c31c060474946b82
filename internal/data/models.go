package data

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrRecordNotFound      = errors.New("models: record not found")
	ErrEditConflict        = errors.New("models: edit conflict")
	ErrNoAvailableCopies   = errors.New("models: no available copies")
	ErrAlreadyReturned     = errors.New("models: loan already returned")
	ErrHasOutstandingLoans = errors.New("models: book has outstanding loans")
)

type Models struct {
	Users interface {
		GetByEmail(email string) (*User, error)
		Get(id int64) (*User, error)
	}

	Books interface {
		Insert(book *Book) error
		Get(id uuid.UUID) (*Book, error)
		Search(query, filter string) ([]*Book, error)
		Update(book *Book) error
		Delete(id uuid.UUID) error
	}

	Loans interface {
		Create(loan *Loan, days int) error
		Get(id uuid.UUID) (*Loan, error)
		Return(id uuid.UUID) (*Loan, error)
		History(query, status string) ([]*Loan, error)
	}

	Stats interface {
		Dashboard() (*DashboardStats, error)
	}
}

func NewModels(db *sql.DB) Models {
	return Models{
		Users: UserModel{DB: db},
		Books: BookModel{DB: db},
		Loans: LoanModel{DB: db},
		Stats: StatsModel{DB: db},
	}
}
