// Package mocks provides an in-memory implementation of data.Models for
// tests. It reproduces the store's conditional-update discipline (the
// availability check and the counter change happen under one lock) so the
// ledger's behaviour under concurrent calls can be exercised without a
// database.
package mocks

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"school-library/internal/data"
)

type Store struct {
	mu     sync.Mutex
	nextID int64
	books  map[uuid.UUID]*data.Book
	loans  map[uuid.UUID]*data.Loan
	users  map[int64]*data.User
}

func NewStore() *Store {
	return &Store{
		nextID: 1,
		books:  make(map[uuid.UUID]*data.Book),
		loans:  make(map[uuid.UUID]*data.Loan),
		users:  make(map[int64]*data.User),
	}
}

func (s *Store) Models() data.Models {
	return data.Models{
		Users: UserModel{s},
		Books: BookModel{s},
		Loans: LoanModel{s},
		Stats: StatsModel{s},
	}
}

func (s *Store) AddUser(user *data.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == 0 {
		user.ID = s.nextID
		s.nextID++
	}
	user.CreatedAt = time.Now()
	s.users[user.ID] = user
}

func (s *Store) AddBook(book *data.Book) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if book.ID == uuid.Nil {
		book.ID = uuid.New()
	}
	book.CreatedAt = time.Now()
	book.UpdatedAt = book.CreatedAt
	book.Version = 1
	s.books[book.ID] = book
}

func (s *Store) AddLoan(loan *data.Loan) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if loan.ID == uuid.Nil {
		loan.ID = uuid.New()
	}
	loan.CreatedAt = time.Now()
	s.loans[loan.ID] = loan
}

// Book returns a snapshot of the stored book, for assertions.
func (s *Store) Book(id uuid.UUID) *data.Book {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[id]
	if !ok {
		return nil
	}
	copied := *b
	return &copied
}

func today() time.Time {
	y, m, d := time.Now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type UserModel struct {
	store *Store
}

func (m UserModel) GetByEmail(email string) (*data.User, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	for _, u := range m.store.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, data.ErrRecordNotFound
}

func (m UserModel) Get(id int64) (*data.User, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	u, ok := m.store.users[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	copied := *u
	return &copied, nil
}

type BookModel struct {
	store *Store
}

func (m BookModel) Insert(book *data.Book) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	book.ID = uuid.New()
	book.AvailableQuantity = book.TotalQuantity
	book.CreatedAt = time.Now()
	book.UpdatedAt = book.CreatedAt
	book.Version = 1

	copied := *book
	m.store.books[book.ID] = &copied
	return nil
}

func (m BookModel) Get(id uuid.UUID) (*data.Book, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	b, ok := m.store.books[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	copied := *b
	return &copied, nil
}

func (m BookModel) Search(query, filter string) ([]*data.Book, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	var books []*data.Book
	for _, b := range m.store.books {
		if !matchesQuery(query, b.Title, b.Author) {
			continue
		}
		switch filter {
		case "available":
			if b.AvailableQuantity <= 0 {
				continue
			}
		case "borrowed":
			if b.AvailableQuantity >= b.TotalQuantity {
				continue
			}
		}
		copied := *b
		books = append(books, &copied)
	}

	sort.Slice(books, func(i, j int) bool { return books[i].Title < books[j].Title })
	return books, nil
}

func (m BookModel) Update(book *data.Book) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	// Like the SQL guard, a vanished row and a stale version are the same
	// failure from the caller's point of view.
	stored, ok := m.store.books[book.ID]
	if !ok {
		return data.ErrEditConflict
	}
	if book.Version != stored.Version {
		return data.ErrEditConflict
	}

	delta := book.TotalQuantity - stored.TotalQuantity
	stored.Title = book.Title
	stored.Author = book.Author
	stored.Publisher = book.Publisher
	stored.Category = book.Category
	stored.AvailableQuantity = max(0, stored.AvailableQuantity+delta)
	stored.TotalQuantity = book.TotalQuantity
	stored.UpdatedAt = time.Now()
	stored.Version++

	book.AvailableQuantity = stored.AvailableQuantity
	book.UpdatedAt = stored.UpdatedAt
	book.Version = stored.Version
	return nil
}

func (m BookModel) Delete(id uuid.UUID) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	b, ok := m.store.books[id]
	if !ok {
		return data.ErrRecordNotFound
	}
	if b.AvailableQuantity != b.TotalQuantity {
		return data.ErrHasOutstandingLoans
	}

	delete(m.store.books, id)

	// Returned loans of the deleted book stay behind as detached history.
	for _, l := range m.store.loans {
		if l.BookID == id {
			l.BookID = uuid.Nil
		}
	}
	return nil
}

type LoanModel struct {
	store *Store
}

func (m LoanModel) Create(loan *data.Loan, days int) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	b, ok := m.store.books[loan.BookID]
	if !ok {
		return data.ErrRecordNotFound
	}
	if b.AvailableQuantity <= 0 {
		return data.ErrNoAvailableCopies
	}
	b.AvailableQuantity--
	b.UpdatedAt = time.Now()

	loan.ID = uuid.New()
	loan.LoanDate = today()
	loan.DueDate = loan.LoanDate.AddDate(0, 0, days)
	loan.ReturnedAt = nil
	loan.Status = data.StatusBorrowed
	loan.CreatedAt = time.Now()

	copied := *loan
	m.store.loans[loan.ID] = &copied
	return nil
}

func (m LoanModel) Get(id uuid.UUID) (*data.Loan, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	l, ok := m.store.loans[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	return m.snapshot(l), nil
}

func (m LoanModel) Return(id uuid.UUID) (*data.Loan, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	l, ok := m.store.loans[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	if l.ReturnedAt != nil {
		return nil, data.ErrAlreadyReturned
	}

	returned := today()
	l.ReturnedAt = &returned
	l.Status = data.StatusReturned

	if b, ok := m.store.books[l.BookID]; ok {
		if b.AvailableQuantity < b.TotalQuantity {
			b.AvailableQuantity++
		}
		b.UpdatedAt = time.Now()
	}

	return m.snapshot(l), nil
}

func (m LoanModel) History(query, status string) ([]*data.Loan, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	var loans []*data.Loan
	for _, l := range m.store.loans {
		snap := m.snapshot(l)

		var title string
		if snap.Book != nil {
			title = snap.Book.Title
		}
		if !matchesQuery(query, title, snap.StudentName, snap.StudentClass) {
			continue
		}
		if status != "" && status != "all" && snap.Status != status {
			continue
		}
		loans = append(loans, snap)
	}

	sort.Slice(loans, func(i, j int) bool {
		if !loans[i].LoanDate.Equal(loans[j].LoanDate) {
			return loans[i].LoanDate.After(loans[j].LoanDate)
		}
		return loans[i].CreatedAt.After(loans[j].CreatedAt)
	})
	return loans, nil
}

// snapshot copies a stored loan, joins its book and derives the display
// status. Callers must hold the store lock.
func (m LoanModel) snapshot(l *data.Loan) *data.Loan {
	copied := *l
	if b, ok := m.store.books[l.BookID]; ok {
		bookCopy := *b
		copied.Book = &bookCopy
	}
	copied.Status = copied.DeriveStatus(time.Now())
	return &copied
}

type StatsModel struct {
	store *Store
}

func (m StatsModel) Dashboard() (*data.DashboardStats, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	var stats data.DashboardStats
	for _, b := range m.store.books {
		stats.TotalBooks += b.TotalQuantity
		stats.AvailableBooks += b.AvailableQuantity
	}
	stats.BorrowedBooks = stats.TotalBooks - stats.AvailableBooks

	now := today()
	for _, l := range m.store.loans {
		if l.ReturnedAt == nil && l.DueDate.Before(now) {
			stats.OverdueLoans++
		}
	}
	return &stats, nil
}

func matchesQuery(query string, fields ...string) bool {
	if query == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), strings.ToLower(query)) {
			return true
		}
	}
	return false
}
