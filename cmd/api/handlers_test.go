package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"school-library/internal/data"
	"school-library/internal/data/mocks"
)

const testPassword = "pa55word!"

func newTestApplication(t *testing.T) (*application, *mocks.Store) {
	t.Helper()

	store := mocks.NewStore()

	librarian := &data.User{Name: "Beatriz Ramos", Email: "beatriz@escola.example", Role: data.RoleLibrarian}
	require.NoError(t, librarian.Password.Set(testPassword))
	store.AddUser(librarian)

	reader := &data.User{Name: "Carlos Lima", Email: "carlos@escola.example", Role: data.RoleUser}
	require.NoError(t, reader.Password.Set(testPassword))
	store.AddUser(reader)

	app := &application{
		config:  config{env: "testing"},
		logger:  zap.NewNop(),
		models:  store.Models(),
		session: scs.New(),
	}
	return app, store
}

func newTestServer(t *testing.T, app *application) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(app.session.LoadAndSave(app.authenticate(app.routes())))
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	ts.Client().Jar = jar

	return ts
}

func doRequest(t *testing.T, ts *httptest.Server, method, urlPath string, body any) (int, []byte) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, ts.URL+urlPath, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	return res.StatusCode, resBody
}

func login(t *testing.T, ts *httptest.Server, email string) {
	t.Helper()

	code, _ := doRequest(t, ts, http.MethodPost, "/v1/login", map[string]string{
		"email":    email,
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, code)
}

type bookResponse struct {
	Book data.Book `json:"book"`
}

type loanResponse struct {
	Loan data.Loan `json:"loan"`
}

func TestLoanLifecycle(t *testing.T) {
	app, store := newTestApplication(t)
	ts := newTestServer(t, app)
	login(t, ts, "beatriz@escola.example")

	code, body := doRequest(t, ts, http.MethodPost, "/v1/books", map[string]any{
		"title":          "Dom Casmurro",
		"author":         "Machado de Assis",
		"publisher":      "Companhia das Letras",
		"category":       "Literatura Brasileira",
		"total_quantity": 5,
	})
	require.Equal(t, http.StatusCreated, code)

	var br bookResponse
	require.NoError(t, json.Unmarshal(body, &br))
	assert.Equal(t, 5, br.Book.AvailableQuantity)

	code, body = doRequest(t, ts, http.MethodPost, "/v1/loans", map[string]any{
		"book_id":       br.Book.ID.String(),
		"student_name":  "Ana Silva",
		"student_class": "9A",
		"loan_days":     14,
	})
	require.Equal(t, http.StatusCreated, code)

	var lr loanResponse
	require.NoError(t, json.Unmarshal(body, &lr))
	assert.Equal(t, data.StatusBorrowed, lr.Loan.Status)
	assert.Nil(t, lr.Loan.ReturnedAt)
	assert.Equal(t, lr.Loan.LoanDate.AddDate(0, 0, 14), lr.Loan.DueDate)
	assert.Equal(t, 4, store.Book(br.Book.ID).AvailableQuantity)

	code, body = doRequest(t, ts, http.MethodPut, "/v1/loans/"+lr.Loan.ID.String()+"/return", nil)
	require.Equal(t, http.StatusOK, code)

	var returned loanResponse
	require.NoError(t, json.Unmarshal(body, &returned))
	assert.Equal(t, data.StatusReturned, returned.Loan.Status)
	require.NotNil(t, returned.Loan.ReturnedAt)
	assert.False(t, returned.Loan.ReturnedAt.Before(returned.Loan.LoanDate))
	assert.Equal(t, 5, store.Book(br.Book.ID).AvailableQuantity)

	// Returning the same loan twice must fail without touching the counter.
	code, _ = doRequest(t, ts, http.MethodPut, "/v1/loans/"+lr.Loan.ID.String()+"/return", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, 5, store.Book(br.Book.ID).AvailableQuantity)
}

func TestCreateLoanNoAvailableCopies(t *testing.T) {
	app, store := newTestApplication(t)
	ts := newTestServer(t, app)
	login(t, ts, "beatriz@escola.example")

	book := &data.Book{Title: "1984", Author: "George Orwell", TotalQuantity: 3, AvailableQuantity: 0}
	store.AddBook(book)

	code, _ := doRequest(t, ts, http.MethodPost, "/v1/loans", map[string]any{
		"book_id":       book.ID.String(),
		"student_name":  "Pedro Santos",
		"student_class": "8B",
	})
	assert.Equal(t, http.StatusConflict, code)

	after := store.Book(book.ID)
	assert.Equal(t, 0, after.AvailableQuantity)
	assert.Equal(t, 3, after.TotalQuantity)
}

func TestCreateLoanValidation(t *testing.T) {
	app, store := newTestApplication(t)
	ts := newTestServer(t, app)
	login(t, ts, "beatriz@escola.example")

	book := &data.Book{Title: "A Hora da Estrela", Author: "Clarice Lispector", TotalQuantity: 2, AvailableQuantity: 2}
	store.AddBook(book)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"blank student name", map[string]any{"book_id": book.ID.String(), "student_name": "", "student_class": "7A"}},
		{"whitespace-only student name", map[string]any{"book_id": book.ID.String(), "student_name": "   ", "student_class": "7A"}},
		{"blank student class", map[string]any{"book_id": book.ID.String(), "student_name": "Maria", "student_class": ""}},
		{"term too long", map[string]any{"book_id": book.ID.String(), "student_name": "Maria", "student_class": "7A", "loan_days": 31}},
		{"negative term", map[string]any{"book_id": book.ID.String(), "student_name": "Maria", "student_class": "7A", "loan_days": -1}},
		{"bad book id", map[string]any{"book_id": "not-a-uuid", "student_name": "Maria", "student_class": "7A"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := doRequest(t, ts, http.MethodPost, "/v1/loans", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, code)
		})
	}

	assert.Equal(t, 2, store.Book(book.ID).AvailableQuantity)
}

func TestCreateLoanDefaultTerm(t *testing.T) {
	app, store := newTestApplication(t)
	ts := newTestServer(t, app)
	login(t, ts, "beatriz@escola.example")

	book := &data.Book{Title: "Capitães da Areia", Author: "Jorge Amado", TotalQuantity: 1, AvailableQuantity: 1}
	store.AddBook(book)

	code, body := doRequest(t, ts, http.MethodPost, "/v1/loans", map[string]any{
		"book_id":       book.ID.String(),
		"student_name":  "João Costa",
		"student_class": "9B",
	})
	require.Equal(t, http.StatusCreated, code)

	var lr loanResponse
	require.NoError(t, json.Unmarshal(body, &lr))
	assert.Equal(t, lr.Loan.LoanDate.AddDate(0, 0, data.DefaultLoanDays), lr.Loan.DueDate)
}

func TestConcurrentLoanCreation(t *testing.T) {
	app, store := newTestApplication(t)
	ts := newTestServer(t, app)
	login(t, ts, "beatriz@escola.example")

	book := &data.Book{Title: "O Cortiço", Author: "Aluísio Azevedo", TotalQuantity: 3, AvailableQuantity: 3}
	store.AddBook(book)

	const workers = 8
	codes := make(chan int, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			body, err := json.Marshal(map[string]any{
				"book_id":       book.ID.String(),
				"student_name":  fmt.Sprintf("Aluno %d", i),
				"student_class": "9A",
				"loan_days":     7,
			})
			if err != nil {
				codes <- 0
				return
			}

			res, err := ts.Client().Post(ts.URL+"/v1/loans", "application/json", bytes.NewReader(body))
			if err != nil {
				codes <- 0
				return
			}
			defer res.Body.Close()
			io.Copy(io.Discard, res.Body)
			codes <- res.StatusCode
		}(i)
	}
	wg.Wait()
	close(codes)

	var created, conflicted int
	for code := range codes {
		switch code {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicted++
		default:
			t.Fatalf("unexpected status code %d", code)
		}
	}

	assert.Equal(t, 3, created)
	assert.Equal(t, workers-3, conflicted)
	assert.Equal(t, 0, store.Book(book.ID).AvailableQuantity)
}

func TestDeleteBookWithOutstandingLoans(t *testing.T) {
	app, store := newTestApplication(t)
	ts := newTestServer(t, app)
	login(t, ts, "beatriz@escola.example")

	book := &data.Book{Title: "Vidas Secas", Author: "Graciliano Ramos", TotalQuantity: 2, AvailableQuantity: 2}
	store.AddBook(book)

	code, body := doRequest(t, ts, http.MethodPost, "/v1/loans", map[string]any{
		"book_id":       book.ID.String(),
		"student_name":  "Rita Souza",
		"student_class": "6C",
	})
	require.Equal(t, http.StatusCreated, code)

	var lr loanResponse
	require.NoError(t, json.Unmarshal(body, &lr))

	code, _ = doRequest(t, ts, http.MethodDelete, "/v1/books/"+book.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.NotNil(t, store.Book(book.ID))

	code, _ = doRequest(t, ts, http.MethodPut, "/v1/loans/"+lr.Loan.ID.String()+"/return", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = doRequest(t, ts, http.MethodDelete, "/v1/books/"+book.ID.String(), nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Nil(t, store.Book(book.ID))
}

func TestDeleteBookKeepsLoanHistory(t *testing.T) {
	app, store := newTestApplication(t)
	ts := newTestServer(t, app)
	login(t, ts, "beatriz@escola.example")

	book := &data.Book{Title: "Macunaíma", Author: "Mário de Andrade", TotalQuantity: 1, AvailableQuantity: 1}
	store.AddBook(book)

	code, body := doRequest(t, ts, http.MethodPost, "/v1/loans", map[string]any{
		"book_id":       book.ID.String(),
		"student_name":  "Tiago Nunes",
		"student_class": "8A",
	})
	require.Equal(t, http.StatusCreated, code)

	var lr loanResponse
	require.NoError(t, json.Unmarshal(body, &lr))

	code, _ = doRequest(t, ts, http.MethodPut, "/v1/loans/"+lr.Loan.ID.String()+"/return", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = doRequest(t, ts, http.MethodDelete, "/v1/books/"+book.ID.String(), nil)
	require.Equal(t, http.StatusOK, code)

	// The returned loan survives the delete with its book detached.
	code, body = doRequest(t, ts, http.MethodGet, "/v1/loans", nil)
	require.Equal(t, http.StatusOK, code)

	var res struct {
		Loans []data.Loan `json:"loans"`
	}
	require.NoError(t, json.Unmarshal(body, &res))
	require.Len(t, res.Loans, 1)
	assert.Equal(t, data.StatusReturned, res.Loans[0].Status)
	assert.Equal(t, uuid.Nil, res.Loans[0].BookID)
	assert.Nil(t, res.Loans[0].Book)
}

func TestUpdateBookQuantityDelta(t *testing.T) {
	app, store := newTestApplication(t)
	ts := newTestServer(t, app)
	login(t, ts, "beatriz@escola.example")

	// Two copies out on loan: total 3, available 1.
	book := &data.Book{Title: "Quincas Borba", Author: "Machado de Assis", TotalQuantity: 3, AvailableQuantity: 1}
	store.AddBook(book)

	code, body := doRequest(t, ts, http.MethodPatch, "/v1/books/"+book.ID.String(), map[string]any{
		"total_quantity": 5,
	})
	require.Equal(t, http.StatusOK, code)

	var br bookResponse
	require.NoError(t, json.Unmarshal(body, &br))
	assert.Equal(t, 5, br.Book.TotalQuantity)
	assert.Equal(t, 3, br.Book.AvailableQuantity)

	// Shrinking below the number of copies on loan clamps available at zero.
	code, body = doRequest(t, ts, http.MethodPatch, "/v1/books/"+book.ID.String(), map[string]any{
		"total_quantity": 1,
	})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &br))
	assert.Equal(t, 0, br.Book.AvailableQuantity)
}

func TestSearchBooks(t *testing.T) {
	app, store := newTestApplication(t)
	ts := newTestServer(t, app)
	login(t, ts, "carlos@escola.example")

	store.AddBook(&data.Book{Title: "Dom Casmurro", Author: "Machado de Assis", TotalQuantity: 5, AvailableQuantity: 3})
	store.AddBook(&data.Book{Title: "O Pequeno Príncipe", Author: "Antoine de Saint-Exupéry", TotalQuantity: 8, AvailableQuantity: 8})
	store.AddBook(&data.Book{Title: "Harry Potter e a Pedra Filosofal", Author: "J.K. Rowling", TotalQuantity: 6, AvailableQuantity: 0})

	type booksResponse struct {
		Books []data.Book `json:"books"`
	}

	get := func(t *testing.T, path string) []data.Book {
		code, body := doRequest(t, ts, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, code)
		var br booksResponse
		require.NoError(t, json.Unmarshal(body, &br))
		return br.Books
	}

	t.Run("query matches title case-insensitively", func(t *testing.T) {
		books := get(t, "/v1/books?q=dom+casmurro")
		require.Len(t, books, 1)
		assert.Equal(t, "Dom Casmurro", books[0].Title)
	})

	t.Run("query matches author", func(t *testing.T) {
		books := get(t, "/v1/books?q=rowling")
		require.Len(t, books, 1)
		assert.Equal(t, "Harry Potter e a Pedra Filosofal", books[0].Title)
	})

	t.Run("available filter drops fully borrowed books", func(t *testing.T) {
		books := get(t, "/v1/books?filter=available")
		require.Len(t, books, 2)
	})

	t.Run("borrowed filter keeps books with copies out", func(t *testing.T) {
		books := get(t, "/v1/books?filter=borrowed")
		require.Len(t, books, 2)
	})

	t.Run("unknown filter is rejected", func(t *testing.T) {
		code, _ := doRequest(t, ts, http.MethodGet, "/v1/books?filter=bogus", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, code)
	})
}

func TestLoanHistory(t *testing.T) {
	app, store := newTestApplication(t)
	ts := newTestServer(t, app)
	login(t, ts, "carlos@escola.example")

	book := &data.Book{Title: "Dom Casmurro", Author: "Machado de Assis", TotalQuantity: 5, AvailableQuantity: 2}
	store.AddBook(book)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	returnDate := today.AddDate(0, 0, -10)

	// Overdue: due six days ago, never returned.
	store.AddLoan(&data.Loan{
		BookID:       book.ID,
		StudentName:  "Ana Silva",
		StudentClass: "9A",
		LoanDate:     today.AddDate(0, 0, -20),
		DueDate:      today.AddDate(0, 0, -6),
	})
	// Outstanding and on time.
	store.AddLoan(&data.Loan{
		BookID:       book.ID,
		StudentName:  "Pedro Santos",
		StudentClass: "8B",
		LoanDate:     today.AddDate(0, 0, -2),
		DueDate:      today.AddDate(0, 0, 12),
	})
	// Returned.
	store.AddLoan(&data.Loan{
		BookID:       book.ID,
		StudentName:  "Maria Oliveira",
		StudentClass: "7A",
		LoanDate:     today.AddDate(0, 0, -15),
		DueDate:      today.AddDate(0, 0, -1),
		ReturnedAt:   &returnDate,
	})

	type loansResponse struct {
		Loans []data.Loan `json:"loans"`
	}

	get := func(t *testing.T, path string) []data.Loan {
		code, body := doRequest(t, ts, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, code)
		var lr loansResponse
		require.NoError(t, json.Unmarshal(body, &lr))
		return lr.Loans
	}

	t.Run("derives status and sorts newest first", func(t *testing.T) {
		loans := get(t, "/v1/loans")
		require.Len(t, loans, 3)

		assert.Equal(t, "Pedro Santos", loans[0].StudentName)
		assert.Equal(t, data.StatusBorrowed, loans[0].Status)
		assert.Equal(t, data.StatusReturned, loans[1].Status)
		assert.Equal(t, data.StatusOverdue, loans[2].Status)
	})

	t.Run("status filter selects derived overdue", func(t *testing.T) {
		loans := get(t, "/v1/loans?status=atrasado")
		require.Len(t, loans, 1)
		assert.Equal(t, "Ana Silva", loans[0].StudentName)
	})

	t.Run("query matches student name", func(t *testing.T) {
		loans := get(t, "/v1/loans?q=maria")
		require.Len(t, loans, 1)
		assert.Equal(t, data.StatusReturned, loans[0].Status)
	})

	t.Run("loans carry the joined book", func(t *testing.T) {
		loans := get(t, "/v1/loans")
		require.NotEmpty(t, loans)
		require.NotNil(t, loans[0].Book)
		assert.Equal(t, "Dom Casmurro", loans[0].Book.Title)
	})
}

func TestDashboard(t *testing.T) {
	app, store := newTestApplication(t)
	ts := newTestServer(t, app)
	login(t, ts, "carlos@escola.example")

	bookA := &data.Book{Title: "Dom Casmurro", Author: "Machado de Assis", TotalQuantity: 5, AvailableQuantity: 3}
	bookB := &data.Book{Title: "1984", Author: "George Orwell", TotalQuantity: 4, AvailableQuantity: 4}
	store.AddBook(bookA)
	store.AddBook(bookB)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	store.AddLoan(&data.Loan{
		BookID:       bookA.ID,
		StudentName:  "Ana Silva",
		StudentClass: "9A",
		LoanDate:     today.AddDate(0, 0, -20),
		DueDate:      today.AddDate(0, 0, -6),
	})
	store.AddLoan(&data.Loan{
		BookID:       bookA.ID,
		StudentName:  "Pedro Santos",
		StudentClass: "8B",
		LoanDate:     today.AddDate(0, 0, -2),
		DueDate:      today.AddDate(0, 0, 12),
	})

	code, body := doRequest(t, ts, http.MethodGet, "/v1/dashboard", nil)
	require.Equal(t, http.StatusOK, code)

	var res struct {
		Stats       data.DashboardStats `json:"stats"`
		RecentLoans []data.Loan         `json:"recent_loans"`
	}
	require.NoError(t, json.Unmarshal(body, &res))

	assert.Equal(t, 9, res.Stats.TotalBooks)
	assert.Equal(t, 7, res.Stats.AvailableBooks)
	assert.Equal(t, 2, res.Stats.BorrowedBooks)
	assert.Equal(t, 1, res.Stats.OverdueLoans)
	assert.Len(t, res.RecentLoans, 2)
}

func TestPermissions(t *testing.T) {
	newBook := map[string]any{"title": "Iracema", "author": "José de Alencar", "total_quantity": 1}

	t.Run("unauthenticated requests get 401", func(t *testing.T) {
		app, _ := newTestApplication(t)
		ts := newTestServer(t, app)

		code, _ := doRequest(t, ts, http.MethodGet, "/v1/books", nil)
		assert.Equal(t, http.StatusUnauthorized, code)

		code, _ = doRequest(t, ts, http.MethodPost, "/v1/books", newBook)
		assert.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("regular users can read but not mutate", func(t *testing.T) {
		app, store := newTestApplication(t)
		ts := newTestServer(t, app)
		login(t, ts, "carlos@escola.example")

		code, _ := doRequest(t, ts, http.MethodGet, "/v1/books", nil)
		assert.Equal(t, http.StatusOK, code)

		code, _ = doRequest(t, ts, http.MethodPost, "/v1/books", newBook)
		assert.Equal(t, http.StatusForbidden, code)

		book := &data.Book{Title: "Senhora", Author: "José de Alencar", TotalQuantity: 1, AvailableQuantity: 1}
		store.AddBook(book)
		code, _ = doRequest(t, ts, http.MethodPost, "/v1/loans", map[string]any{
			"book_id":       book.ID.String(),
			"student_name":  "Luana Dias",
			"student_class": "5A",
		})
		assert.Equal(t, http.StatusForbidden, code)
	})

	t.Run("librarians can mutate", func(t *testing.T) {
		app, _ := newTestApplication(t)
		ts := newTestServer(t, app)
		login(t, ts, "beatriz@escola.example")

		code, _ := doRequest(t, ts, http.MethodPost, "/v1/books", newBook)
		assert.Equal(t, http.StatusCreated, code)
	})

	t.Run("logout drops the session", func(t *testing.T) {
		app, _ := newTestApplication(t)
		ts := newTestServer(t, app)
		login(t, ts, "beatriz@escola.example")

		code, _ := doRequest(t, ts, http.MethodPost, "/v1/logout", nil)
		require.Equal(t, http.StatusOK, code)

		code, _ = doRequest(t, ts, http.MethodGet, "/v1/books", nil)
		assert.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("wrong password is rejected", func(t *testing.T) {
		app, _ := newTestApplication(t)
		ts := newTestServer(t, app)

		code, _ := doRequest(t, ts, http.MethodPost, "/v1/login", map[string]string{
			"email":    "beatriz@escola.example",
			"password": "wrong-password",
		})
		assert.Equal(t, http.StatusUnauthorized, code)
	})
}
