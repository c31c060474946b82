package main

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"school-library/internal/data"
	"school-library/internal/validator"
)

func (app *application) healthcheck(w http.ResponseWriter, r *http.Request) {
	app.writeJSON(w, http.StatusOK, envelope{
		"status": "available",
		"system_info": map[string]string{
			"environment": app.config.env,
			"version":     version,
		},
	})
}

func (app *application) login(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := app.readJSON(w, r, &input); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	v := validator.New()
	data.ValidateEmail(v, input.Email)
	data.ValidatePasswordPlaintext(v, input.Password)
	if !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	user, err := app.models.Users.GetByEmail(input.Email)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.invalidCredentialsResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	match, err := user.Password.Matches(input.Password)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
	if !match {
		app.invalidCredentialsResponse(w, r)
		return
	}

	if err := app.session.RenewToken(r.Context()); err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
	app.session.Put(r.Context(), "authenticatedUserID", user.ID)

	app.writeJSON(w, http.StatusOK, envelope{"user": user})
}

func (app *application) logout(w http.ResponseWriter, r *http.Request) {
	if err := app.session.RenewToken(r.Context()); err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
	app.session.Remove(r.Context(), "authenticatedUserID")

	app.writeJSON(w, http.StatusOK, envelope{"message": "you have been logged out"})
}

// Book handlers

func (app *application) listBooks(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	query := app.readString(qs, "q", "")
	filter := app.readString(qs, "filter", "all")

	v := validator.New()
	v.Check(validator.PermittedValue(filter, "all", "available", "borrowed"),
		"filter", "must be one of all, available or borrowed")
	if !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	books, err := app.models.Books.Search(query, filter)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	app.writeJSON(w, http.StatusOK, envelope{"books": books})
}

func (app *application) showBook(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.notFoundResponse(w, r)
		return
	}

	book, err := app.models.Books.Get(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	app.writeJSON(w, http.StatusOK, envelope{"book": book})
}

func (app *application) createBook(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Title         string `json:"title"`
		Author        string `json:"author"`
		Publisher     string `json:"publisher"`
		Category      string `json:"category"`
		TotalQuantity int    `json:"total_quantity"`
	}

	if err := app.readJSON(w, r, &input); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	book := &data.Book{
		Title:         input.Title,
		Author:        input.Author,
		Publisher:     input.Publisher,
		Category:      input.Category,
		TotalQuantity: input.TotalQuantity,
	}

	v := validator.New()
	data.ValidateBook(v, book)
	if !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	if err := app.models.Books.Insert(book); err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	app.writeJSON(w, http.StatusCreated, envelope{"book": book})
}

func (app *application) updateBook(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.notFoundResponse(w, r)
		return
	}

	book, err := app.models.Books.Get(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	var input struct {
		Title         *string `json:"title"`
		Author        *string `json:"author"`
		Publisher     *string `json:"publisher"`
		Category      *string `json:"category"`
		TotalQuantity *int    `json:"total_quantity"`
	}

	if err := app.readJSON(w, r, &input); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if input.Title != nil {
		book.Title = *input.Title
	}
	if input.Author != nil {
		book.Author = *input.Author
	}
	if input.Publisher != nil {
		book.Publisher = *input.Publisher
	}
	if input.Category != nil {
		book.Category = *input.Category
	}
	if input.TotalQuantity != nil {
		book.TotalQuantity = *input.TotalQuantity
	}

	v := validator.New()
	data.ValidateBook(v, book)
	if !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	if err := app.models.Books.Update(book); err != nil {
		switch {
		case errors.Is(err, data.ErrEditConflict):
			app.editConflictResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	app.writeJSON(w, http.StatusOK, envelope{"book": book})
}

func (app *application) deleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.notFoundResponse(w, r)
		return
	}

	err = app.models.Books.Delete(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		case errors.Is(err, data.ErrHasOutstandingLoans):
			app.conflictResponse(w, r, "book has copies out on loan and cannot be deleted")
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	app.writeJSON(w, http.StatusOK, envelope{"message": "book successfully deleted"})
}

// Loan handlers

func (app *application) listLoans(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	query := app.readString(qs, "q", "")
	status := app.readString(qs, "status", "all")

	v := validator.New()
	v.Check(validator.PermittedValue(status,
		"all", data.StatusBorrowed, data.StatusReturned, data.StatusOverdue),
		"status", "must be one of all, emprestado, devolvido or atrasado")
	if !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	loans, err := app.models.Loans.History(query, status)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	app.writeJSON(w, http.StatusOK, envelope{"loans": loans})
}

func (app *application) showLoan(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.notFoundResponse(w, r)
		return
	}

	loan, err := app.models.Loans.Get(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	app.writeJSON(w, http.StatusOK, envelope{"loan": loan})
}

func (app *application) createLoan(w http.ResponseWriter, r *http.Request) {
	var input struct {
		BookID       string `json:"book_id"`
		StudentName  string `json:"student_name"`
		StudentClass string `json:"student_class"`
		LoanDays     int    `json:"loan_days"`
	}

	if err := app.readJSON(w, r, &input); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if input.LoanDays == 0 {
		input.LoanDays = data.DefaultLoanDays
	}

	loan := &data.Loan{
		StudentName:  input.StudentName,
		StudentClass: input.StudentClass,
	}
	if user := app.currentUser(r); user != nil {
		loan.CreatedBy = &user.ID
	}

	v := validator.New()
	data.ValidateLoan(v, loan, input.LoanDays)

	bookID, err := uuid.Parse(input.BookID)
	if err != nil {
		v.AddError("book_id", "must be a valid id")
	}
	loan.BookID = bookID

	if !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	err = app.models.Loans.Create(loan, input.LoanDays)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		case errors.Is(err, data.ErrNoAvailableCopies):
			app.conflictResponse(w, r, "no available copies of this book right now")
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	app.writeJSON(w, http.StatusCreated, envelope{"loan": loan})
}

func (app *application) returnLoan(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.notFoundResponse(w, r)
		return
	}

	loan, err := app.models.Loans.Return(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		case errors.Is(err, data.ErrAlreadyReturned):
			app.conflictResponse(w, r, "loan has already been returned")
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	app.writeJSON(w, http.StatusOK, envelope{"loan": loan})
}

func (app *application) dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := app.models.Stats.Dashboard()
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	loans, err := app.models.Loans.History("", "all")
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
	if len(loans) > 5 {
		loans = loans[:5]
	}

	app.writeJSON(w, http.StatusOK, envelope{
		"stats":        stats,
		"recent_loans": loans,
	})
}
