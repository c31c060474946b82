package main

import (
	"net/http"

	"github.com/0xrinful/rush"
)

func (app *application) routes() http.Handler {
	r := rush.New()
	r.NotFound = http.HandlerFunc(app.notFoundResponse)

	r.Get("/v1/healthcheck", app.healthcheck)

	r.Post("/v1/login", app.login)
	r.Post("/v1/logout", app.logout)

	r.Handle("/v1/books", app.requireAuthentication(http.HandlerFunc(app.listBooks)), "GET")
	r.Handle("/v1/books/{id}", app.requireAuthentication(http.HandlerFunc(app.showBook)), "GET")
	r.Handle("/v1/books", app.requireLibrarian(http.HandlerFunc(app.createBook)), "POST")
	r.Handle("/v1/books/{id}", app.requireLibrarian(http.HandlerFunc(app.updateBook)), "PATCH")
	r.Handle("/v1/books/{id}", app.requireLibrarian(http.HandlerFunc(app.deleteBook)), "DELETE")

	r.Handle("/v1/loans", app.requireAuthentication(http.HandlerFunc(app.listLoans)), "GET")
	r.Handle("/v1/loans/{id}", app.requireAuthentication(http.HandlerFunc(app.showLoan)), "GET")
	r.Handle("/v1/loans", app.requireLibrarian(http.HandlerFunc(app.createLoan)), "POST")
	r.Handle("/v1/loans/{id}/return", app.requireLibrarian(http.HandlerFunc(app.returnLoan)), "PUT")

	r.Handle("/v1/dashboard", app.requireAuthentication(http.HandlerFunc(app.dashboard)), "GET")

	return r
}
