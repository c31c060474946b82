package data

import (
	"context"
	"database/sql"
	"time"
)

type DashboardStats struct {
	TotalBooks     int `json:"total_books"`
	AvailableBooks int `json:"available_books"`
	BorrowedBooks  int `json:"borrowed_books"`
	OverdueLoans   int `json:"overdue_loans"`
}

type StatsModel struct {
	DB *sql.DB
}

// Dashboard aggregates copy counts across the whole catalog. Totals are
// counted in copies, not titles, and borrowed is the difference between the
// two counters.
func (m StatsModel) Dashboard() (*DashboardStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var stats DashboardStats

	err := m.DB.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_quantity), 0), COALESCE(SUM(available_quantity), 0)
		FROM books`).Scan(&stats.TotalBooks, &stats.AvailableBooks)
	if err != nil {
		return nil, err
	}

	stats.BorrowedBooks = stats.TotalBooks - stats.AvailableBooks

	err = m.DB.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM loans
		WHERE actual_return_date IS NULL AND expected_return_date < CURRENT_DATE`).
		Scan(&stats.OverdueLoans)
	if err != nil {
		return nil, err
	}

	return &stats, nil
}
