package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// InitSchema creates the service's tables when absent. The open_book
// generated column is the book id while the loan is open and NULL once
// terminal, so the unique index admits at most one open loan per book
// while keeping the full loan history.
func InitSchema(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS patrons (
			id CHAR(36) PRIMARY KEY,
			username VARCHAR(100) NOT NULL UNIQUE,
			email VARCHAR(255) NOT NULL,
			password_hash VARCHAR(100) NOT NULL,
			active TINYINT(1) NOT NULL DEFAULT 1,
			created_at DATETIME(6) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS books (
			id CHAR(36) PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			author VARCHAR(255) NOT NULL,
			isbn VARCHAR(20) NOT NULL DEFAULT '',
			active TINYINT(1) NOT NULL DEFAULT 1,
			created_at DATETIME(6) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS loans (
			id CHAR(36) PRIMARY KEY,
			patron_id CHAR(36) NOT NULL,
			book_id CHAR(36) NOT NULL,
			borrowed_at DATETIME(6) NOT NULL,
			due_at DATETIME(6) NOT NULL,
			returned_at DATETIME(6) NULL,
			status VARCHAR(16) NOT NULL,
			renewal_count INT NOT NULL DEFAULT 0,
			fine_amount BIGINT NOT NULL DEFAULT 0,
			fine_paid TINYINT(1) NOT NULL DEFAULT 0,
			fine_paid_at DATETIME(6) NULL,
			notes VARCHAR(500) NOT NULL DEFAULT '',
			active TINYINT(1) NOT NULL DEFAULT 1,
			version INT NOT NULL DEFAULT 0,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			open_book CHAR(36) AS (IF(status IN ('active', 'overdue'), book_id, NULL)) STORED,
			UNIQUE KEY ux_loans_open_book (open_book),
			KEY ix_loans_patron_status (patron_id, status),
			KEY ix_loans_book (book_id),
			KEY ix_loans_due (due_at),
			KEY ix_loans_borrowed (borrowed_at)
		)`,
	}

	for _, q := range queries {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
