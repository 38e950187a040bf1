package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nmoreno/biblioteca/internal/core/domain"
)

// MySQLDirectory serves the catalog and patron gateways from the books and
// patrons tables. Management of those records belongs to the surrounding
// application; the loan core only reads them.
type MySQLDirectory struct {
	db *sql.DB
}

func NewMySQLDirectory(db *sql.DB) *MySQLDirectory {
	return &MySQLDirectory{db: db}
}

func (d *MySQLDirectory) FindBook(ctx context.Context, bookID string) (*domain.Book, error) {
	var b domain.Book
	err := d.db.QueryRowContext(ctx, `
		SELECT id, title, author, isbn, active, created_at
		FROM books WHERE id = ?`, bookID,
	).Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Active, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query book: %w", err)
	}
	return &b, nil
}

func (d *MySQLDirectory) FindPatron(ctx context.Context, patronID string) (*domain.Patron, error) {
	return d.findPatron(ctx, "id", patronID)
}

func (d *MySQLDirectory) FindPatronByUsername(ctx context.Context, username string) (*domain.Patron, error) {
	return d.findPatron(ctx, "username", username)
}

func (d *MySQLDirectory) findPatron(ctx context.Context, column, value string) (*domain.Patron, error) {
	var p domain.Patron
	err := d.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, username, email, password_hash, active, created_at
		FROM patrons WHERE %s = ?`, column), value,
	).Scan(&p.ID, &p.Username, &p.Email, &p.PasswordHash, &p.Active, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query patron: %w", err)
	}
	return &p, nil
}

// UpsertBook and UpsertPatron exist for seeding and tests; the service
// itself never writes these tables.
func (d *MySQLDirectory) UpsertBook(ctx context.Context, b *domain.Book) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO books (id, title, author, isbn, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE title = VALUES(title), author = VALUES(author),
			isbn = VALUES(isbn), active = VALUES(active)`,
		b.ID, b.Title, b.Author, b.ISBN, b.Active, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert book: %w", err)
	}
	return nil
}

func (d *MySQLDirectory) UpsertPatron(ctx context.Context, p *domain.Patron) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO patrons (id, username, email, password_hash, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE email = VALUES(email),
			password_hash = VALUES(password_hash), active = VALUES(active)`,
		p.ID, p.Username, p.Email, p.PasswordHash, p.Active, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert patron: %w", err)
	}
	return nil
}
