package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	goqu "github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	"github.com/go-sql-driver/mysql"

	"github.com/nmoreno/biblioteca/internal/core/domain"
	"github.com/nmoreno/biblioteca/internal/port"
)

const defaultPageLimit = 50

// mysqlErrDuplicate is the MySQL duplicate-entry error number.
const mysqlErrDuplicate = 1062

var dialect = goqu.Dialect("mysql")

var loanColumns = []interface{}{
	"id", "patron_id", "book_id", "borrowed_at", "due_at", "returned_at",
	"status", "renewal_count", "fine_amount", "fine_paid", "fine_paid_at",
	"notes", "active", "version", "created_at", "updated_at",
}

// MySQLAdapter implements port.LoanRepository over MySQL. The one-open-loan-
// per-book invariant is carried by the ux_loans_open_book unique index over
// a generated column that is NULL for terminal loans.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) Insert(ctx context.Context, loan *domain.Loan, maxOpenPerPatron int) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Locks the patron's open loans so two checkouts cannot both pass the
	// limit check.
	var open int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM loans
		WHERE patron_id = ? AND status IN ('active', 'overdue') AND active = 1
		FOR UPDATE`, loan.PatronID,
	).Scan(&open)
	if err != nil {
		return fmt.Errorf("count open loans: %w", err)
	}
	if open >= maxOpenPerPatron {
		return domain.ErrPatronLoanLimit
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO loans (id, patron_id, book_id, borrowed_at, due_at, returned_at,
			status, renewal_count, fine_amount, fine_paid, fine_paid_at,
			notes, active, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID, loan.PatronID, loan.BookID, loan.BorrowedAt, loan.DueAt, loan.ReturnedAt,
		string(loan.Status), loan.RenewalCount, loan.Fine.Amount, loan.Fine.Paid, loan.Fine.PaidAt,
		loan.Notes, loan.Active, loan.Version, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlErrDuplicate {
			if strings.Contains(me.Message, "ux_loans_open_book") {
				return domain.ErrBookAlreadyLoaned
			}
			return domain.ErrConflict
		}
		return fmt.Errorf("insert loan: %w", err)
	}

	return tx.Commit()
}

func (m *MySQLAdapter) FindByID(ctx context.Context, id string) (*domain.Loan, error) {
	return m.findOne(ctx, goqu.Ex{"id": id})
}

func (m *MySQLAdapter) FindOpenByBook(ctx context.Context, bookID string) (*domain.Loan, error) {
	return m.findOne(ctx, goqu.Ex{
		"book_id": bookID,
		"status":  []string{string(domain.StatusActive), string(domain.StatusOverdue)},
		"active":  true,
	})
}

func (m *MySQLAdapter) CountOpenByPatron(ctx context.Context, patronID string) (int, error) {
	var n int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM loans
		WHERE patron_id = ? AND status IN ('active', 'overdue') AND active = 1`,
		patronID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open loans: %w", err)
	}
	return n, nil
}

func (m *MySQLAdapter) Update(ctx context.Context, loan *domain.Loan) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE loans
		SET due_at = ?, returned_at = ?, status = ?, renewal_count = ?,
			fine_amount = ?, fine_paid = ?, fine_paid_at = ?, notes = ?,
			active = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		loan.DueAt, loan.ReturnedAt, string(loan.Status), loan.RenewalCount,
		loan.Fine.Amount, loan.Fine.Paid, loan.Fine.PaidAt, loan.Notes,
		loan.Active, loan.UpdatedAt,
		loan.ID, loan.Version,
	)
	if err != nil {
		return fmt.Errorf("update loan: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrStaleWrite
	}
	loan.Version++
	return nil
}

func (m *MySQLAdapter) List(ctx context.Context, filter port.LoanFilter, page port.Page) ([]*domain.Loan, error) {
	ds := dialect.From("loans").Select(loanColumns...)

	if !filter.IncludeInactive {
		ds = ds.Where(goqu.C("active").IsTrue())
	}
	if filter.PatronID != "" {
		ds = ds.Where(goqu.C("patron_id").Eq(filter.PatronID))
	}
	if filter.BookID != "" {
		ds = ds.Where(goqu.C("book_id").Eq(filter.BookID))
	}
	if filter.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(filter.Status)))
	}
	if filter.OpenOnly {
		ds = ds.Where(goqu.C("status").In(string(domain.StatusActive), string(domain.StatusOverdue)))
	}
	if filter.DueBefore != nil {
		ds = ds.Where(goqu.C("due_at").Lt(*filter.DueBefore))
	}

	limit := page.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	ds = ds.Order(goqu.C("borrowed_at").Desc()).
		Offset(uint(page.Offset)).
		Limit(uint(limit))

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	defer rows.Close()

	var loans []*domain.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}

func (m *MySQLAdapter) CountByStatus(ctx context.Context, now time.Time) (map[domain.Status]int, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT CASE WHEN status = 'active' AND due_at < ? THEN 'overdue' ELSE status END AS st,
			COUNT(*)
		FROM loans
		WHERE active = 1
		GROUP BY st`, now,
	)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[domain.Status(st)] = n
	}
	return counts, rows.Err()
}

func (m *MySQLAdapter) findOne(ctx context.Context, where goqu.Ex) (*domain.Loan, error) {
	query, args, err := dialect.From("loans").Select(loanColumns...).
		Where(where).Limit(1).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	row := m.db.QueryRowContext(ctx, query, args...)
	loan, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return loan, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLoan(row rowScanner) (*domain.Loan, error) {
	var l domain.Loan
	var status string
	var returnedAt, finePaidAt sql.NullTime
	err := row.Scan(
		&l.ID, &l.PatronID, &l.BookID, &l.BorrowedAt, &l.DueAt, &returnedAt,
		&status, &l.RenewalCount, &l.Fine.Amount, &l.Fine.Paid, &finePaidAt,
		&l.Notes, &l.Active, &l.Version, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Status = domain.Status(status)
	if returnedAt.Valid {
		t := returnedAt.Time
		l.ReturnedAt = &t
	}
	if finePaidAt.Valid {
		t := finePaidAt.Time
		l.Fine.PaidAt = &t
	}
	return &l, nil
}
