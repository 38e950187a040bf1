package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmoreno/biblioteca/internal/core/domain"
	"github.com/nmoreno/biblioteca/internal/port"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/biblioteca?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	ctx := context.Background()
	if err := InitSchema(ctx, db); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM loans"); err != nil {
		t.Fatalf("clean loans: %v", err)
	}
	return db
}

func newDBLoan(patronID, bookID string, due time.Time) *domain.Loan {
	now := due.AddDate(0, 0, -14)
	return &domain.Loan{
		ID:         uuid.NewString(),
		PatronID:   patronID,
		BookID:     bookID,
		BorrowedAt: now,
		DueAt:      due,
		Status:     domain.StatusActive,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestMySQL_InsertAndFind(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)

	due := time.Now().UTC().Truncate(time.Second).AddDate(0, 0, 14)
	loan := newDBLoan("patron-a", "book-a", due)
	loan.Notes = "first edition"
	require.NoError(t, adapter.Insert(ctx, loan, 5))

	got, err := adapter.FindByID(ctx, loan.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, loan.PatronID, got.PatronID)
	assert.Equal(t, loan.BookID, got.BookID)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, "first edition", got.Notes)
	assert.Nil(t, got.ReturnedAt)
	assert.True(t, got.DueAt.Equal(due))

	open, err := adapter.FindOpenByBook(ctx, "book-a")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, loan.ID, open.ID)

	missing, err := adapter.FindByID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMySQL_OpenBookUniqueness(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	due := time.Now().UTC().AddDate(0, 0, 14)

	first := newDBLoan("patron-a", "book-dup", due)
	require.NoError(t, adapter.Insert(ctx, first, 5))

	second := newDBLoan("patron-b", "book-dup", due)
	err := adapter.Insert(ctx, second, 5)
	assert.ErrorIs(t, err, domain.ErrBookAlreadyLoaned)

	// Closing the first loan frees the book for a new one.
	now := time.Now().UTC()
	first.Status = domain.StatusReturned
	first.ReturnedAt = &now
	first.UpdatedAt = now
	require.NoError(t, adapter.Update(ctx, first))

	require.NoError(t, adapter.Insert(ctx, newDBLoan("patron-b", "book-dup", due), 5))
}

func TestMySQL_PatronLimit(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	due := time.Now().UTC().AddDate(0, 0, 14)

	for i := 0; i < 5; i++ {
		loan := newDBLoan("patron-lim", fmt.Sprintf("book-lim-%d", i), due)
		require.NoError(t, adapter.Insert(ctx, loan, 5))
	}

	n, err := adapter.CountOpenByPatron(ctx, "patron-lim")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	err = adapter.Insert(ctx, newDBLoan("patron-lim", "book-lim-extra", due), 5)
	assert.ErrorIs(t, err, domain.ErrPatronLoanLimit)
}

func TestMySQL_UpdateStaleVersion(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	due := time.Now().UTC().AddDate(0, 0, 14)

	loan := newDBLoan("patron-a", "book-v", due)
	require.NoError(t, adapter.Insert(ctx, loan, 5))

	fresh, err := adapter.FindByID(ctx, loan.ID)
	require.NoError(t, err)

	fresh.RenewalCount = 1
	fresh.UpdatedAt = time.Now().UTC()
	require.NoError(t, adapter.Update(ctx, fresh))
	assert.Equal(t, 1, fresh.Version)

	// A writer still holding the old version loses.
	stale := *loan
	stale.RenewalCount = 2
	err = adapter.Update(ctx, &stale)
	assert.ErrorIs(t, err, domain.ErrStaleWrite)
}

func TestMySQL_ListFilters(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	now := time.Now().UTC()

	past := newDBLoan("patron-a", "book-1", now.AddDate(0, 0, -1))
	require.NoError(t, adapter.Insert(ctx, past, 5))

	future := newDBLoan("patron-a", "book-2", now.AddDate(0, 0, 14))
	require.NoError(t, adapter.Insert(ctx, future, 5))

	closed := newDBLoan("patron-b", "book-3", now.AddDate(0, 0, 14))
	require.NoError(t, adapter.Insert(ctx, closed, 5))
	closed.Status = domain.StatusReturned
	closed.ReturnedAt = &now
	closed.UpdatedAt = now
	require.NoError(t, adapter.Update(ctx, closed))

	byPatron, err := adapter.List(ctx, port.LoanFilter{PatronID: "patron-a"}, port.Page{})
	require.NoError(t, err)
	assert.Len(t, byPatron, 2)

	dueBefore, err := adapter.List(ctx, port.LoanFilter{OpenOnly: true, DueBefore: &now}, port.Page{})
	require.NoError(t, err)
	require.Len(t, dueBefore, 1)
	assert.Equal(t, past.ID, dueBefore[0].ID)

	returned, err := adapter.List(ctx, port.LoanFilter{Status: domain.StatusReturned}, port.Page{})
	require.NoError(t, err)
	require.Len(t, returned, 1)
	assert.Equal(t, closed.ID, returned[0].ID)

	paged, err := adapter.List(ctx, port.LoanFilter{}, port.Page{Offset: 0, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, paged, 2)
}

func TestMySQL_CountByStatus(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	now := time.Now().UTC()

	// Active but past due, so it counts as overdue.
	late := newDBLoan("patron-a", "book-late", now.AddDate(0, 0, -2))
	require.NoError(t, adapter.Insert(ctx, late, 5))

	current := newDBLoan("patron-a", "book-ok", now.AddDate(0, 0, 14))
	require.NoError(t, adapter.Insert(ctx, current, 5))

	counts, err := adapter.CountByStatus(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.StatusOverdue])
	assert.Equal(t, 1, counts[domain.StatusActive])
}
