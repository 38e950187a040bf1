package port

import (
	"context"
	"time"

	"github.com/nmoreno/biblioteca/internal/core/domain"
)

// LoanFilter narrows List results. Zero values mean "no constraint".
type LoanFilter struct {
	PatronID string
	BookID   string
	Status   domain.Status
	// OpenOnly selects loans whose status is active or overdue.
	OpenOnly bool
	// DueBefore selects loans with due_at strictly before the instant.
	DueBefore *time.Time
	// IncludeInactive also returns soft-deactivated loans.
	IncludeInactive bool
}

// Page is offset/limit pagination. A zero Limit means the adapter default.
type Page struct {
	Offset int
	Limit  int
}

// LoanRepository persists loan records.
type LoanRepository interface {
	// Insert persists a new loan after re-checking, atomically with the
	// write, that the patron holds fewer than maxOpenPerPatron open loans.
	// Returns domain.ErrBookAlreadyLoaned when an open loan for the same
	// book exists (unique constraint), domain.ErrPatronLoanLimit when the
	// patron is at the limit, domain.ErrConflict on id collision.
	Insert(ctx context.Context, loan *domain.Loan, maxOpenPerPatron int) error

	// FindByID returns the loan or (nil, nil) when absent.
	FindByID(ctx context.Context, id string) (*domain.Loan, error)

	// FindOpenByBook returns the active/overdue loan holding the book,
	// or (nil, nil) when the book is not out.
	FindOpenByBook(ctx context.Context, bookID string) (*domain.Loan, error)

	// CountOpenByPatron counts the patron's active/overdue loans.
	CountOpenByPatron(ctx context.Context, patronID string) (int, error)

	// Update replaces the loan's mutable fields. Returns
	// domain.ErrStaleWrite when the stored version no longer matches the
	// one the loan was read with; on success the loan's Version is bumped.
	Update(ctx context.Context, loan *domain.Loan) error

	// List returns loans matching the filter, newest borrowed first.
	List(ctx context.Context, filter LoanFilter, page Page) ([]*domain.Loan, error)

	// CountByStatus aggregates visible loans per effective status at the
	// given instant (active loans past due count as overdue).
	CountByStatus(ctx context.Context, now time.Time) (map[domain.Status]int, error)
}
