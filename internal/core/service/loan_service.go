package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nmoreno/biblioteca/internal/core/domain"
	"github.com/nmoreno/biblioteca/internal/port"
)

// Limits are the business knobs of the loan lifecycle. FinePerDay has no
// built-in default and must come from configuration.
type Limits struct {
	FinePerDay       int64
	MaxOpenLoans     int
	MaxRenewals      int
	MaxLoanDays      int
	RenewDefaultDays int
}

const (
	defaultMaxOpenLoans     = 5
	defaultMaxRenewals      = 3
	defaultMaxLoanDays      = 30
	defaultRenewDefaultDays = 14
)

func (l Limits) withDefaults() Limits {
	if l.MaxOpenLoans <= 0 {
		l.MaxOpenLoans = defaultMaxOpenLoans
	}
	if l.MaxRenewals <= 0 {
		l.MaxRenewals = defaultMaxRenewals
	}
	if l.MaxLoanDays <= 0 {
		l.MaxLoanDays = defaultMaxLoanDays
	}
	if l.RenewDefaultDays <= 0 {
		l.RenewDefaultDays = defaultRenewDefaultDays
	}
	return l
}

// LoanService is the loan lifecycle manager. It owns every transition of a
// loan record and the two global invariants: one open loan per book, at
// most MaxOpenLoans open loans per patron.
type LoanService struct {
	repo    port.LoanRepository
	catalog port.CatalogGateway
	patrons port.PatronGateway
	guard   port.CheckoutGuard
	clock   port.Clock
	limits  Limits
	log     *logrus.Logger
}

func NewLoanService(
	repo port.LoanRepository,
	catalog port.CatalogGateway,
	patrons port.PatronGateway,
	guard port.CheckoutGuard,
	clock port.Clock,
	limits Limits,
	log *logrus.Logger,
) *LoanService {
	return &LoanService{
		repo:    repo,
		catalog: catalog,
		patrons: patrons,
		guard:   guard,
		clock:   clock,
		limits:  limits.withDefaults(),
		log:     log,
	}
}

// Limits returns the effective business knobs.
func (s *LoanService) Limits() Limits { return s.limits }

// Checkout creates a new loan. Preconditions, first failure wins: patron
// exists and is active, book exists and is active, the book is not out,
// the patron is under the open-loan limit, the due date is in the future
// and at most MaxLoanDays ahead.
//
// The guard serializes racing checkouts per book and per patron; the
// repository's own constraints stay authoritative, so a guard miss never
// lets two open loans of one book through.
func (s *LoanService) Checkout(ctx context.Context, patronID, bookID string, dueAt time.Time, notes string) (*domain.Loan, error) {
	notes, err := normalizeNotes(notes)
	if err != nil {
		return nil, err
	}

	patron, err := s.patrons.FindPatron(ctx, patronID)
	if err != nil {
		return nil, domain.Transient("patrons.find", err)
	}
	if patron == nil {
		return nil, domain.ErrPatronNotFound
	}
	if !patron.Active {
		return nil, domain.ErrPatronInactive
	}

	book, err := s.catalog.FindBook(ctx, bookID)
	if err != nil {
		return nil, domain.Transient("catalog.find", err)
	}
	if book == nil {
		return nil, domain.ErrBookNotFound
	}
	if !book.Active {
		return nil, domain.ErrBookUnavailable
	}

	ownBookHold, err := s.reserveBook(ctx, bookID)
	if err != nil {
		return nil, err
	}

	ownSlot, err := s.reserveSlot(ctx, patronID)
	if err != nil {
		if ownBookHold {
			s.releaseBook(ctx, bookID)
		}
		return nil, err
	}

	now := s.clock.Now()
	if !dueAt.After(now) || dueAt.After(now.AddDate(0, 0, s.limits.MaxLoanDays)) {
		s.rollbackReservations(ctx, bookID, patronID, ownBookHold, ownSlot)
		return nil, domain.ErrInvalidDueDate
	}

	loan := &domain.Loan{
		ID:         uuid.NewString(),
		PatronID:   patronID,
		BookID:     bookID,
		BorrowedAt: now,
		DueAt:      dueAt,
		Status:     domain.StatusActive,
		Notes:      notes,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.Insert(ctx, loan, s.limits.MaxOpenLoans); err != nil {
		switch {
		case errors.Is(err, domain.ErrBookAlreadyLoaned):
			// The book really is out; the hold now mirrors storage and is
			// released by that loan's return. Only the slot goes back.
			if ownSlot {
				s.releaseSlot(ctx, patronID)
			}
			return nil, domain.ErrBookAlreadyLoaned
		case errors.Is(err, domain.ErrPatronLoanLimit):
			s.rollbackReservations(ctx, bookID, patronID, ownBookHold, ownSlot)
			return nil, domain.ErrPatronLoanLimit
		default:
			s.rollbackReservations(ctx, bookID, patronID, ownBookHold, ownSlot)
			return nil, domain.Transient("loans.insert", err)
		}
	}

	// A reservation skipped because the guard lagged storage is re-taken
	// here so guard state converges on the committed loan.
	if !ownBookHold {
		if _, err := s.guard.AcquireBook(ctx, bookID); err != nil {
			s.log.WithError(err).Warn("checkout: guard resync failed")
		}
	}
	if !ownSlot {
		if _, err := s.guard.TakePatronSlot(ctx, patronID, s.limits.MaxOpenLoans); err != nil {
			s.log.WithError(err).Warn("checkout: guard resync failed")
		}
	}

	s.log.WithFields(logrus.Fields{
		"loan_id":   loan.ID,
		"patron_id": patronID,
		"book_id":   bookID,
		"due_at":    dueAt,
	}).Info("loan created")

	return loan, nil
}

// reserveBook takes the per-book hold. When the guard says the book is
// held, storage breaks the tie: only a real open loan rejects the
// checkout, a leftover hold does not.
func (s *LoanService) reserveBook(ctx context.Context, bookID string) (bool, error) {
	ok, err := s.guard.AcquireBook(ctx, bookID)
	if err != nil {
		return false, domain.Transient("guard.acquire_book", err)
	}
	if ok {
		return true, nil
	}
	open, err := s.repo.FindOpenByBook(ctx, bookID)
	if err != nil {
		return false, domain.Transient("loans.find_open", err)
	}
	if open != nil {
		return false, domain.ErrBookAlreadyLoaned
	}
	return false, nil
}

// reserveSlot takes one patron slot, with the same storage tie-break as
// reserveBook.
func (s *LoanService) reserveSlot(ctx context.Context, patronID string) (bool, error) {
	ok, err := s.guard.TakePatronSlot(ctx, patronID, s.limits.MaxOpenLoans)
	if err != nil {
		return false, domain.Transient("guard.take_slot", err)
	}
	if ok {
		return true, nil
	}
	n, err := s.repo.CountOpenByPatron(ctx, patronID)
	if err != nil {
		return false, domain.Transient("loans.count_open", err)
	}
	if n >= s.limits.MaxOpenLoans {
		return false, domain.ErrPatronLoanLimit
	}
	return false, nil
}

func (s *LoanService) rollbackReservations(ctx context.Context, bookID, patronID string, ownBookHold, ownSlot bool) {
	if ownBookHold {
		s.releaseBook(ctx, bookID)
	}
	if ownSlot {
		s.releaseSlot(ctx, patronID)
	}
}

func (s *LoanService) releaseBook(ctx context.Context, bookID string) {
	if err := s.guard.ReleaseBook(ctx, bookID); err != nil {
		s.log.WithError(err).WithField("book_id", bookID).Warn("guard: book release failed")
	}
}

func (s *LoanService) releaseSlot(ctx context.Context, patronID string) {
	if err := s.guard.ReleasePatronSlot(ctx, patronID); err != nil {
		s.log.WithError(err).WithField("patron_id", patronID).Warn("guard: slot release failed")
	}
}

// Return closes a loan, computing the final fine against the current
// instant. Idempotence: a second return fails with ErrAlreadyReturned and
// leaves the first one's effect intact.
func (s *LoanService) Return(ctx context.Context, loanID, notes string) (*domain.Loan, error) {
	notes, err := normalizeNotes(notes)
	if err != nil {
		return nil, err
	}
	loan, err := s.mutate(ctx, loanID, func(l *domain.Loan, now time.Time) error {
		switch l.EffectiveStatus(now) {
		case domain.StatusReturned:
			return domain.ErrAlreadyReturned
		case domain.StatusLost:
			return domain.ErrAlreadyLost
		}
		l.Fine.Amount = domain.AccruedFine(l, now, s.limits.FinePerDay)
		returnedAt := now
		l.ReturnedAt = &returnedAt
		l.Status = domain.StatusReturned
		if notes != "" {
			l.Notes = notes
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.releaseBook(ctx, loan.BookID)
	s.releaseSlot(ctx, loan.PatronID)

	s.log.WithFields(logrus.Fields{
		"loan_id": loan.ID,
		"fine":    loan.Fine.Amount,
	}).Info("loan returned")
	return loan, nil
}

// Renew pushes the due date out by additionalDays (RenewDefaultDays when
// zero, at most MaxLoanDays). Only effectively active loans renew; an
// overdue loan has to come back first.
func (s *LoanService) Renew(ctx context.Context, loanID string, additionalDays int) (*domain.Loan, error) {
	days := additionalDays
	if days <= 0 {
		days = s.limits.RenewDefaultDays
	}
	if days > s.limits.MaxLoanDays {
		return nil, domain.ErrInvalidDueDate
	}

	loan, err := s.mutate(ctx, loanID, func(l *domain.Loan, now time.Time) error {
		if l.RenewalCount >= s.limits.MaxRenewals {
			return domain.ErrRenewalLimit
		}
		if l.EffectiveStatus(now) != domain.StatusActive {
			return domain.ErrLoanNotActive
		}
		l.DueAt = l.DueAt.AddDate(0, 0, days)
		l.RenewalCount++
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"loan_id":  loan.ID,
		"due_at":   loan.DueAt,
		"renewals": loan.RenewalCount,
	}).Info("loan renewed")
	return loan, nil
}

// MarkLost moves a loan to its lost terminal state and freezes the fine
// as of now.
func (s *LoanService) MarkLost(ctx context.Context, loanID, notes string) (*domain.Loan, error) {
	notes, err := normalizeNotes(notes)
	if err != nil {
		return nil, err
	}
	loan, err := s.mutate(ctx, loanID, func(l *domain.Loan, now time.Time) error {
		switch l.Status {
		case domain.StatusReturned:
			return domain.ErrAlreadyReturned
		case domain.StatusLost:
			return domain.ErrAlreadyLost
		}
		l.Fine.Amount = domain.AccruedFine(l, now, s.limits.FinePerDay)
		l.Status = domain.StatusLost
		if notes != "" {
			l.Notes = notes
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.releaseBook(ctx, loan.BookID)
	s.releaseSlot(ctx, loan.PatronID)

	s.log.WithField("loan_id", loan.ID).Info("loan marked lost")
	return loan, nil
}

// PayFine records payment of a terminal loan's fine. Payment processing
// itself happens elsewhere; this only flips the recorded flag, once.
func (s *LoanService) PayFine(ctx context.Context, loanID string) (*domain.Loan, error) {
	return s.mutate(ctx, loanID, func(l *domain.Loan, now time.Time) error {
		if !l.Status.Terminal() || l.Fine.Amount == 0 {
			return domain.ErrNoFineDue
		}
		if l.Fine.Paid {
			return domain.ErrFineAlreadyPaid
		}
		l.Fine.Paid = true
		paidAt := now
		l.Fine.PaidAt = &paidAt
		return nil
	})
}

// Get returns a loan by id, promoting it to overdue on the way out when
// its due date has passed.
func (s *LoanService) Get(ctx context.Context, loanID string) (*domain.Loan, error) {
	loan, err := s.loadLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	s.promote(ctx, loan)
	return loan, nil
}

// ListOverdue returns every visible open loan past its due date.
func (s *LoanService) ListOverdue(ctx context.Context) ([]*domain.Loan, error) {
	now := s.clock.Now()
	loans, err := s.repo.List(ctx, port.LoanFilter{OpenOnly: true, DueBefore: &now}, port.Page{})
	if err != nil {
		return nil, domain.Transient("loans.list", err)
	}
	for _, l := range loans {
		s.promote(ctx, l)
	}
	return loans, nil
}

// ListByPatron returns the patron's visible loans, optionally narrowed to
// one status, newest first.
func (s *LoanService) ListByPatron(ctx context.Context, patronID string, status domain.Status) ([]*domain.Loan, error) {
	loans, err := s.repo.List(ctx, port.LoanFilter{PatronID: patronID, Status: status}, port.Page{})
	if err != nil {
		return nil, domain.Transient("loans.list", err)
	}
	for _, l := range loans {
		s.promote(ctx, l)
	}
	return loans, nil
}

// List returns loans matching an arbitrary filter with pagination.
func (s *LoanService) List(ctx context.Context, filter port.LoanFilter, page port.Page) ([]*domain.Loan, error) {
	loans, err := s.repo.List(ctx, filter, page)
	if err != nil {
		return nil, domain.Transient("loans.list", err)
	}
	for _, l := range loans {
		s.promote(ctx, l)
	}
	return loans, nil
}

// Stats aggregates visible loan counts by effective status.
type Stats struct {
	Total    int
	Overdue  int
	ByStatus map[domain.Status]int
}

func (s *LoanService) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.repo.CountByStatus(ctx, s.clock.Now())
	if err != nil {
		return nil, domain.Transient("loans.count", err)
	}
	st := &Stats{ByStatus: counts, Overdue: counts[domain.StatusOverdue]}
	for _, n := range counts {
		st.Total += n
	}
	return st, nil
}

// FineFor computes the fine a loan has accrued at this instant without
// touching it. Used by reporting.
func (s *LoanService) FineFor(loan *domain.Loan) int64 {
	return domain.AccruedFine(loan, s.clock.Now(), s.limits.FinePerDay)
}

// promote persists the lazy active->overdue transition, best effort: a
// lost race means someone else already moved the loan on, and the next
// access tries again.
func (s *LoanService) promote(ctx context.Context, loan *domain.Loan) {
	now := s.clock.Now()
	if loan.Status != domain.StatusActive || !now.After(loan.DueAt) {
		return
	}
	loan.Status = domain.StatusOverdue
	loan.UpdatedAt = now
	if err := s.repo.Update(ctx, loan); err != nil {
		s.log.WithError(err).WithField("loan_id", loan.ID).Debug("overdue promotion deferred")
	}
}

// mutate runs a read-validate-apply-update cycle under optimistic
// concurrency, retrying once on a stale write before surfacing it.
func (s *LoanService) mutate(ctx context.Context, loanID string, apply func(l *domain.Loan, now time.Time) error) (*domain.Loan, error) {
	for attempt := 0; ; attempt++ {
		loan, err := s.loadLoan(ctx, loanID)
		if err != nil {
			return nil, err
		}
		now := s.clock.Now()
		if err := apply(loan, now); err != nil {
			return nil, err
		}
		loan.UpdatedAt = now

		err = s.repo.Update(ctx, loan)
		if err == nil {
			return loan, nil
		}
		if errors.Is(err, domain.ErrStaleWrite) {
			if attempt == 0 {
				continue
			}
			return nil, domain.ErrStaleWrite
		}
		return nil, domain.Transient("loans.update", err)
	}
}

func (s *LoanService) loadLoan(ctx context.Context, loanID string) (*domain.Loan, error) {
	loan, err := s.repo.FindByID(ctx, loanID)
	if err != nil {
		return nil, domain.Transient("loans.find", err)
	}
	if loan == nil {
		return nil, domain.ErrLoanNotFound
	}
	return loan, nil
}

func normalizeNotes(notes string) (string, error) {
	notes = strings.TrimSpace(notes)
	if len(notes) > domain.MaxNotesLen {
		return "", domain.ErrNotesTooLong
	}
	return notes, nil
}
