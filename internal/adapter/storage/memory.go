package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nmoreno/biblioteca/internal/core/domain"
	"github.com/nmoreno/biblioteca/internal/port"
)

// MemoryRepository is an in-process port.LoanRepository with the same
// constraint semantics as the MySQL adapter. Used by tests and local runs
// without a database.
type MemoryRepository struct {
	mu    sync.Mutex
	loans map[string]*domain.Loan
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{loans: make(map[string]*domain.Loan)}
}

func (m *MemoryRepository) Insert(_ context.Context, loan *domain.Loan, maxOpenPerPatron int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.loans[loan.ID]; ok {
		return domain.ErrConflict
	}

	open := 0
	for _, l := range m.loans {
		if !l.Active || !l.Status.Open() {
			continue
		}
		if l.BookID == loan.BookID {
			return domain.ErrBookAlreadyLoaned
		}
		if l.PatronID == loan.PatronID {
			open++
		}
	}
	if open >= maxOpenPerPatron {
		return domain.ErrPatronLoanLimit
	}

	m.loans[loan.ID] = cloneLoan(loan)
	return nil
}

func (m *MemoryRepository) FindByID(_ context.Context, id string) (*domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.loans[id]
	if !ok {
		return nil, nil
	}
	return cloneLoan(l), nil
}

func (m *MemoryRepository) FindOpenByBook(_ context.Context, bookID string) (*domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.loans {
		if l.Active && l.Status.Open() && l.BookID == bookID {
			return cloneLoan(l), nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) CountOpenByPatron(_ context.Context, patronID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, l := range m.loans {
		if l.Active && l.Status.Open() && l.PatronID == patronID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) Update(_ context.Context, loan *domain.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.loans[loan.ID]
	if !ok || stored.Version != loan.Version {
		return domain.ErrStaleWrite
	}
	next := cloneLoan(loan)
	next.Version++
	m.loans[loan.ID] = next
	loan.Version++
	return nil
}

func (m *MemoryRepository) List(_ context.Context, filter port.LoanFilter, page port.Page) ([]*domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Loan
	for _, l := range m.loans {
		if !matches(l, filter) {
			continue
		}
		out = append(out, cloneLoan(l))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BorrowedAt.After(out[j].BorrowedAt)
	})

	limit := page.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if page.Offset >= len(out) {
		return nil, nil
	}
	out = out[page.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) CountByStatus(_ context.Context, now time.Time) (map[domain.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[domain.Status]int)
	for _, l := range m.loans {
		if !l.Active {
			continue
		}
		counts[l.EffectiveStatus(now)]++
	}
	return counts, nil
}

func matches(l *domain.Loan, f port.LoanFilter) bool {
	if !f.IncludeInactive && !l.Active {
		return false
	}
	if f.PatronID != "" && l.PatronID != f.PatronID {
		return false
	}
	if f.BookID != "" && l.BookID != f.BookID {
		return false
	}
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if f.OpenOnly && !l.Status.Open() {
		return false
	}
	if f.DueBefore != nil && !l.DueAt.Before(*f.DueBefore) {
		return false
	}
	return true
}

func cloneLoan(l *domain.Loan) *domain.Loan {
	c := *l
	if l.ReturnedAt != nil {
		t := *l.ReturnedAt
		c.ReturnedAt = &t
	}
	if l.Fine.PaidAt != nil {
		t := *l.Fine.PaidAt
		c.Fine.PaidAt = &t
	}
	return &c
}

// MemoryGuard is an in-process port.CheckoutGuard.
type MemoryGuard struct {
	mu    sync.Mutex
	holds map[string]bool
	slots map[string]int
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		holds: make(map[string]bool),
		slots: make(map[string]int),
	}
}

func (g *MemoryGuard) AcquireBook(_ context.Context, bookID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.holds[bookID] {
		return false, nil
	}
	g.holds[bookID] = true
	return true, nil
}

func (g *MemoryGuard) ReleaseBook(_ context.Context, bookID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.holds, bookID)
	return nil
}

func (g *MemoryGuard) TakePatronSlot(_ context.Context, patronID string, max int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.slots[patronID] >= max {
		return false, nil
	}
	g.slots[patronID]++
	return true, nil
}

func (g *MemoryGuard) ReleasePatronSlot(_ context.Context, patronID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.slots[patronID] > 0 {
		g.slots[patronID]--
	}
	return nil
}

// StaticDirectory is an in-process catalog/patron gateway backed by maps.
type StaticDirectory struct {
	mu      sync.RWMutex
	books   map[string]*domain.Book
	patrons map[string]*domain.Patron
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		books:   make(map[string]*domain.Book),
		patrons: make(map[string]*domain.Patron),
	}
}

func (d *StaticDirectory) AddBook(b *domain.Book) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.books[b.ID] = b
}

func (d *StaticDirectory) AddPatron(p *domain.Patron) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patrons[p.ID] = p
}

func (d *StaticDirectory) FindBook(_ context.Context, bookID string) (*domain.Book, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.books[bookID], nil
}

func (d *StaticDirectory) FindPatron(_ context.Context, patronID string) (*domain.Patron, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.patrons[patronID], nil
}

func (d *StaticDirectory) FindPatronByUsername(_ context.Context, username string) (*domain.Patron, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.patrons {
		if p.Username == username {
			return p, nil
		}
	}
	return nil, nil
}
