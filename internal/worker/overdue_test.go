package worker

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmoreno/biblioteca/internal/adapter/storage"
	"github.com/nmoreno/biblioteca/internal/core/domain"
	"github.com/nmoreno/biblioteca/internal/core/service"
)

type shiftedClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *shiftedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *shiftedClock) Shift(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

type recordingMailer struct {
	mu      sync.Mutex
	notices []string
}

func (m *recordingMailer) SendOverdueNotice(to, _ string, _ *domain.Loan, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, to)
	return nil
}

func (m *recordingMailer) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.notices...)
}

func TestOverdueSweep(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	dir := storage.NewStaticDirectory()
	dir.AddPatron(&domain.Patron{ID: "patron-1", Username: "ana", Email: "ana@example.com", Active: true})
	dir.AddPatron(&domain.Patron{ID: "patron-2", Username: "luis", Active: true}) // no email
	dir.AddBook(&domain.Book{ID: "book-1", Title: "Rayuela", Active: true})
	dir.AddBook(&domain.Book{ID: "book-2", Title: "Ficciones", Active: true})

	clock := &shiftedClock{}
	svc := service.NewLoanService(
		storage.NewMemoryRepository(), dir, dir, storage.NewMemoryGuard(),
		clock, service.Limits{FinePerDay: 1000}, logger,
	)

	ctx := context.Background()
	due := clock.Now().AddDate(0, 0, 14)
	_, err := svc.Checkout(ctx, "patron-1", "book-1", due, "")
	require.NoError(t, err)
	_, err = svc.Checkout(ctx, "patron-2", "book-2", due, "")
	require.NoError(t, err)

	clock.Shift(15 * 24 * time.Hour)

	mailer := &recordingMailer{}
	sweeper := NewOverdueSweeper(svc, dir, mailer, logger)
	require.NoError(t, sweeper.Start("@daily"))
	defer sweeper.Stop()

	// Start kicks off an immediate sweep; only the patron with an email
	// address gets a notice.
	assert.Eventually(t, func() bool {
		return len(mailer.sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"ana@example.com"}, mailer.sent())

	loans, err := svc.ListOverdue(ctx)
	require.NoError(t, err)
	assert.Len(t, loans, 2)
}
