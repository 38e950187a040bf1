// Package worker runs the scheduled overdue sweep. The sweep is an
// optimization: overdue promotion also happens lazily on every read, so
// nothing here is required for correctness.
package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/nmoreno/biblioteca/internal/core/domain"
	"github.com/nmoreno/biblioteca/internal/core/service"
	"github.com/nmoreno/biblioteca/internal/port"
)

// Mailer is the slice of the notifier the sweep needs.
type Mailer interface {
	SendOverdueNotice(to, username string, loan *domain.Loan, fine int64) error
}

// OverdueSweeper periodically promotes late loans to overdue and mails
// their patrons a reminder.
type OverdueSweeper struct {
	loans   *service.LoanService
	patrons port.PatronGateway
	mailer  Mailer
	log     *logrus.Logger
	cron    *cron.Cron
}

func NewOverdueSweeper(loans *service.LoanService, patrons port.PatronGateway, mailer Mailer, log *logrus.Logger) *OverdueSweeper {
	return &OverdueSweeper{
		loans:   loans,
		patrons: patrons,
		mailer:  mailer,
		log:     log,
		cron:    cron.New(),
	}
}

// Start schedules the sweep with a cron expression (e.g. "@daily") and
// runs one sweep immediately.
func (s *OverdueSweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	go s.sweep()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *OverdueSweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *OverdueSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	loans, err := s.loans.ListOverdue(ctx)
	if err != nil {
		s.log.WithError(err).Error("overdue sweep failed")
		return
	}
	s.log.WithField("overdue", len(loans)).Info("overdue sweep finished")

	if s.mailer == nil {
		return
	}
	for _, loan := range loans {
		patron, err := s.patrons.FindPatron(ctx, loan.PatronID)
		if err != nil || patron == nil || patron.Email == "" {
			continue
		}
		fine := s.loans.FineFor(loan)
		if err := s.mailer.SendOverdueNotice(patron.Email, patron.Username, loan, fine); err != nil {
			s.log.WithError(err).WithField("loan_id", loan.ID).Warn("overdue notice not sent")
		}
	}
}
