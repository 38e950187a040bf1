// Package notify sends loan reminder emails over SMTP.
package notify

import (
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"

	"github.com/nmoreno/biblioteca/internal/core/domain"
)

// SMTPConfig holds the outgoing mail settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPMailer sends overdue notices.
type SMTPMailer struct {
	cfg SMTPConfig
	log *logrus.Logger
}

func NewSMTPMailer(cfg SMTPConfig, log *logrus.Logger) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, log: log}
}

// SendOverdueNotice mails the patron that a loan is past due, with the
// fine accrued so far.
func (s *SMTPMailer) SendOverdueNotice(to, username string, loan *domain.Loan, fine int64) error {
	e := email.NewEmail()
	e.From = s.cfg.From
	e.To = []string{to}
	e.Subject = "Overdue book reminder"
	e.Text = []byte(fmt.Sprintf(
		"Dear %s,\n\n"+
			"The book you borrowed on %s was due back on %s.\n"+
			"The fine accrued so far is %d. It keeps growing each day until the book is returned.\n"+
			"\nBest regards,\nThe library",
		username,
		loan.BorrowedAt.Format("2006-01-02"),
		loan.DueAt.Format("2006-01-02"),
		fine,
	))

	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	if err := e.Send(addr, auth); err != nil {
		s.log.WithError(err).WithField("to", to).Error("failed to send overdue notice")
		return fmt.Errorf("send overdue notice: %w", err)
	}

	s.log.WithField("to", to).Info("overdue notice sent")
	return nil
}
