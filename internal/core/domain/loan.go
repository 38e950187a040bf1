package domain

import (
	"math"
	"strings"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusOverdue  Status = "overdue"
	StatusReturned Status = "returned"
	StatusLost     Status = "lost"
)

// Open reports whether the loan still has the book out.
func (s Status) Open() bool {
	return s == StatusActive || s == StatusOverdue
}

// Terminal reports whether no further lifecycle transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusReturned || s == StatusLost
}

func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(s)) {
	case StatusActive:
		return StatusActive, true
	case StatusOverdue:
		return StatusOverdue, true
	case StatusReturned:
		return StatusReturned, true
	case StatusLost:
		return StatusLost, true
	}
	return "", false
}

// MaxNotesLen bounds patron/staff-entered notes.
const MaxNotesLen = 500

// Fine is the penalty attached to a loan. Amount is in minor currency units.
type Fine struct {
	Amount int64
	Paid   bool
	PaidAt *time.Time
}

// Loan records one book checked out by one patron for a bounded period.
//
// Status holds the last persisted transition; whether a loan is effectively
// overdue is a function of (Status, DueAt, now), see EffectiveStatus.
// Version backs optimistic locking in storage and is not business data.
type Loan struct {
	ID           string
	PatronID     string
	BookID       string
	BorrowedAt   time.Time
	DueAt        time.Time
	ReturnedAt   *time.Time
	Status       Status
	RenewalCount int
	Fine         Fine
	Notes        string
	Active       bool // visibility in default listings, orthogonal to Status
	Version      int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EffectiveStatus applies the lazy active->overdue promotion without
// mutating the loan.
func (l *Loan) EffectiveStatus(now time.Time) Status {
	if l.Status == StatusActive && now.After(l.DueAt) {
		return StatusOverdue
	}
	return l.Status
}

// IsOverdue reports whether the due date has passed without return or loss.
func (l *Loan) IsOverdue(now time.Time) bool {
	return l.EffectiveStatus(now) == StatusOverdue
}

// DaysOverdue returns whole late days, rounding any started day up.
// Zero for terminal loans and loans still within their due date.
func (l *Loan) DaysOverdue(now time.Time) int {
	if !l.IsOverdue(now) && l.Status != StatusOverdue {
		return 0
	}
	if l.Status.Terminal() {
		return 0
	}
	return lateDays(l.DueAt, now)
}

// DaysRemaining returns whole days until the due date, zero once passed
// or once the loan is terminal.
func (l *Loan) DaysRemaining(now time.Time) int {
	if l.Status.Terminal() {
		return 0
	}
	d := int(math.Ceil(l.DueAt.Sub(now).Hours() / 24))
	if d < 0 {
		return 0
	}
	return d
}

// Duration returns the loan's age in days, measured to the return date once
// returned, otherwise to now.
func (l *Loan) Duration(now time.Time) int {
	end := now
	if l.ReturnedAt != nil {
		end = *l.ReturnedAt
	}
	return int(math.Ceil(end.Sub(l.BorrowedAt).Hours() / 24))
}

func lateDays(due, at time.Time) int {
	if !at.After(due) {
		return 0
	}
	return int(math.Ceil(at.Sub(due).Hours() / 24))
}
