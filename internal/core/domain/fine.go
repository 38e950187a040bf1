package domain

import "time"

// AccruedFine computes the fine owed on a loan at the given instant, at
// ratePerDay minor units per started late day.
//
// For open loans the fine accrues against now. A returned loan is measured
// to its return date; a lost loan keeps the amount frozen when it was
// marked lost. Deterministic given (loan, now), never negative.
func AccruedFine(l *Loan, now time.Time, ratePerDay int64) int64 {
	switch l.Status {
	case StatusReturned:
		if l.ReturnedAt == nil {
			return l.Fine.Amount
		}
		return int64(lateDays(l.DueAt, *l.ReturnedAt)) * ratePerDay
	case StatusLost:
		return l.Fine.Amount
	default:
		return int64(lateDays(l.DueAt, now)) * ratePerDay
	}
}
