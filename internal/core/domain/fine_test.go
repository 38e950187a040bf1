package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccruedFine_OpenLoan(t *testing.T) {
	due := base.AddDate(0, 0, 14)
	l := openLoan(due)

	assert.Zero(t, AccruedFine(l, base, 1000))
	assert.Zero(t, AccruedFine(l, due, 1000))
	assert.Equal(t, int64(3000), AccruedFine(l, due.AddDate(0, 0, 3), 1000))
	// Partial late days round up.
	assert.Equal(t, int64(1000), AccruedFine(l, due.Add(time.Minute), 1000))
}

func TestAccruedFine_ReturnedMeasuresToReturnDate(t *testing.T) {
	due := base.AddDate(0, 0, 14)
	returned := due.AddDate(0, 0, 3)
	l := openLoan(due)
	l.Status = StatusReturned
	l.ReturnedAt = &returned

	// Time after the return changes nothing.
	assert.Equal(t, int64(3000), AccruedFine(l, returned.AddDate(0, 0, 30), 1000))
}

func TestAccruedFine_LostKeepsFrozenAmount(t *testing.T) {
	due := base.AddDate(0, 0, 14)
	l := openLoan(due)
	l.Status = StatusLost
	l.Fine.Amount = 5000

	assert.Equal(t, int64(5000), AccruedFine(l, due.AddDate(0, 0, 90), 1000))
}

func TestAccruedFine_NeverNegative(t *testing.T) {
	due := base.AddDate(0, 0, 14)
	l := openLoan(due)

	assert.Zero(t, AccruedFine(l, base.AddDate(0, 0, -5), 1000))
}
