package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, int64(1000), cfg.FinePerDay)
	assert.Equal(t, 5, cfg.MaxActiveLoans)
	assert.Equal(t, 3, cfg.MaxRenewals)
	assert.Equal(t, 30, cfg.MaxLoanDays)
	assert.Equal(t, 14, cfg.RenewDefaultDays)
	assert.Equal(t, "@daily", cfg.SweepSchedule)
	assert.Empty(t, cfg.SMTPHost)
}

func TestNewConfig_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("FINE_PER_DAY", "250")
	t.Setenv("MAX_ACTIVE_LOANS", "10")
	t.Setenv("SWEEP_SCHEDULE", "")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, int64(250), cfg.FinePerDay)
	assert.Equal(t, 10, cfg.MaxActiveLoans)
	assert.Empty(t, cfg.SweepSchedule)
}

func TestNewConfig_InvalidValues(t *testing.T) {
	t.Setenv("MAX_RENEWALS", "not-a-number")
	_, err := NewConfig()
	assert.Error(t, err)
}

func TestNewConfig_NegativeFine(t *testing.T) {
	t.Setenv("FINE_PER_DAY", "-5")
	_, err := NewConfig()
	assert.Error(t, err)
}

func TestNewConfig_RequiredFields(t *testing.T) {
	t.Setenv("MYSQL_DSN", "")
	_, err := NewConfig()
	assert.Error(t, err)

	t.Setenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/biblioteca")
	t.Setenv("JWT_SECRET", "")
	_, err = NewConfig()
	assert.Error(t, err)
}
