package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPassesValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate(false))
}

func TestValidateRejectsThetaBeyondRhoNonNegate(t *testing.T) {
	cfg := Default()
	cfg.Negate = false
	cfg.Rho = 0.1
	cfg.Theta = 0.5
	assert.Error(t, cfg.Validate(true))
	assert.NoError(t, cfg.Validate(false), "inconsistency only matters when integrals are requested")
}

func TestValidateRejectsThetaBelowRhoNegate(t *testing.T) {
	cfg := Default()
	cfg.Negate = true
	cfg.Rho = 0.5
	cfg.Theta = 0.1
	assert.Error(t, cfg.Validate(true))
}

func TestValidateRejectsNonPositiveJobs(t *testing.T) {
	cfg := Default()
	cfg.Jobs = 0
	assert.Error(t, cfg.Validate(false))
}
