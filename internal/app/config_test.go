package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultProgram() ProgramConfig {
	return ProgramConfig{
		Enabled:            true,
		ReferrerPercentage: "15",
		ReferredPercentage: "10",
		CodePrefix:         "REF",
		MinOrderAmount:     "0",
		MaxUsesPerCode:     1,
		CodeValidityDays:   365,
	}
}

func TestProgramConfig_Settings(t *testing.T) {
	s, err := defaultProgram().Settings()
	require.NoError(t, err)
	assert.Equal(t, "10.00", s.ReferredPercentage.StringFixed(2))
	assert.Equal(t, "REF", s.CodePrefix)

	bad := defaultProgram()
	bad.ReferredPercentage = "ten"
	_, err = bad.Settings()
	require.Error(t, err)

	bad = defaultProgram()
	bad.ReferrerPercentage = "150"
	_, err = bad.Settings()
	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REFERRAL_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/referral")
	t.Setenv("PORT", "9000")
	t.Setenv("REFERRAL_PROGRAM_CODE_PREFIX", "FRIEND")

	cfg, err := loadConfig([]string{})
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/referral", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, "FRIEND", cfg.Program.CodePrefix)
	assert.Equal(t, "@every 1h", cfg.Sweep.Schedule)
}

func TestLoadConfig_RequiresDatabase(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REFERRAL_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "")

	_, err := loadConfig([]string{})
	require.Error(t, err)
}
