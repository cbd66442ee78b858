package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAlertingConfigDefaultsWhenFileMissing(t *testing.T) {
	holder, err := NewAlertingConfigHolder(Config{AlertingConfigPath: filepath.Join(t.TempDir(), "missing.yml")})
	require.NoError(t, err)
	require.Equal(t, DefaultAlertingConfig(), holder.Get())
}

func TestAlertingConfigReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerting.yml")
	body := []byte("cooldown: 5s\npage_size: 10\nfirst_evaluation: FIRE\nworkers: 2\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	holder, err := NewAlertingConfigHolder(Config{AlertingConfigPath: path})
	require.NoError(t, err)

	cfg := holder.Get()
	require.Equal(t, 5*time.Second, cfg.Cooldown)
	require.Equal(t, 10, cfg.PageSize)
	require.Equal(t, FirstEvaluationFire, cfg.FirstEvaluation)
	require.Equal(t, 2, cfg.Workers)
	require.Equal(t, DefaultAlertingConfig().ClaimTimeout, cfg.ClaimTimeout)
}

func TestValidateAlertingConfig(t *testing.T) {
	cfg := DefaultAlertingConfig()
	require.NoError(t, ValidateAlertingConfig(cfg))

	bad := cfg
	bad.FirstEvaluation = "sometimes"
	require.Error(t, ValidateAlertingConfig(bad))

	bad = cfg
	bad.PageSize = 0
	require.Error(t, ValidateAlertingConfig(bad))

	bad = cfg
	bad.ClaimTimeout = 0
	require.Error(t, ValidateAlertingConfig(bad))
}
