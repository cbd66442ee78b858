package scheduler

import (
	"time"

	"github.com/smallbiznis/railzway-alerts/internal/config"
)

// Config controls job cadence and batch sizes. Queue tuning such as cooldown,
// page size and the run interval is read from the alerting config on every
// pass so reloads apply without a restart.
type Config struct {
	// RunInterval is used only when the alerting config carries none.
	RunInterval      time.Duration
	JobTimeout       time.Duration
	OrganizationScan int
	EnabledJobs      []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      30 * time.Second,
		JobTimeout:       30 * time.Second,
		OrganizationScan: 500,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.OrganizationScan <= 0 {
		c.OrganizationScan = defaults.OrganizationScan
	}
	return c
}

func ProvideConfig(appCfg config.Config) Config {
	return Config{
		EnabledJobs: appCfg.SchedulerJobs,
	}.withDefaults()
}
