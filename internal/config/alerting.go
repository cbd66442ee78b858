package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	FirstEvaluationBaseline = "baseline"
	FirstEvaluationFire     = "fire"
)

// AlertingConfig tunes the activity debounce queue, the dispatcher and the evaluators.
type AlertingConfig struct {
	Cooldown          time.Duration `mapstructure:"cooldown"`
	PageSize          int           `mapstructure:"page_size"`
	ClaimTimeout      time.Duration `mapstructure:"claim_timeout"`
	FirstEvaluation   string        `mapstructure:"first_evaluation"`
	MaxRecurringTicks int           `mapstructure:"max_recurring_ticks"`
	Workers           int           `mapstructure:"workers"`
	QueueSize         int           `mapstructure:"queue_size"`
	RunInterval       time.Duration `mapstructure:"run_interval"`
	DispatchLockTTL   time.Duration `mapstructure:"dispatch_lock_ttl"`
	RelayBatchSize    int           `mapstructure:"relay_batch_size"`
}

func DefaultAlertingConfig() AlertingConfig {
	return AlertingConfig{
		Cooldown:          time.Minute,
		PageSize:          100,
		ClaimTimeout:      15 * time.Minute,
		FirstEvaluation:   FirstEvaluationBaseline,
		MaxRecurringTicks: 10000,
		Workers:           8,
		QueueSize:         1024,
		RunInterval:       30 * time.Second,
		DispatchLockTTL:   30 * time.Second,
		RelayBatchSize:    100,
	}
}

// EvaluationTimeout bounds one claimed evaluation. It stays well inside
// ClaimTimeout so the sweep never releases a row that is still being evaluated.
func (c AlertingConfig) EvaluationTimeout() time.Duration {
	return c.ClaimTimeout / 2
}

type AlertingConfigHolder struct {
	current atomic.Value // holds AlertingConfig
}

// NewStaticAlertingConfig returns a holder that never reloads.
func NewStaticAlertingConfig(cfg AlertingConfig) *AlertingConfigHolder {
	holder := &AlertingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// Replace swaps the live config; readers see it on their next Get.
func (h *AlertingConfigHolder) Replace(cfg AlertingConfig) {
	h.current.Store(cfg)
}

func NewAlertingConfigHolder(appCfg Config) (*AlertingConfigHolder, error) {
	v := viper.New()

	if appCfg.AlertingConfigPath != "" {
		v.SetConfigFile(appCfg.AlertingConfigPath)
	} else {
		v.SetConfigName("alerting")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/railzway")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ALERTING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setAlertingDefaults(v)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		fileLoaded = false
	}

	cfg, err := decodeAlertingConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticAlertingConfig(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeAlertingConfig(v)
		if err != nil {
			log.Printf("[alerting-config] invalid config ignored: %v", err)
			return
		}
		holder.Replace(updated)
		log.Printf("[alerting-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *AlertingConfigHolder) Get() AlertingConfig {
	return h.current.Load().(AlertingConfig)
}

func setAlertingDefaults(v *viper.Viper) {
	defaults := DefaultAlertingConfig()
	v.SetDefault("cooldown", defaults.Cooldown)
	v.SetDefault("page_size", defaults.PageSize)
	v.SetDefault("claim_timeout", defaults.ClaimTimeout)
	v.SetDefault("first_evaluation", defaults.FirstEvaluation)
	v.SetDefault("max_recurring_ticks", defaults.MaxRecurringTicks)
	v.SetDefault("workers", defaults.Workers)
	v.SetDefault("queue_size", defaults.QueueSize)
	v.SetDefault("run_interval", defaults.RunInterval)
	v.SetDefault("dispatch_lock_ttl", defaults.DispatchLockTTL)
	v.SetDefault("relay_batch_size", defaults.RelayBatchSize)
}

func decodeAlertingConfig(v *viper.Viper) (AlertingConfig, error) {
	var cfg AlertingConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AlertingConfig{}, err
	}
	cfg.FirstEvaluation = strings.ToLower(strings.TrimSpace(cfg.FirstEvaluation))
	if err := ValidateAlertingConfig(cfg); err != nil {
		return AlertingConfig{}, err
	}
	return cfg, nil
}

func ValidateAlertingConfig(cfg AlertingConfig) error {
	switch {
	case cfg.Cooldown < 0:
		return errors.New("alerting.cooldown cannot be negative")
	case cfg.PageSize <= 0:
		return errors.New("alerting.page_size must be positive")
	case cfg.ClaimTimeout <= 0:
		return errors.New("alerting.claim_timeout must be positive")
	case cfg.MaxRecurringTicks <= 0:
		return errors.New("alerting.max_recurring_ticks must be positive")
	case cfg.Workers <= 0:
		return errors.New("alerting.workers must be positive")
	case cfg.QueueSize <= 0:
		return errors.New("alerting.queue_size must be positive")
	case cfg.RunInterval <= 0:
		return errors.New("alerting.run_interval must be positive")
	case cfg.RelayBatchSize <= 0:
		return errors.New("alerting.relay_batch_size must be positive")
	}
	switch cfg.FirstEvaluation {
	case FirstEvaluationBaseline, FirstEvaluationFire:
	default:
		return fmt.Errorf("alerting.first_evaluation %q is not supported", cfg.FirstEvaluation)
	}
	return nil
}
