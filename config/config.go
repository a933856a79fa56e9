// Package config loads job dispatcher configuration from a file and the
// environment, for hosts that do not construct options in code.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joeycumines/go-jobdispatch"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables, e.g.
// JOBDISPATCH_QUEUE_SIZE.
const EnvPrefix = "JOBDISPATCH"

// Config holds the dispatcher configuration.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	// FailureLogRates maps a window (e.g. "1s", "1m") to the maximum number
	// of task failure log lines per category within it.
	FailureLogRates map[string]int `mapstructure:"failure_log_rates" validate:"dive,keys,duration,endkeys,gt=0"`

	LogSource      string        `mapstructure:"log_source" validate:"required"`
	MaxFences      int           `mapstructure:"max_fences" validate:"gte=2,pow2"`
	QueueSize      int           `mapstructure:"queue_size" validate:"gte=2,pow2"`
	IdleBackoffMin time.Duration `mapstructure:"idle_backoff_min" validate:"gt=0"`
	IdleBackoffMax time.Duration `mapstructure:"idle_backoff_max" validate:"gtefield=IdleBackoffMin"`
	Metrics        bool          `mapstructure:"metrics"`
	LockOSThread   bool          `mapstructure:"lock_os_thread"`
}

// Load loads configuration from the file at path (any format supported by
// Viper, by extension), if path is non-empty, and from environment
// variables. Unset values take the package defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v, after
// applying defaults and enabling environment variables.
func FromViper(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.FailureLogRates == nil {
		// viper would merge a nested default into the file's map
		cfg.FailureLogRates = DefaultFailureLogRates()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults registers the package defaults with v, other than
// failure_log_rates, see DefaultFailureLogRates.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_source", jobdispatch.DefaultLogSource)
	v.SetDefault("max_fences", jobdispatch.MaxFences)
	v.SetDefault("queue_size", jobdispatch.QueueSize)
	v.SetDefault("idle_backoff_min", jobdispatch.DefaultIdleBackoffMin)
	v.SetDefault("idle_backoff_max", jobdispatch.DefaultIdleBackoffMax)
	v.SetDefault("metrics", false)
	v.SetDefault("lock_os_thread", true)
}

// DefaultFailureLogRates returns jobdispatch.DefaultFailureLogRates, keyed
// by duration string.
func DefaultFailureLogRates() map[string]int {
	rates := make(map[string]int)
	for window, limit := range jobdispatch.DefaultFailureLogRates() {
		rates[window.String()] = limit
	}
	return rates
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	_ = v.RegisterValidation("pow2", func(fl validator.FieldLevel) bool {
		n := fl.Field().Int()
		return n > 0 && n&(n-1) == 0
	})

	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	})

	return v
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("config: invalid: %w", verrs)
		}
		return err
	}
	return nil
}

// Options converts the configuration to dispatcher options.
func (c *Config) Options() ([]jobdispatch.Option, error) {
	rates := make(map[time.Duration]int, len(c.FailureLogRates))
	for window, limit := range c.FailureLogRates {
		d, err := time.ParseDuration(window)
		if err != nil {
			return nil, fmt.Errorf("config: failure_log_rates: %w", err)
		}
		rates[d] = limit
	}
	return []jobdispatch.Option{
		jobdispatch.WithLogSource(c.LogSource),
		jobdispatch.WithMaxFences(c.MaxFences),
		jobdispatch.WithQueueSize(c.QueueSize),
		jobdispatch.WithIdleBackoff(c.IdleBackoffMin, c.IdleBackoffMax),
		jobdispatch.WithMetrics(c.Metrics),
		jobdispatch.WithLockOSThread(c.LockOSThread),
		jobdispatch.WithFailureLogRates(rates),
	}, nil
}
