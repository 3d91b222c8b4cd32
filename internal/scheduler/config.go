package scheduler

import (
	"time"

	"github.com/smallbiznis/dunning/internal/config"
)

// Config controls worker fan-out, timeouts and the offer window.
type Config struct {
	Workers             int
	DispatchTimeout     time.Duration
	JobTimeout          time.Duration
	RunInterval         time.Duration
	LockTTL             time.Duration
	OfferWindowDays     int
	OfferReminderRepeat bool
}

func DefaultConfig() Config {
	return Config{
		Workers:         4,
		DispatchTimeout: 30 * time.Second,
		JobTimeout:      30 * time.Minute,
		RunInterval:     24 * time.Hour,
		LockTTL:         time.Hour,
		OfferWindowDays: 3,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Workers:             cfg.Dunning.Workers,
		DispatchTimeout:     cfg.Dunning.DispatchTimeout,
		JobTimeout:          cfg.Dunning.JobTimeout,
		RunInterval:         cfg.Dunning.RunInterval,
		LockTTL:             cfg.Dunning.LockTTL,
		OfferWindowDays:     cfg.Dunning.OfferWindowDays,
		OfferReminderRepeat: cfg.Dunning.OfferReminderRepeat,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = defaults.DispatchTimeout
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.OfferWindowDays <= 0 {
		c.OfferWindowDays = defaults.OfferWindowDays
	}
	return c
}
