package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ReminderDefaults is the deployment-wide reminder policy used when a tenant
// leaves a value unset.
type ReminderDefaults struct {
	Thresholds         ReminderThresholds `mapstructure:"thresholds"`
	Fees               ReminderFees       `mapstructure:"fees"`
	AnnualInterestRate string             `mapstructure:"annualInterestRate"`
}

// ReminderThresholds are days overdue required to enter each level.
type ReminderThresholds struct {
	Friendly    int `mapstructure:"friendly"`
	Mahnung1    int `mapstructure:"mahnung1"`
	Mahnung2    int `mapstructure:"mahnung2"`
	Mahnung3    int `mapstructure:"mahnung3"`
	Collections int `mapstructure:"collections"`
}

// ReminderFees are decimal strings in the reference currency.
type ReminderFees struct {
	Mahnung1    string `mapstructure:"mahnung1"`
	Mahnung2    string `mapstructure:"mahnung2"`
	Mahnung3    string `mapstructure:"mahnung3"`
	Collections string `mapstructure:"collections"`
}

func DefaultReminderDefaults() ReminderDefaults {
	return ReminderDefaults{
		Thresholds: ReminderThresholds{
			Friendly:    7,
			Mahnung1:    14,
			Mahnung2:    21,
			Mahnung3:    30,
			Collections: 45,
		},
		Fees: ReminderFees{
			Mahnung1:    "5.00",
			Mahnung2:    "10.00",
			Mahnung3:    "15.00",
			Collections: "50.00",
		},
		AnnualInterestRate: "0.09",
	}
}

type ReminderDefaultsHolder struct {
	current atomic.Value // holds ReminderDefaults
}

// NewStaticReminderDefaultsHolder returns a holder that never reloads.
func NewStaticReminderDefaultsHolder(defaults ReminderDefaults) *ReminderDefaultsHolder {
	holder := &ReminderDefaultsHolder{}
	holder.current.Store(defaults)
	return holder
}

func NewReminderDefaultsHolder(cfg Config, log *zap.Logger) (*ReminderDefaultsHolder, error) {
	v := viper.New()

	if cfg.Dunning.PolicyFile != "" {
		v.SetConfigFile(cfg.Dunning.PolicyFile)
	} else {
		v.SetConfigName("reminder")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/dunning")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("DUNNING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultReminderDefaults()
	v.SetDefault("reminder.thresholds.friendly", defaults.Thresholds.Friendly)
	v.SetDefault("reminder.thresholds.mahnung1", defaults.Thresholds.Mahnung1)
	v.SetDefault("reminder.thresholds.mahnung2", defaults.Thresholds.Mahnung2)
	v.SetDefault("reminder.thresholds.mahnung3", defaults.Thresholds.Mahnung3)
	v.SetDefault("reminder.thresholds.collections", defaults.Thresholds.Collections)
	v.SetDefault("reminder.fees.mahnung1", defaults.Fees.Mahnung1)
	v.SetDefault("reminder.fees.mahnung2", defaults.Fees.Mahnung2)
	v.SetDefault("reminder.fees.mahnung3", defaults.Fees.Mahnung3)
	v.SetDefault("reminder.fees.collections", defaults.Fees.Collections)
	v.SetDefault("reminder.annualInterestRate", defaults.AnnualInterestRate)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	current, err := unmarshalReminderDefaults(v)
	if err != nil {
		return nil, err
	}
	if err := ValidateReminderDefaults(current); err != nil {
		return nil, err
	}

	holder := NewStaticReminderDefaultsHolder(current)
	if !fileLoaded {
		return holder, nil
	}

	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.reminder")
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := unmarshalReminderDefaults(v)
		if err != nil {
			log.Warn("reminder defaults reload failed", zap.Error(err))
			return
		}
		if err := ValidateReminderDefaults(updated); err != nil {
			log.Warn("invalid reminder defaults ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reminder defaults reloaded", zap.String("file", filepath.Base(e.Name)))
	})

	return holder, nil
}

// unmarshalReminderDefaults goes through Unmarshal rather than UnmarshalKey so
// nested defaults are merged with a partial file.
func unmarshalReminderDefaults(v *viper.Viper) (ReminderDefaults, error) {
	var wrapper struct {
		Reminder ReminderDefaults `mapstructure:"reminder"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return ReminderDefaults{}, err
	}
	return wrapper.Reminder, nil
}

func (h *ReminderDefaultsHolder) Get() ReminderDefaults {
	return h.current.Load().(ReminderDefaults)
}

// ValidateReminderDefaults rejects negative thresholds and malformed amounts.
// Thresholds are not required to be ordered.
func ValidateReminderDefaults(cfg ReminderDefaults) error {
	t := cfg.Thresholds
	for name, days := range map[string]int{
		"friendly":    t.Friendly,
		"mahnung1":    t.Mahnung1,
		"mahnung2":    t.Mahnung2,
		"mahnung3":    t.Mahnung3,
		"collections": t.Collections,
	} {
		if days < 0 {
			return fmt.Errorf("reminder.thresholds.%s must not be negative", name)
		}
	}
	for name, raw := range map[string]string{
		"fees.mahnung1":      cfg.Fees.Mahnung1,
		"fees.mahnung2":      cfg.Fees.Mahnung2,
		"fees.mahnung3":      cfg.Fees.Mahnung3,
		"fees.collections":   cfg.Fees.Collections,
		"annualInterestRate": cfg.AnnualInterestRate,
	} {
		value, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("reminder.%s: %w", name, err)
		}
		if value.IsNegative() {
			return fmt.Errorf("reminder.%s must not be negative", name)
		}
	}
	return nil
}
