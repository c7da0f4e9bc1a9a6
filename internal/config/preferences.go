package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Preferences is the runtime-changeable part of the configuration.
type Preferences struct {
	AutoUpdate       bool          `json:"auto_update"`
	PollInterval     time.Duration `json:"-"`
	MinimumMagnitude float64       `json:"minimum_magnitude"`
}

// DefaultPreferences polls every 15 minutes and surfaces M3.0 and above.
func DefaultPreferences() Preferences {
	return Preferences{
		AutoUpdate:       true,
		PollInterval:     15 * time.Minute,
		MinimumMagnitude: 3,
	}
}

// MaxPollIntervalMinutes caps the poll interval at one week.
const MaxPollIntervalMinutes = 7 * 24 * 60

// PollIntervalFromMinutes converts a minute count, rejecting counts outside
// 0..MaxPollIntervalMinutes before they can overflow a time.Duration.
func PollIntervalFromMinutes(minutes int) (time.Duration, error) {
	if minutes < 0 || minutes > MaxPollIntervalMinutes {
		return 0, fmt.Errorf("invalid poll interval: must be between 0 and %d minutes", MaxPollIntervalMinutes)
	}
	return time.Duration(minutes) * time.Minute, nil
}

// Validate rejects preferences the scheduler cannot honor.
func (p Preferences) Validate() error {
	if p.PollInterval < 0 || p.PollInterval > MaxPollIntervalMinutes*time.Minute {
		return fmt.Errorf("invalid poll interval: must be between 0 and %d minutes", MaxPollIntervalMinutes)
	}
	if p.AutoUpdate && p.PollInterval < time.Minute {
		return errors.New("invalid poll interval: must be at least one minute when auto-update is on")
	}
	if p.MinimumMagnitude < 0 {
		return errors.New("invalid minimum magnitude: must not be negative")
	}
	return nil
}

// preferencesFile is the on-disk TOML shape. Absent keys keep the base value.
type preferencesFile struct {
	AutoUpdate          *bool    `toml:"auto_update"`
	PollIntervalMinutes *int     `toml:"poll_interval_minutes"`
	MinimumMagnitude    *float64 `toml:"minimum_magnitude"`
}

// LoadPreferences reads a TOML preferences file over base.
func LoadPreferences(path string, base Preferences) (Preferences, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Preferences{}, fmt.Errorf("read preferences file: %w", err)
	}

	var f preferencesFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return Preferences{}, fmt.Errorf("parse preferences file: %w", err)
	}

	prefs := base
	if f.AutoUpdate != nil {
		prefs.AutoUpdate = *f.AutoUpdate
	}
	if f.PollIntervalMinutes != nil {
		if prefs.PollInterval, err = PollIntervalFromMinutes(*f.PollIntervalMinutes); err != nil {
			return Preferences{}, fmt.Errorf("parse preferences file: %w", err)
		}
	}
	if f.MinimumMagnitude != nil {
		prefs.MinimumMagnitude = *f.MinimumMagnitude
	}
	return prefs, nil
}

// SavePreferences writes prefs to path as TOML, replacing the file atomically.
func SavePreferences(path string, prefs Preferences) error {
	minutes := int(prefs.PollInterval / time.Minute)
	f := preferencesFile{
		AutoUpdate:          &prefs.AutoUpdate,
		PollIntervalMinutes: &minutes,
		MinimumMagnitude:    &prefs.MinimumMagnitude,
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".preferences-*.toml")
	if err != nil {
		return fmt.Errorf("write preferences file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // already renamed on success

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write preferences file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write preferences file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write preferences file: %w", err)
	}
	return nil
}
