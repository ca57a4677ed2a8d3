// Package settings persists the driver's preferences: eye threshold,
// strobe toggle, emergency contact and safety mode.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Richardsss22/NoZZZ/internal/models"

	"go.uber.org/zap"
)

// Setting keys (before the prefix).
const (
	KeyEyeThreshold     = "eye_threshold"
	KeyStrobeEnabled    = "strobe_enabled"
	KeyEmergencyContact = "emergency_contact"
	KeySafetyMode       = "safety_mode"
)

// Preferences is every setting at once.
type Preferences struct {
	EyeThreshold     *float64          `json:"eye_threshold,omitempty"`
	StrobeEnabled    bool              `json:"strobe_enabled"`
	EmergencyContact string            `json:"emergency_contact"`
	SafetyMode       models.SafetyMode `json:"safety_mode,omitempty"`
}

// Store reads and writes typed settings on a KVStore.
type Store struct {
	kv     KVStore
	prefix string
	logger *zap.Logger
}

// NewStore creates a store whose keys are prefixed with prefix.
func NewStore(kv KVStore, prefix string, logger *zap.Logger) *Store {
	return &Store{kv: kv, prefix: prefix, logger: logger}
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

// Threshold returns the personalised eye threshold, or ErrCacheMiss.
func (s *Store) Threshold(ctx context.Context) (float64, error) {
	val, err := s.kv.Get(ctx, s.key(KeyEyeThreshold))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", KeyEyeThreshold, val, err)
	}
	return v, nil
}

// SetThreshold stores the eye threshold.
func (s *Store) SetThreshold(ctx context.Context, v float64) error {
	if err := s.kv.Set(ctx, s.key(KeyEyeThreshold), strconv.FormatFloat(v, 'f', -1, 64), 0); err != nil {
		return fmt.Errorf("failed to set %s: %w", KeyEyeThreshold, err)
	}
	return nil
}

// StrobeEnabled is true unless the toggle was explicitly turned off. Read
// failures leave the strobe on.
func (s *Store) StrobeEnabled(ctx context.Context) bool {
	val, err := s.kv.Get(ctx, s.key(KeyStrobeEnabled))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("Failed to read strobe toggle", zap.Error(err))
		}
		return true
	}
	return val != "false"
}

// SetStrobeEnabled stores the strobe toggle.
func (s *Store) SetStrobeEnabled(ctx context.Context, on bool) error {
	if err := s.kv.Set(ctx, s.key(KeyStrobeEnabled), strconv.FormatBool(on), 0); err != nil {
		return fmt.Errorf("failed to set %s: %w", KeyStrobeEnabled, err)
	}
	return nil
}

// EmergencyContact returns the configured number, or "" when unset or
// unreadable.
func (s *Store) EmergencyContact(ctx context.Context) string {
	val, err := s.kv.Get(ctx, s.key(KeyEmergencyContact))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("Failed to read emergency contact", zap.Error(err))
		}
		return ""
	}
	return strings.TrimSpace(val)
}

// SetEmergencyContact stores the number; an empty number clears it.
func (s *Store) SetEmergencyContact(ctx context.Context, number string) error {
	number = strings.TrimSpace(number)
	var err error
	if number == "" {
		err = s.kv.Delete(ctx, s.key(KeyEmergencyContact))
	} else {
		err = s.kv.Set(ctx, s.key(KeyEmergencyContact), number, 0)
	}
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", KeyEmergencyContact, err)
	}
	return nil
}

// SafetyMode returns the stored mode, or ErrCacheMiss.
func (s *Store) SafetyMode(ctx context.Context) (models.SafetyMode, error) {
	val, err := s.kv.Get(ctx, s.key(KeySafetyMode))
	if err != nil {
		return "", err
	}
	m := models.SafetyMode(val)
	if !m.Valid() {
		return "", fmt.Errorf("invalid %s %q", KeySafetyMode, val)
	}
	return m, nil
}

// SetSafetyMode stores the mode.
func (s *Store) SetSafetyMode(ctx context.Context, m models.SafetyMode) error {
	if err := s.kv.Set(ctx, s.key(KeySafetyMode), string(m), 0); err != nil {
		return fmt.Errorf("failed to set %s: %w", KeySafetyMode, err)
	}
	return nil
}

// Preferences reads every setting.
func (s *Store) Preferences(ctx context.Context) Preferences {
	p := Preferences{
		StrobeEnabled:    s.StrobeEnabled(ctx),
		EmergencyContact: s.EmergencyContact(ctx),
	}
	if v, err := s.Threshold(ctx); err == nil {
		p.EyeThreshold = &v
	}
	if m, err := s.SafetyMode(ctx); err == nil {
		p.SafetyMode = m
	}
	return p
}
