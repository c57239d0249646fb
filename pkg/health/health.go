package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeTCP    CheckType = "tcp"
	CheckTypeDevice CheckType = "device"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// Config controls how often the device is checked
type Config struct {
	// Interval between checks. Zero disables monitoring.
	Interval time.Duration

	// Timeout bounds a single check
	Timeout time.Duration

	// Retries is the number of consecutive failures before the device is
	// reported unhealthy
	Retries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	}
}

// Status tracks consecutive results of one checker
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
}

// NewStatus creates a Status that starts out healthy
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update records a result. One success restores health; Retries failures
// in a row take it away.
func (s *Status) Update(result Result, cfg Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= cfg.Retries {
		s.Healthy = false
	}
}
