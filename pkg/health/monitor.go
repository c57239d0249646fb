package health

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/onboard/pkg/log"
	"github.com/cuemby/onboard/pkg/metrics"
)

// Monitor checks the device periodically and reports the outcome as the
// device component of the agent health
type Monitor struct {
	cfg      Config
	checkers []Checker
	statuses []*Status
	logger   zerolog.Logger

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor running checkers in order on every tick
func NewMonitor(cfg Config, checkers ...Checker) *Monitor {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	statuses := make([]*Status, len(checkers))
	for i := range checkers {
		statuses[i] = NewStatus()
	}
	return &Monitor{
		cfg:      cfg,
		checkers: checkers,
		statuses: statuses,
		logger:   log.WithComponent("health"),
		stopCh:   make(chan struct{}),
	}
}

// Start runs a first check immediately, then one every Interval. A zero
// Interval leaves the monitor idle.
func (m *Monitor) Start() {
	if m.cfg.Interval <= 0 || len(m.checkers) == 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		m.CheckNow(context.Background())
		for {
			select {
			case <-ticker.C:
				m.CheckNow(context.Background())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts checking and waits for an in-flight check
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// CheckNow runs every checker once, updates the device component and
// returns whether the device is considered healthy
func (m *Monitor) CheckNow(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	healthy := true
	var failures []string
	for i, c := range m.checkers {
		checkCtx := ctx
		var cancel context.CancelFunc
		if m.cfg.Timeout > 0 {
			checkCtx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		}
		result := c.Check(checkCtx)
		if cancel != nil {
			cancel()
		}

		status := m.statuses[i]
		wasHealthy := status.Healthy
		status.Update(result, m.cfg)

		if !result.Healthy {
			m.logger.Debug().
				Str("check", string(c.Type())).
				Int("failures", status.ConsecutiveFailures).
				Msg(result.Message)
		}
		if wasHealthy && !status.Healthy {
			m.logger.Warn().Str("check", string(c.Type())).Msg("Device became unhealthy: " + result.Message)
		} else if !wasHealthy && status.Healthy {
			m.logger.Info().Str("check", string(c.Type())).Msg("Device recovered")
		}

		if !status.Healthy {
			healthy = false
			failures = append(failures, string(c.Type())+": "+status.LastResult.Message)
		}
	}

	metrics.UpdateComponent(metrics.ComponentDevice, healthy, strings.Join(failures, "; "))
	return healthy
}
