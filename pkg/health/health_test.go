package health

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/onboard/pkg/bigip/bigiptest"
	"github.com/cuemby/onboard/pkg/metrics"
	"github.com/cuemby/onboard/pkg/types"
)

type fakeChecker struct {
	results []bool
	calls   int
}

func (f *fakeChecker) Check(ctx context.Context) Result {
	healthy := true
	if f.calls < len(f.results) {
		healthy = f.results[f.calls]
	}
	f.calls++
	msg := "up"
	if !healthy {
		msg = "down"
	}
	return Result{Healthy: healthy, Message: msg, CheckedAt: time.Now()}
}

func (f *fakeChecker) Type() CheckType { return CheckTypeDevice }

func TestStatusUpdate(t *testing.T) {
	tests := []struct {
		name        string
		results     []bool
		wantHealthy bool
		wantFails   int
	}{
		{"one failure is tolerated", []bool{false}, true, 1},
		{"retries failures mark unhealthy", []bool{false, false, false}, false, 3},
		{"one success recovers", []bool{false, false, false, true}, true, 0},
		{"success resets the count", []bool{false, false, true, false}, true, 1},
	}

	cfg := Config{Retries: 3}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStatus()
			for _, healthy := range tt.results {
				s.Update(Result{Healthy: healthy}, cfg)
			}
			assert.Equal(t, tt.wantHealthy, s.Healthy)
			assert.Equal(t, tt.wantFails, s.ConsecutiveFailures)
		})
	}
}

func TestTCPChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)

	checker := NewTCPChecker("127.0.0.1", addr.Port).WithTimeout(time.Second)
	result := checker.Check(context.Background())
	assert.True(t, result.Healthy, result.Message)
	assert.Equal(t, CheckTypeTCP, checker.Type())

	require.NoError(t, ln.Close())
	result = checker.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "connection failed")
	assert.Contains(t, checker.Address, strconv.Itoa(addr.Port))
}

func TestDeviceChecker(t *testing.T) {
	dev := bigiptest.New()
	dev.ActiveSequence = []bool{false}
	connector := &bigiptest.Connector{Default: dev}

	checker := NewDeviceChecker(connector, types.Target{})
	result := checker.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "not active")

	result = checker.Check(context.Background())
	assert.True(t, result.Healthy, result.Message)

	dev.FailOnce("active", "", errors.New("timeout"))
	result = checker.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "timeout")

	unreachable := NewDeviceChecker(connector, types.Target{Host: "203.0.113.9"})
	result = unreachable.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "connection refused")
}

func TestMonitorReportsDeviceComponent(t *testing.T) {
	checker := &fakeChecker{results: []bool{false, false, true}}
	m := NewMonitor(Config{Retries: 2}, checker)

	assert.True(t, m.CheckNow(context.Background()))
	assert.Equal(t, "healthy", metrics.GetHealth().Components[metrics.ComponentDevice])

	assert.False(t, m.CheckNow(context.Background()))
	assert.Equal(t, "unhealthy: device: down", metrics.GetHealth().Components[metrics.ComponentDevice])

	assert.True(t, m.CheckNow(context.Background()))
	assert.Equal(t, 3, checker.calls)
}

func TestMonitorStartStop(t *testing.T) {
	checker := &fakeChecker{}
	m := NewMonitor(Config{Interval: time.Hour, Retries: 1}, checker)
	m.Start()
	m.Stop()
	m.Stop()

	assert.Equal(t, 1, checker.calls)
}

func TestMonitorDisabled(t *testing.T) {
	checker := &fakeChecker{}
	m := NewMonitor(Config{}, checker)
	m.Start()
	m.Stop()

	assert.Zero(t, checker.calls)
}
