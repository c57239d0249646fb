package health

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// TCPChecker dials the device management port
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker creates a checker for host:port
func NewTCPChecker(host string, port int) *TCPChecker {
	return &TCPChecker{
		Address: net.JoinHostPort(host, strconv.Itoa(port)),
		Timeout: 5 * time.Second,
	}
}

func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Message:   fmt.Sprintf("connection failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	_ = conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("management port %s reachable", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout sets the connection timeout
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}
