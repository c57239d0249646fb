package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/onboard/pkg/bigip"
	"github.com/cuemby/onboard/pkg/types"
)

// DeviceChecker opens a REST session and asks whether the device is active
type DeviceChecker struct {
	Connector bigip.Connector
	Target    types.Target
}

// NewDeviceChecker creates a checker for the target. An empty target
// checks the connector's default device.
func NewDeviceChecker(connector bigip.Connector, target types.Target) *DeviceChecker {
	return &DeviceChecker{Connector: connector, Target: target}
}

func (d *DeviceChecker) Check(ctx context.Context) Result {
	start := time.Now()
	result := Result{CheckedAt: start}

	device, err := d.Connector.Connect(ctx, d.Target)
	if err != nil {
		result.Message = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	active, err := device.Active(ctx)
	result.Duration = time.Since(start)
	switch {
	case err != nil:
		result.Message = fmt.Sprintf("failed to read device status: %v", err)
	case !active:
		result.Message = fmt.Sprintf("device %s is not active", device.Host())
	default:
		result.Healthy = true
		result.Message = fmt.Sprintf("device %s is active", device.Host())
	}
	return result
}

func (d *DeviceChecker) Type() CheckType {
	return CheckTypeDevice
}
