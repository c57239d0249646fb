package bigip

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/onboard/pkg/retry"
)

const (
	deviceGroupPath = "/tm/cm/device-group"
	devicePath      = "/tm/cm/device"
)

var defaultPoll = RetryPolicy{MaxAttempts: 60, Interval: 5 * time.Second}

func (p RetryPolicy) orDefault() retry.Policy {
	if p.MaxAttempts == 0 {
		p = defaultPoll
	}
	return retry.Policy{MaxAttempts: p.MaxAttempts, Interval: p.Interval}
}

type cluster struct {
	d Device
}

// NewCluster implements Cluster on top of a device's REST primitives
func NewCluster(d Device) Cluster {
	return &cluster{d: d}
}

func (c *cluster) selfName(ctx context.Context) (string, error) {
	info, err := c.d.DeviceInfo(ctx)
	if err != nil {
		return "", err
	}
	return info.Hostname, nil
}

func (c *cluster) ConfigSyncIP(ctx context.Context, ip string) error {
	name, err := c.selfName(ctx)
	if err != nil {
		return err
	}
	_, err = c.d.Modify(ctx, CommonPath(devicePath, name), map[string]any{"configsyncIp": ip})
	return err
}

func (c *cluster) AddToTrust(ctx context.Context, host, username, password string) error {
	_, err := c.d.Create(ctx, "/tm/cm/add-to-trust", map[string]any{
		"command":    "run",
		"name":       "Root",
		"caDevice":   true,
		"device":     host,
		"deviceName": host,
		"username":   username,
		"password":   password,
	})
	return err
}

// AreInTrustGroup returns the hosts that already appear in the trust domain,
// matched by device name, hostname or management address.
func (c *cluster) AreInTrustGroup(ctx context.Context, hosts []string) ([]string, error) {
	resp, err := c.d.List(ctx, devicePath)
	if err != nil {
		return nil, err
	}

	known := map[string]bool{}
	for _, device := range Items(resp) {
		for _, key := range []string{"name", "hostname", "managementIp"} {
			if v, ok := device[key].(string); ok && v != "" {
				known[v] = true
			}
		}
	}

	var trusted []string
	for _, host := range hosts {
		if known[host] {
			trusted = append(trusted, host)
		}
	}
	return trusted, nil
}

func (c *cluster) SyncComplete(ctx context.Context, policy RetryPolicy) error {
	return retry.Until(ctx, policy.orDefault(), "sync did not complete", func(ctx context.Context) (bool, error) {
		resp, err := c.d.List(ctx, "/tm/cm/sync-status")
		if err != nil {
			return false, err
		}
		stats := StatsDescriptions(resp)
		switch stats["status"] {
		case "In Sync", "Standalone":
			return true, nil
		}
		return stats["color"] == "green", nil
	})
}

func deviceGroupBody(opts DeviceGroupOptions) map[string]any {
	return map[string]any{
		"type":            opts.Type,
		"autoSync":        enabled(opts.AutoSync),
		"saveOnAutoSync":  opts.SaveOnAutoSync,
		"networkFailover": enabled(opts.NetworkFailover),
		"fullLoadOnSync":  opts.FullLoadOnSync,
		"asmSync":         enabled(opts.ASMSync),
	}
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func (c *cluster) CreateDeviceGroup(ctx context.Context, name string, opts DeviceGroupOptions, devices []string) error {
	exists, err := c.HasDeviceGroup(ctx, name)
	if err != nil {
		return err
	}

	body := deviceGroupBody(opts)
	if exists {
		if _, err := c.d.Modify(ctx, CommonPath(deviceGroupPath, name), body); err != nil {
			return err
		}
		for _, device := range devices {
			if err := c.AddToDeviceGroup(ctx, device, name); err != nil {
				return err
			}
		}
		return nil
	}

	body["name"] = name
	body["devices"] = devices
	_, err = c.d.Create(ctx, deviceGroupPath, body)
	return err
}

func (c *cluster) AddToDeviceGroup(ctx context.Context, deviceName, groupName string) error {
	path := CommonPath(deviceGroupPath, groupName) + "/devices"
	resp, err := c.d.List(ctx, path)
	if err != nil {
		return err
	}
	for _, device := range Items(resp) {
		if device["name"] == deviceName {
			return nil
		}
	}
	_, err = c.d.Create(ctx, path, map[string]any{"name": deviceName})
	return err
}

func (c *cluster) HasDeviceGroup(ctx context.Context, name string) (bool, error) {
	_, err := c.d.List(ctx, CommonPath(deviceGroupPath, name))
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteDeviceGroup empties the group before removing it
func (c *cluster) DeleteDeviceGroup(ctx context.Context, name string) error {
	path := CommonPath(deviceGroupPath, name)
	if _, err := c.d.Modify(ctx, path, map[string]any{"devices": []any{}}); err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	return c.d.Delete(ctx, path)
}

func (c *cluster) Sync(ctx context.Context, groupName string) error {
	_, err := c.d.Create(ctx, "/tm/cm", map[string]any{
		"command":     "run",
		"utilCmdArgs": "config-sync to-group " + groupName,
	})
	return err
}

// JoinCluster asks the owner to trust this device and add it to the group,
// then waits for the group to reach this device over trust before syncing.
func (c *cluster) JoinCluster(ctx context.Context, opts JoinOptions) error {
	if opts.Remote == nil {
		return fmt.Errorf("joining %s requires a session with the group owner", opts.GroupName)
	}
	remote := opts.Remote.Cluster()

	if err := remote.AddToTrust(ctx, opts.LocalHost, opts.LocalUsername, opts.LocalPassword); err != nil {
		return fmt.Errorf("owner failed to add %s to trust: %w", opts.LocalHost, err)
	}

	name, err := c.selfName(ctx)
	if err != nil {
		return err
	}
	if err := remote.AddToDeviceGroup(ctx, name, opts.GroupName); err != nil {
		return fmt.Errorf("owner failed to add %s to device group %s: %w", name, opts.GroupName, err)
	}

	notMet := fmt.Sprintf("device group %s never appeared on %s", opts.GroupName, name)
	if err := retry.Until(ctx, opts.Poll.orDefault(), notMet, func(ctx context.Context) (bool, error) {
		return c.HasDeviceGroup(ctx, opts.GroupName)
	}); err != nil {
		return err
	}

	if err := remote.Sync(ctx, opts.GroupName); err != nil {
		return err
	}
	return c.SyncComplete(ctx, opts.Poll)
}
