package bigiptest

import (
	"context"
	"sort"
	"sync"

	"github.com/cuemby/onboard/pkg/bigip"
)

// Cluster records clustering operations as "cluster.<op>" calls on its device
type Cluster struct {
	d  *Device
	mu sync.Mutex

	// Trusted lists hosts AreInTrustGroup reports as already trusted
	Trusted []string
	// Groups are the device groups present on the device
	Groups map[string]bool
	// GroupAppearsAfter makes HasDeviceGroup report false this many times first
	GroupAppearsAfter int
}

func (c *Cluster) ConfigSyncIP(ctx context.Context, ip string) error {
	return c.d.record(ctx, "cluster.configSyncIp", ip, nil)
}

func (c *Cluster) AddToTrust(ctx context.Context, host, username, password string) error {
	if err := c.d.record(ctx, "cluster.addToTrust", host, map[string]any{"username": username}); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Trusted = append(c.Trusted, host)
	return nil
}

func (c *Cluster) AreInTrustGroup(ctx context.Context, hosts []string) ([]string, error) {
	if err := c.d.record(ctx, "cluster.areInTrustGroup", "", hosts); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	trusted := map[string]bool{}
	for _, h := range c.Trusted {
		trusted[h] = true
	}
	var out []string
	for _, h := range hosts {
		if trusted[h] {
			out = append(out, h)
		}
	}
	return out, nil
}

func (c *Cluster) SyncComplete(ctx context.Context, policy bigip.RetryPolicy) error {
	return c.d.record(ctx, "cluster.syncComplete", "", nil)
}

func (c *Cluster) CreateDeviceGroup(ctx context.Context, name string, opts bigip.DeviceGroupOptions, devices []string) error {
	sorted := append([]string(nil), devices...)
	sort.Strings(sorted)
	if err := c.d.record(ctx, "cluster.createDeviceGroup", name, map[string]any{"type": opts.Type, "devices": sorted}); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Groups[name] = true
	return nil
}

func (c *Cluster) AddToDeviceGroup(ctx context.Context, deviceName, groupName string) error {
	return c.d.record(ctx, "cluster.addToDeviceGroup", groupName, deviceName)
}

func (c *Cluster) HasDeviceGroup(ctx context.Context, name string) (bool, error) {
	if err := c.d.record(ctx, "cluster.hasDeviceGroup", name, nil); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GroupAppearsAfter > 0 {
		c.GroupAppearsAfter--
		return false, nil
	}
	return c.Groups[name], nil
}

func (c *Cluster) DeleteDeviceGroup(ctx context.Context, name string) error {
	if err := c.d.record(ctx, "cluster.deleteDeviceGroup", name, nil); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Groups, name)
	return nil
}

func (c *Cluster) Sync(ctx context.Context, groupName string) error {
	return c.d.record(ctx, "cluster.sync", groupName, nil)
}

func (c *Cluster) JoinCluster(ctx context.Context, opts bigip.JoinOptions) error {
	return c.d.record(ctx, "cluster.joinCluster", opts.GroupName, map[string]any{
		"localHost": opts.LocalHost,
		"remote":    remoteHost(opts.Remote),
	})
}

func remoteHost(d bigip.Device) string {
	if d == nil {
		return ""
	}
	return d.Host()
}
