package handler

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cuemby/onboard/pkg/bigip"
	"github.com/cuemby/onboard/pkg/retry"
	"github.com/cuemby/onboard/pkg/types"
)

// DSC applies config sync, failover, device trust and device groups
type DSC struct {
	decl   map[string]any
	deps   Deps
	logger zerolog.Logger

	info *bigip.DeviceInfo
}

func NewDSC(decl map[string]any, deps Deps) *DSC {
	return &DSC{decl: decl, deps: deps, logger: deps.logger("dsc")}
}

func (h *DSC) Name() string { return "dsc" }

func (h *DSC) Process(ctx context.Context) error {
	if err := h.processConfigSync(ctx); err != nil {
		return fmt.Errorf("config sync: %w", err)
	}
	if err := h.processFailoverUnicast(ctx); err != nil {
		return fmt.Errorf("failover unicast: %w", err)
	}

	trust, hasTrust, err := decodeSection[types.DeviceTrust](h.decl, "DeviceTrust")
	if err != nil {
		return err
	}
	groups, err := decodeNamed[types.DeviceGroup](h.decl, "DeviceGroup")
	if err != nil {
		return err
	}

	if hasTrust && hasOwner(groups) {
		return h.processCluster(ctx, trust, groups)
	}

	if hasTrust {
		if err := h.processDeviceTrust(ctx, trust); err != nil {
			return fmt.Errorf("device trust: %w", err)
		}
	}
	return h.processDeviceGroups(ctx, groups)
}

func hasOwner(groups map[string]*types.DeviceGroup) bool {
	for _, g := range groups {
		if g.Owner != "" {
			return true
		}
	}
	return false
}

func (h *DSC) deviceInfo(ctx context.Context) (*bigip.DeviceInfo, error) {
	if h.info != nil {
		return h.info, nil
	}
	info, err := h.deps.Device.DeviceInfo(ctx)
	if err != nil {
		return nil, err
	}
	h.info = info
	return info, nil
}

func (h *DSC) processConfigSync(ctx context.Context) error {
	cs, ok, err := decodeSection[types.ConfigSync](h.decl, "ConfigSync")
	if err != nil || !ok {
		return err
	}
	ip := cs.ConfigsyncIP
	if ip == "" {
		ip = "none"
	}
	return h.deps.Device.Cluster().ConfigSyncIP(ctx, stripCIDR(ip))
}

func (h *DSC) processFailoverUnicast(ctx context.Context) error {
	fu, ok, err := decodeSection[types.FailoverUnicast](h.decl, "FailoverUnicast")
	if err != nil || !ok {
		return err
	}
	info, err := h.deviceInfo(ctx)
	if err != nil {
		return err
	}
	port := fu.Port
	if port == 0 {
		port = 1026
	}
	_, err = h.deps.Device.Modify(ctx, bigip.CommonPath("/tm/cm/device", info.Hostname), map[string]any{
		"unicastAddress": []any{map[string]any{"ip": stripCIDR(fu.Address), "port": port}},
	})
	return err
}

// processCluster handles a device group with a named owner together with
// device trust. A device that is neither the remote peer nor the owner joins
// the cluster in one step.
func (h *DSC) processCluster(ctx context.Context, trust types.DeviceTrust, groups map[string]*types.DeviceGroup) error {
	isRemote, err := h.isThisDevice(ctx, trust.RemoteHost)
	if err != nil {
		return err
	}

	if isRemote {
		h.logger.Info().Msg("This device is the trust remote, skipping trust")
		return h.processDeviceGroups(ctx, groups)
	}

	for _, name := range sortedNames(groups) {
		group := groups[name]
		isOwner, err := h.isOwner(ctx, group)
		if err != nil {
			return err
		}
		if isOwner {
			if err := h.processDeviceTrust(ctx, trust); err != nil {
				return fmt.Errorf("device trust: %w", err)
			}
			if err := h.createDeviceGroup(ctx, group); err != nil {
				return fmt.Errorf("device group %s: %w", name, err)
			}
			continue
		}
		if err := h.joinCluster(ctx, trust, group); err != nil {
			return fmt.Errorf("device group %s: %w", name, err)
		}
	}
	return nil
}

func (h *DSC) joinCluster(ctx context.Context, trust types.DeviceTrust, group *types.DeviceGroup) error {
	if err := resolveAll(ctx, h.deps.Resolver, trust.RemoteHost); err != nil {
		return err
	}
	remote, err := h.connectRemote(ctx, trust)
	if err != nil {
		return err
	}
	info, err := h.deviceInfo(ctx)
	if err != nil {
		return err
	}
	h.logger.Info().Str("group", group.Name).Str("remote", trust.RemoteHost).Msg("Joining cluster")
	return h.deps.Device.Cluster().JoinCluster(ctx, bigip.JoinOptions{
		GroupName:     group.Name,
		Remote:        remote,
		LocalHost:     info.ManagementAddress,
		LocalUsername: trust.LocalUsername,
		LocalPassword: trust.LocalPassword,
		Poll:          h.deps.Timing.SyncPoll,
	})
}

// processDeviceTrust asks the remote device to trust this one, then waits
// for the trust change to sync.
func (h *DSC) processDeviceTrust(ctx context.Context, trust types.DeviceTrust) error {
	isRemote, err := h.isThisDevice(ctx, trust.RemoteHost)
	if err != nil || isRemote {
		return err
	}
	if err := resolveAll(ctx, h.deps.Resolver, trust.RemoteHost); err != nil {
		return err
	}
	remote, err := h.connectRemote(ctx, trust)
	if err != nil {
		return err
	}
	info, err := h.deviceInfo(ctx)
	if err != nil {
		return err
	}

	h.logger.Info().Str("remote", trust.RemoteHost).Msg("Adding this device to remote trust")
	if err := remote.Cluster().AddToTrust(ctx, info.ManagementAddress, trust.LocalUsername, trust.LocalPassword); err != nil {
		return err
	}
	return h.deps.Device.Cluster().SyncComplete(ctx, h.deps.Timing.SyncPoll)
}

func (h *DSC) connectRemote(ctx context.Context, trust types.DeviceTrust) (bigip.Device, error) {
	if h.deps.Connector == nil {
		return nil, fmt.Errorf("no connector to reach remote host %s", trust.RemoteHost)
	}
	return h.deps.Connector.Connect(ctx, types.Target{
		Host:     stripCIDR(trust.RemoteHost),
		Username: trust.RemoteUsername,
		Password: trust.RemotePassword,
	})
}

func (h *DSC) processDeviceGroups(ctx context.Context, groups map[string]*types.DeviceGroup) error {
	for _, name := range sortedNames(groups) {
		group := groups[name]
		isOwner, err := h.isOwner(ctx, group)
		if err != nil {
			return err
		}
		if isOwner {
			err = h.createDeviceGroup(ctx, group)
		} else {
			err = h.joinDeviceGroup(ctx, group)
		}
		if err != nil {
			return fmt.Errorf("device group %s: %w", name, err)
		}
	}
	return nil
}

// createDeviceGroup creates the group with the declared members that are
// already trusted. Sync only runs if a peer made it into the group.
func (h *DSC) createDeviceGroup(ctx context.Context, group *types.DeviceGroup) error {
	if err := resolveAll(ctx, h.deps.Resolver, group.Members...); err != nil {
		return err
	}
	info, err := h.deviceInfo(ctx)
	if err != nil {
		return err
	}
	cluster := h.deps.Device.Cluster()

	trusted, err := cluster.AreInTrustGroup(ctx, group.Members)
	if err != nil {
		return err
	}
	devices := append([]string(nil), trusted...)
	if !contains(devices, info.Hostname) {
		devices = append(devices, info.Hostname)
	}
	sort.Strings(devices)

	h.logger.Info().Str("group", group.Name).Strs("devices", devices).Msg("Creating device group")
	if err := cluster.CreateDeviceGroup(ctx, group.Name, bigip.DeviceGroupOptions{
		Type:            group.Type,
		AutoSync:        group.AutoSync,
		SaveOnAutoSync:  group.SaveOnAutoSync,
		NetworkFailover: group.NetworkFailover,
		FullLoadOnSync:  group.FullLoadOnSync,
		ASMSync:         group.ASMSync,
	}, devices); err != nil {
		return err
	}

	for _, d := range trusted {
		if d != info.Hostname {
			return cluster.Sync(ctx, group.Name)
		}
	}
	return nil
}

// joinDeviceGroup waits for the owner's group to reach this device through
// trust, then adds this device to it.
func (h *DSC) joinDeviceGroup(ctx context.Context, group *types.DeviceGroup) error {
	info, err := h.deviceInfo(ctx)
	if err != nil {
		return err
	}
	cluster := h.deps.Device.Cluster()

	msg := fmt.Sprintf("device group %s never appeared on this device", group.Name)
	if err := retry.Until(ctx, h.deps.Timing.DeviceGroupPoll, msg, func(ctx context.Context) (bool, error) {
		return cluster.HasDeviceGroup(ctx, group.Name)
	}); err != nil {
		return err
	}

	h.logger.Info().Str("group", group.Name).Msg("Joining device group")
	if err := cluster.AddToDeviceGroup(ctx, info.Hostname, group.Name); err != nil {
		return err
	}
	return cluster.Sync(ctx, group.Name)
}

// isOwner treats a group without an owner as owned by this device
func (h *DSC) isOwner(ctx context.Context, group *types.DeviceGroup) (bool, error) {
	if group.Owner == "" {
		return true, nil
	}
	return h.isThisDevice(ctx, bigip.StripCommon(group.Owner))
}

// isThisDevice matches host against the hostname, the management address and
// every self IP. A self IP listing that is not an array counts as no match.
func (h *DSC) isThisDevice(ctx context.Context, host string) (bool, error) {
	host = stripCIDR(host)
	if host == "" {
		return false, nil
	}
	info, err := h.deviceInfo(ctx)
	if err != nil {
		return false, err
	}
	if host == info.Hostname || host == stripCIDR(info.ManagementAddress) {
		return true, nil
	}

	resp, err := h.deps.Device.List(ctx, "/tm/net/self")
	if bigip.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	selfs, ok := resp.([]any)
	if !ok {
		return false, nil
	}
	for _, v := range selfs {
		self, _ := v.(map[string]any)
		if addr, _ := self["address"].(string); stripCIDR(addr) == host {
			return true, nil
		}
	}
	return false, nil
}
