package bigiptest

import (
	"context"
	"sort"
	"sync"

	"github.com/cuemby/onboard/pkg/bigip"
)

// Onboard records onboarding operations as "onboard.<op>" calls on its device
type Onboard struct {
	d  *Device
	mu sync.Mutex

	// Provisioned holds the current module levels
	Provisioned map[string]string
	// DBVars holds every db variable set so far
	DBVars map[string]any
}

func (o *Onboard) SetDBVars(ctx context.Context, vars map[string]any) error {
	if err := o.d.record(ctx, "onboard.setDbVars", "", vars); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.DBVars == nil {
		o.DBVars = map[string]any{}
	}
	for k, v := range vars {
		o.DBVars[k] = v
	}
	return nil
}

func (o *Onboard) Hostname(ctx context.Context, hostname string) error {
	if err := o.d.record(ctx, "onboard.hostname", hostname, nil); err != nil {
		return err
	}
	o.d.mu.Lock()
	defer o.d.mu.Unlock()
	o.d.Info.Hostname = hostname
	return nil
}

func (o *Onboard) Password(ctx context.Context, user, newPassword, oldPassword string) error {
	return o.d.record(ctx, "onboard.password", user, nil)
}

func (o *Onboard) Provision(ctx context.Context, modules map[string]string) ([]string, error) {
	if err := o.d.record(ctx, "onboard.provision", "", modules); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	var changed []string
	for module, level := range modules {
		if o.Provisioned[module] == level {
			continue
		}
		o.Provisioned[module] = level
		changed = append(changed, module)
	}
	sort.Strings(changed)
	return changed, nil
}

func (o *Onboard) License(ctx context.Context, opts bigip.LicenseOptions) error {
	return o.d.record(ctx, "onboard.license", opts.RegKey, nil)
}

func (o *Onboard) LicenseViaBigIQ(ctx context.Context, opts bigip.BigIQOptions) error {
	return o.d.record(ctx, "onboard.licenseViaBigIq", opts.Host, map[string]any{
		"pool":      opts.PoolName,
		"bigIpHost": opts.BigIPHost,
		"reachable": opts.Reachable,
	})
}

func (o *Onboard) RevokeLicenseViaBigIQ(ctx context.Context, opts bigip.BigIQOptions) error {
	return o.d.record(ctx, "onboard.revokeLicenseViaBigIq", opts.Host, map[string]any{"pool": opts.PoolName})
}
