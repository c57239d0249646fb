package bigip

import (
	"context"
	"fmt"
	"sort"

	"github.com/cuemby/onboard/pkg/retry"
)

const memberManagementPath = "/cm/device/tasks/licensing/pool/member-management"

// DialFunc opens a session to a licensing authority
type DialFunc func(host, username, password string) Device

type onboarder struct {
	d    Device
	dial DialFunc
}

// NewOnboarder implements Onboarder on top of a device's REST primitives
func NewOnboarder(d Device, dial DialFunc) Onboarder {
	return &onboarder{d: d, dial: dial}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (o *onboarder) SetDBVars(ctx context.Context, vars map[string]any) error {
	for _, name := range sortedKeys(vars) {
		if _, err := o.d.Modify(ctx, "/tm/sys/db/"+name, map[string]any{"value": String(vars[name])}); err != nil {
			return fmt.Errorf("failed to set db variable %s: %w", name, err)
		}
	}
	return nil
}

// Hostname sets the system hostname and renames the self device to match
func (o *onboarder) Hostname(ctx context.Context, hostname string) error {
	info, err := o.d.DeviceInfo(ctx)
	if err != nil {
		return err
	}
	if _, err := o.d.Modify(ctx, "/tm/sys/global-settings", map[string]any{"hostname": hostname}); err != nil {
		return err
	}
	if info.Hostname == hostname {
		return nil
	}
	_, err = o.d.Create(ctx, devicePath, map[string]any{
		"command": "mv",
		"name":    info.Hostname,
		"target":  hostname,
	})
	return err
}

func (o *onboarder) Password(ctx context.Context, user, newPassword, oldPassword string) error {
	if user == "root" {
		_, err := o.d.Create(ctx, "/shared/authn/root", map[string]any{
			"oldPassword": oldPassword,
			"newPassword": newPassword,
		})
		return err
	}
	_, err := o.d.Modify(ctx, "/tm/auth/user/"+user, map[string]any{"password": newPassword})
	return err
}

func (o *onboarder) Provision(ctx context.Context, modules map[string]string) ([]string, error) {
	resp, err := o.d.List(ctx, "/tm/sys/provision")
	if err != nil {
		return nil, err
	}
	current := map[string]string{}
	for _, item := range Items(resp) {
		name, _ := item["name"].(string)
		level, _ := item["level"].(string)
		current[name] = level
	}

	var changed []string
	for _, module := range sortedKeys(modules) {
		level := modules[module]
		if current[module] == level {
			continue
		}
		if _, err := o.d.Modify(ctx, "/tm/sys/provision/"+module, map[string]any{"level": level}); err != nil {
			return changed, fmt.Errorf("failed to provision %s: %w", module, err)
		}
		changed = append(changed, module)
	}
	return changed, nil
}

func (o *onboarder) currentRegKey(ctx context.Context) (string, error) {
	resp, err := o.d.List(ctx, "/tm/sys/license")
	if err != nil {
		if IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return StatsDescriptions(resp)["registrationKey"], nil
}

func (o *onboarder) License(ctx context.Context, opts LicenseOptions) error {
	current, err := o.currentRegKey(ctx)
	if err != nil {
		return err
	}
	if current == opts.RegKey && !opts.Overwrite {
		return nil
	}

	body := map[string]any{
		"command":         "install",
		"registrationKey": opts.RegKey,
	}
	if len(opts.AddOnKeys) > 0 {
		body["addOnKeys"] = opts.AddOnKeys
	}
	_, err = o.d.Create(ctx, "/tm/sys/license", body)
	return err
}

func (o *onboarder) memberBody(ctx context.Context, command string, opts BigIQOptions) (map[string]any, error) {
	body := map[string]any{
		"command":         command,
		"licensePoolName": opts.PoolName,
		"address":         opts.BigIPHost,
	}
	for key, value := range map[string]string{
		"skuKeyword1":   opts.SKUKeyword1,
		"skuKeyword2":   opts.SKUKeyword2,
		"unitOfMeasure": opts.UnitOfMeasure,
		"tenant":        opts.Tenant,
	} {
		if value != "" {
			body[key] = value
		}
	}

	if opts.Reachable {
		body["assignmentType"] = "MANAGED"
		body["user"] = opts.BigIPUsername
		body["password"] = opts.BigIPPassword
		return body, nil
	}

	info, err := o.d.DeviceInfo(ctx)
	if err != nil {
		return nil, err
	}
	body["assignmentType"] = "UNREACHABLE"
	body["macAddress"] = info.BaseMAC
	body["hypervisor"] = opts.Hypervisor
	return body, nil
}

// runMemberTask submits a license pool member task and waits for it to finish
func (o *onboarder) runMemberTask(ctx context.Context, bigiq Device, body map[string]any, poll RetryPolicy) (map[string]any, error) {
	resp, err := bigiq.Create(ctx, memberManagementPath, body)
	if err != nil {
		return nil, err
	}
	created, _ := resp.(map[string]any)
	id, _ := created["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("licensing authority did not return a task id")
	}

	var final map[string]any
	notMet := fmt.Sprintf("license pool task %s did not finish", id)
	err = retry.Until(ctx, poll.orDefault(), notMet, func(ctx context.Context) (bool, error) {
		resp, err := bigiq.List(ctx, memberManagementPath+"/"+id)
		if err != nil {
			return false, err
		}
		task, _ := resp.(map[string]any)
		switch task["status"] {
		case "FINISHED":
			final = task
			return true, nil
		case "FAILED":
			return false, retry.Permanent(fmt.Errorf("license pool task %s failed: %v", id, task["errorMessage"]))
		}
		return false, nil
	})
	return final, err
}

func (o *onboarder) LicenseViaBigIQ(ctx context.Context, opts BigIQOptions) error {
	if !opts.Overwrite {
		current, err := o.currentRegKey(ctx)
		if err != nil {
			return err
		}
		if current != "" {
			return nil
		}
	}

	body, err := o.memberBody(ctx, "assign", opts)
	if err != nil {
		return err
	}
	task, err := o.runMemberTask(ctx, o.dial(opts.Host, opts.Username, opts.Password), body, opts.Poll)
	if err != nil {
		return err
	}

	if opts.Reachable {
		return nil
	}
	licenseText, _ := task["licenseText"].(string)
	if licenseText == "" {
		return fmt.Errorf("licensing authority returned no license text for unreachable device")
	}
	_, err = o.d.Create(ctx, "/tm/shared/licensing/registration", map[string]any{"licenseText": licenseText})
	return err
}

func (o *onboarder) RevokeLicenseViaBigIQ(ctx context.Context, opts BigIQOptions) error {
	body, err := o.memberBody(ctx, "revoke", opts)
	if err != nil {
		return err
	}
	_, err = o.runMemberTask(ctx, o.dial(opts.Host, opts.Username, opts.Password), body, opts.Poll)
	return err
}
