package handler

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/cuemby/onboard/pkg/bigip"
	"github.com/cuemby/onboard/pkg/retry"
	"github.com/cuemby/onboard/pkg/types"
)

const (
	dhcpConfigPath = "/tm/sys/management-dhcp/sys-mgmt-dhcp-config"
	// masterKeyMarker identifies the host processor key that must survive a root keys rewrite
	masterKeyMarker = " Host Processor Superuser"
	rootKeysFile    = "/root/.ssh/authorized_keys"
)

var (
	dnsDHCPOptions = []string{"domain-name", "domain-name-servers", "domain-search"}
	ntpDHCPOptions = []string{"ntp-servers"}
)

// System applies db variables, DNS, NTP, hostname, users and licensing
type System struct {
	decl   map[string]any
	deps   Deps
	logger zerolog.Logger
}

func NewSystem(decl map[string]any, deps Deps) *System {
	return &System{decl: decl, deps: deps, logger: deps.logger("system")}
}

func (h *System) Name() string { return "system" }

func (h *System) Process(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"db variables", h.processDBVars},
		{"system settings", h.processSettings},
		{"dhcp", h.processDHCP},
		{"dns", h.processDNS},
		{"ntp", h.processNTP},
		{"hostname", h.processHostname},
		{"users", h.processUsers},
		{"license", h.processLicense},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

func (h *System) processDBVars(ctx context.Context) error {
	vars, ok := h.decl["DbVariables"].(map[string]any)
	if !ok || len(vars) == 0 {
		return nil
	}
	h.logger.Info().Int("count", len(vars)).Msg("Setting db variables")
	return h.deps.Device.Onboard().SetDBVars(ctx, vars)
}

func (h *System) processSettings(ctx context.Context) error {
	sys, ok, err := decodeSection[types.System](h.decl, "System")
	if err != nil || !ok {
		return err
	}
	dev := h.deps.Device

	if sys.ConsoleInactivityTimeout != nil {
		if _, err := dev.Modify(ctx, "/tm/sys/global-settings", map[string]any{
			"consoleInactivityTimeout": *sys.ConsoleInactivityTimeout,
		}); err != nil {
			return err
		}
	}
	if sys.CLIInactivityTimeout != nil {
		// the cli counts minutes, the declaration counts seconds
		if _, err := dev.Modify(ctx, "/tm/cli/global-settings", map[string]any{
			"idleTimeout": *sys.CLIInactivityTimeout / 60,
		}); err != nil {
			return err
		}
	}
	if sys.AutoPhonehome != nil {
		if _, err := dev.Modify(ctx, "/tm/sys/software/update", map[string]any{
			"autoPhonehome": enabled(*sys.AutoPhonehome),
		}); err != nil {
			return err
		}
	}
	return nil
}

// processDHCP stops the management DHCP client from overwriting explicit
// DNS and NTP settings. dhclient is only restarted when its options change.
func (h *System) processDHCP(ctx context.Context) error {
	var drop []string
	if _, ok := section(h.decl, "DNS"); ok {
		drop = append(drop, dnsDHCPOptions...)
	}
	if _, ok := section(h.decl, "NTP"); ok {
		drop = append(drop, ntpDHCPOptions...)
	}
	if len(drop) == 0 {
		return nil
	}

	dev := h.deps.Device
	resp, err := dev.List(ctx, dhcpConfigPath)
	if bigip.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	current, _ := resp.(map[string]any)
	options, _ := current["requestOptions"].([]any)

	kept := []any{}
	for _, opt := range options {
		name, _ := opt.(string)
		if !contains(drop, name) {
			kept = append(kept, opt)
		}
	}
	if len(kept) == len(options) {
		return nil
	}

	h.logger.Info().Strs("options", drop).Msg("Removing DHCP options")
	if _, err := dev.Modify(ctx, dhcpConfigPath, map[string]any{"requestOptions": kept}); err != nil {
		return err
	}
	if _, err := dev.Create(ctx, "/tm/sys/service", map[string]any{"command": "restart", "name": "dhclient"}); err != nil {
		return err
	}
	return retry.Until(ctx, h.deps.Timing.DHCPPoll, "dhclient is not running", func(ctx context.Context) (bool, error) {
		resp, err := dev.List(ctx, "/tm/sys/service/dhclient/stats")
		if err != nil {
			return false, err
		}
		stats, _ := resp.(map[string]any)
		raw, _ := stats["apiRawValues"].(map[string]any)
		status, _ := raw["apiAnonymous"].(string)
		return strings.Contains(status, "running"), nil
	})
}

func (h *System) processDNS(ctx context.Context) error {
	dns, ok, err := decodeSection[types.DNS](h.decl, "DNS")
	if err != nil || !ok {
		return err
	}
	h.logger.Info().Strs("nameServers", dns.NameServers).Msg("Configuring DNS")
	_, err = h.deps.Device.Modify(ctx, "/tm/sys/dns", map[string]any{
		"nameServers": orEmpty(dns.NameServers),
		"search":      orEmpty(dns.Search),
	})
	return err
}

// processNTP runs after DNS so that server names resolve against the new name servers
func (h *System) processNTP(ctx context.Context) error {
	ntp, ok, err := decodeSection[types.NTP](h.decl, "NTP")
	if err != nil || !ok {
		return err
	}
	if err := resolveAll(ctx, h.deps.Resolver, ntp.Servers...); err != nil {
		return err
	}

	body := map[string]any{"servers": orEmpty(ntp.Servers)}
	if ntp.Timezone != "" {
		body["timezone"] = ntp.Timezone
	}
	h.logger.Info().Strs("servers", ntp.Servers).Msg("Configuring NTP")
	_, err = h.deps.Device.Replace(ctx, "/tm/sys/ntp", body)
	return err
}

func (h *System) processHostname(ctx context.Context) error {
	hostname, _ := h.decl["hostname"].(string)
	if hostname == "" {
		return nil
	}
	h.logger.Info().Str("hostname", hostname).Msg("Setting hostname")
	return h.deps.Device.Onboard().Hostname(ctx, hostname)
}

func (h *System) processUsers(ctx context.Context) error {
	users, err := decodeNamed[types.User](h.decl, "User")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(users))
	for name := range users {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		user := users[name]
		var err error
		if name == "root" || user.UserType == "root" {
			err = h.processRootUser(ctx, user)
		} else {
			err = h.processRegularUser(ctx, user)
		}
		if err != nil {
			return fmt.Errorf("user %s: %w", name, err)
		}
	}
	return nil
}

func (h *System) processRootUser(ctx context.Context, user *types.User) error {
	dev := h.deps.Device
	if user.NewPassword != "" {
		if err := dev.Onboard().Password(ctx, "root", user.NewPassword, user.OldPassword); err != nil {
			return err
		}
		if dev.User() == "root" {
			dev.SetPassword(user.NewPassword)
		}
	}
	if user.Keys == nil {
		return nil
	}

	keys, err := normalizeKeys(user.Keys)
	if err != nil {
		return err
	}
	current, err := dev.Bash(ctx, "cat "+rootKeysFile)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(current, "\n") {
		if strings.Contains(line, masterKeyMarker) {
			keys = append(keys, strings.TrimSpace(line))
		}
	}
	_, err = dev.Bash(ctx, writeKeysCommand(rootKeysFile, keys))
	return err
}

func (h *System) processRegularUser(ctx context.Context, user *types.User) error {
	dev := h.deps.Device

	body := map[string]any{"name": user.Name}
	if user.Password != "" {
		body["password"] = user.Password
	}
	if user.Shell != "" {
		body["shell"] = user.Shell
	}
	if len(user.PartitionAccess) > 0 {
		partitions := make([]string, 0, len(user.PartitionAccess))
		for p := range user.PartitionAccess {
			partitions = append(partitions, p)
		}
		sort.Strings(partitions)
		access := make([]any, 0, len(partitions))
		for _, p := range partitions {
			access = append(access, map[string]any{"name": p, "role": user.PartitionAccess[p].Role})
		}
		body["partitionAccess"] = access
	}
	if _, err := dev.CreateOrModify(ctx, "/tm/auth/user", body); err != nil {
		return err
	}
	if user.Password != "" && dev.User() == user.Name {
		dev.SetPassword(user.Password)
	}

	if user.Keys == nil {
		return nil
	}
	keys, err := normalizeKeys(user.Keys)
	if err != nil {
		return err
	}
	dir := "/home/" + user.Name + "/.ssh"
	cmd := "mkdir -p " + dir + " && " + writeKeysCommand(dir+"/authorized_keys", keys) +
		" && chown -R " + user.Name + " " + dir + " && chmod 700 " + dir
	_, err = dev.Bash(ctx, cmd)
	return err
}

// normalizeKeys validates each authorized_keys line and re-renders it in canonical form
func normalizeKeys(lines []string) ([]string, error) {
	out := make([]string, 0, len(lines))
	for i, line := range lines {
		pub, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, types.NewValidationError(fmt.Sprintf("keys[%d]", i), err.Error())
		}
		key := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub)))
		if comment != "" {
			key += " " + comment
		}
		out = append(out, key)
	}
	return out, nil
}

func writeKeysCommand(file string, keys []string) string {
	if len(keys) == 0 {
		return ": > " + file
	}
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = "'" + strings.ReplaceAll(k, "'", `'"'"'`) + "'"
	}
	return "printf '%s\\n' " + strings.Join(quoted, " ") + " > " + file
}

func (h *System) processLicense(ctx context.Context) error {
	lic, ok, err := decodeSection[types.License](h.decl, "License")
	if err != nil || !ok {
		return err
	}
	onboard := h.deps.Device.Onboard()

	switch lic.LicenseType {
	case "regKey":
		if lic.RegKey == "" {
			return nil
		}
		h.logger.Info().Msg("Licensing with registration key")
		return onboard.License(ctx, bigip.LicenseOptions{
			RegKey:    lic.RegKey,
			AddOnKeys: lic.AddOnKeys,
			Overwrite: lic.Overwrite,
		})
	case "licensePool":
		return h.licenseFromPool(ctx, lic)
	}
	return fmt.Errorf("unsupported license type %q", lic.LicenseType)
}

func (h *System) licenseFromPool(ctx context.Context, lic types.License) error {
	if err := resolveAll(ctx, h.deps.Resolver, lic.BigIQHost); err != nil {
		return err
	}
	opts, err := h.bigIQOptions(ctx, lic)
	if err != nil {
		return err
	}
	onboard := h.deps.Device.Onboard()

	revokeFrom := lic.RevokeFrom
	if lic.RevokeCurrent && revokeFrom == "" {
		revokeFrom = lic.LicensePool
	}
	if revokeFrom != "" {
		if opts.Reachable && h.deps.Guard != nil {
			// revocation restarts the management process when this agent runs on the device
			if err := h.deps.Guard.BeforeRevoke(ctx, PendingRevocation{
				BigIQHost:  lic.BigIQHost,
				PoolName:   lic.LicensePool,
				RevokeFrom: revokeFrom,
			}); err != nil {
				return err
			}
		}
		revoke := opts
		revoke.PoolName = revokeFrom
		h.logger.Info().Str("pool", revokeFrom).Msg("Revoking license")
		if err := onboard.RevokeLicenseViaBigIQ(ctx, revoke); err != nil {
			return err
		}
		if lic.RevokeCurrent {
			return nil
		}
		opts.Overwrite = true
	}

	h.logger.Info().Str("pool", lic.LicensePool).Str("bigIq", lic.BigIQHost).Msg("Licensing from pool")
	return onboard.LicenseViaBigIQ(ctx, opts)
}

func (h *System) bigIQOptions(ctx context.Context, lic types.License) (bigip.BigIQOptions, error) {
	dev := h.deps.Device
	opts := bigip.BigIQOptions{
		Host:          lic.BigIQHost,
		Username:      lic.BigIQUsername,
		Password:      lic.BigIQPassword,
		PoolName:      lic.LicensePool,
		SKUKeyword1:   lic.SKUKeyword1,
		SKUKeyword2:   lic.SKUKeyword2,
		UnitOfMeasure: lic.UnitOfMeasure,
		Tenant:        lic.TenantIdentifier,
		Overwrite:     lic.Overwrite,
		Reachable:     lic.IsReachable(),
		Hypervisor:    lic.Hypervisor,
		BigIPHost:     dev.Host(),
		BigIPUsername: lic.BigIPUsername,
		BigIPPassword: lic.BigIPPassword,
		Poll:          h.deps.Timing.LicensePoll,
	}

	// the BIG-IQ cannot reach "localhost"
	if isLocal(opts.BigIPHost) {
		info, err := dev.DeviceInfo(ctx)
		if err != nil {
			return opts, err
		}
		opts.BigIPHost = info.ManagementAddress
	}
	return opts, nil
}

func isLocal(host string) bool {
	if host == "" || host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
