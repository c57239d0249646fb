// Package validator rejects declarations before any device call is made.
// Structural checks run first, then the cross-field rules, serially; the
// first failing rule stops the chain.
package validator

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"sort"
	"strings"

	playground "github.com/go-playground/validator/v10"

	"github.com/cuemby/onboard/pkg/bigip"
	"github.com/cuemby/onboard/pkg/parser"
	"github.com/cuemby/onboard/pkg/types"
)

// SchemaVersions lists the declaration schema versions this agent accepts,
// newest first.
var SchemaVersions = []string{"1.3.0", "1.2.0", "1.1.0", "1.0.0"}

// structs checks the validate tags on the typed class structs. Fields are
// reported by their declaration property name.
var structs = newStructValidator()

func newStructValidator() *playground.Validate {
	v := playground.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func fieldMessage(fe playground.FieldError) string {
	if fe.Tag() == "required" {
		return fmt.Sprintf("%s is required", fe.Field())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}

// Env describes the device a declaration is validated for
type Env struct {
	// OnBigIQ is set when the agent itself runs on a BIG-IQ
	OnBigIQ bool
}

// Rule checks one cross-field constraint on a parsed Common tenant
type Rule struct {
	Name  string
	Check func(common map[string]any, env Env) error
}

// Rules is the ordered business rule chain
var Rules = []Rule{
	{Name: "classes", Check: checkClasses},
	{Name: "license", Check: checkLicense},
	{Name: "network", Check: checkNetwork},
	{Name: "routeDomains", Check: checkRouteDomains},
	{Name: "deviceGroups", Check: checkDeviceGroups},
	{Name: "authentication", Check: checkAuthentication},
}

// Validate checks decl and returns a *types.ValidationError on the first failure
func Validate(decl types.Declaration, env Env) error {
	if err := checkRoot(decl); err != nil {
		return err
	}
	cfg, err := parser.Parse(decl)
	if err != nil {
		return invalid("declaration", err.Error())
	}
	common := cfg.Common()
	for _, rule := range Rules {
		if err := rule.Check(common, env); err != nil {
			return err
		}
	}
	return nil
}

func invalid(field, message string) *types.ValidationError {
	err := types.NewValidationError(field, message)
	err.Errors = []string{fmt.Sprintf("%s: %s", field, message)}
	return err
}

func checkRoot(decl types.Declaration) error {
	if decl == nil {
		return invalid("declaration", "declaration is required")
	}
	if decl.IsParsed() {
		return nil
	}
	version, _ := decl["schemaVersion"].(string)
	if version == "" {
		return invalid("schemaVersion", "schemaVersion is required")
	}
	if !supported(version) {
		return invalid("schemaVersion", fmt.Sprintf("unsupported schema version %s", version))
	}
	if class, _ := decl["class"].(string); class != "Device" {
		return invalid("class", fmt.Sprintf("expected Device, got %q", class))
	}
	return nil
}

func supported(version string) bool {
	for _, v := range SchemaVersions {
		if v == version {
			return true
		}
	}
	return false
}

// checkClasses decodes every class object into its typed form and checks
// the struct tags on it, so that type mismatches and missing required
// properties are reported by path
func checkClasses(common map[string]any, _ Env) error {
	for _, class := range sortedKeys(common) {
		value := common[class]
		switch {
		case types.SingletonClasses[class]:
			if err := checkObject(class, class, value); err != nil {
				return err
			}
		case types.NamedClasses[class]:
			instances, _ := value.(map[string]any)
			for _, name := range sortedKeys(instances) {
				if err := checkObject(class+"/"+name, class, instances[name]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func checkObject(path, class string, value any) error {
	decoded, err := types.DecodeClass(class, value)
	if err != nil {
		return invalid(path, err.Error())
	}
	if reflect.ValueOf(decoded).Kind() != reflect.Struct {
		return nil
	}
	if err := structs.Struct(decoded); err != nil {
		var fields playground.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			return invalid(path, fieldMessage(fields[0]))
		}
		return invalid(path, err.Error())
	}
	return nil
}

func checkLicense(common map[string]any, env Env) error {
	raw, ok := common["License"]
	if !ok {
		return nil
	}
	license, err := types.Decode[types.License](raw)
	if err != nil {
		return invalid("License", err.Error())
	}

	switch license.LicenseType {
	case "regKey":
		if license.RegKey == "" {
			return invalid("License", "regKey is required for licenseType regKey")
		}
	case "licensePool":
		if license.LicensePool == "" {
			return invalid("License", "licensePool is required for licenseType licensePool")
		}
		if license.BigIQHost == "" && !env.OnBigIQ {
			return invalid("License", "bigIqHost is required unless running on BIG-IQ")
		}
		if license.BigIQHost != "" && (license.BigIQUsername == "" || license.BigIQPassword == "") {
			return invalid("License", "bigIqUsername and bigIqPassword are required with bigIqHost")
		}
		if !license.IsReachable() && license.Hypervisor == "" {
			return invalid("License", "hypervisor is required when the device is not reachable from BIG-IQ")
		}
		if license.IsReachable() && license.BigIPPassword == "" && license.BigIQHost != "" {
			return invalid("License", "bigIpPassword is required when BIG-IQ installs the license")
		}
	default:
		return invalid("License", fmt.Sprintf("unknown licenseType %q", license.LicenseType))
	}
	return nil
}

// checkNetwork requires self IPs to use a declared VLAN and a CIDR address
func checkNetwork(common map[string]any, _ Env) error {
	vlans, _ := common["VLAN"].(map[string]any)
	selfIPs, err := types.DecodeNamed[types.SelfIP](common["SelfIp"])
	if err != nil {
		return invalid("SelfIp", err.Error())
	}
	for _, name := range sortedKeys(selfIPs) {
		self := selfIPs[name]
		vlan := bigip.StripCommon(self.VLAN)
		if _, declared := vlans[vlan]; !declared && !strings.HasPrefix(self.VLAN, "/") {
			return invalid("SelfIp/"+name, fmt.Sprintf("vlan %s is not declared", self.VLAN))
		}
		address := self.Address
		if i := strings.Index(address, "%"); i >= 0 {
			if slash := strings.Index(address, "/"); slash > i {
				address = address[:i] + address[slash:]
			}
		}
		if _, _, err := net.ParseCIDR(address); err != nil {
			return invalid("SelfIp/"+name, fmt.Sprintf("address %s must be in CIDR notation", self.Address))
		}
	}
	return nil
}

func checkRouteDomains(common map[string]any, _ Env) error {
	domains, err := types.DecodeNamed[types.RouteDomain](common["RouteDomain"])
	if err != nil {
		return invalid("RouteDomain", err.Error())
	}
	seen := map[string]string{}
	for _, name := range sortedKeys(domains) {
		id := bigip.String(domains[name].ID)
		if other, dup := seen[id]; dup {
			return invalid("RouteDomain/"+name, fmt.Sprintf("id %s is already used by %s", id, other))
		}
		seen[id] = name
	}
	return nil
}

func checkDeviceGroups(common map[string]any, _ Env) error {
	groups, err := types.DecodeNamed[types.DeviceGroup](common["DeviceGroup"])
	if err != nil {
		return invalid("DeviceGroup", err.Error())
	}
	for _, name := range sortedKeys(groups) {
		g := groups[name]
		if g.Type != "sync-failover" && g.Type != "sync-only" {
			return invalid("DeviceGroup/"+name, fmt.Sprintf("unknown type %q", g.Type))
		}
		if g.Owner == "" || len(g.Members) == 0 {
			continue
		}
		owner := bigip.StripCommon(g.Owner)
		found := false
		for _, m := range g.Members {
			if bigip.StripCommon(m) == owner {
				found = true
				break
			}
		}
		if !found {
			return invalid("DeviceGroup/"+name, fmt.Sprintf("owner %s must be a member", g.Owner))
		}
	}
	return nil
}

func checkAuthentication(common map[string]any, _ Env) error {
	raw, ok := common["Authentication"]
	if !ok {
		return nil
	}
	auth, err := types.Decode[types.Authentication](raw)
	if err != nil {
		return invalid("Authentication", err.Error())
	}
	switch auth.EnabledSourceType {
	case "", "local":
	case "radius":
		if auth.Radius == nil || auth.Radius.Servers.Primary == nil {
			return invalid("Authentication", "radius requires a primary server")
		}
	case "ldap":
		if auth.LDAP == nil || len(auth.LDAP.Servers) == 0 {
			return invalid("Authentication", "ldap requires servers")
		}
	case "tacacs":
		if auth.TACACS == nil || len(auth.TACACS.Servers) == 0 || auth.TACACS.Secret == "" {
			return invalid("Authentication", "tacacs requires servers and a secret")
		}
	default:
		return invalid("Authentication", fmt.Sprintf("unknown enabledSourceType %q", auth.EnabledSourceType))
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
