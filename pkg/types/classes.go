package types

import (
	"encoding/json"
	"fmt"
)

// Singleton classes are stored directly under the tenant: Common.DNS = {...}
var SingletonClasses = map[string]bool{
	"System":          true,
	"DNS":             true,
	"NTP":             true,
	"License":         true,
	"Provision":       true,
	"DbVariables":     true,
	"ConfigSync":      true,
	"FailoverUnicast": true,
	"DeviceTrust":     true,
	"Analytics":       true,
	"Authentication":  true,
}

// Named classes are keyed by instance name: Common.VLAN.<name> = {...}
var NamedClasses = map[string]bool{
	"User":            true,
	"VLAN":            true,
	"SelfIp":          true,
	"Route":           true,
	"RouteDomain":     true,
	"ManagementRoute": true,
	"DeviceGroup":     true,
	"RemoteAuthRole":  true,
}

// ClassesOfTruth are the classes this agent reconciles destructively
var ClassesOfTruth = []string{
	"hostname",
	"DbVariables",
	"DNS",
	"NTP",
	"Provision",
	"VLAN",
	"SelfIp",
	"Route",
	"RouteDomain",
	"ManagementRoute",
	"ConfigSync",
	"FailoverUnicast",
	"DeviceGroup",
	"DeviceTrust",
	"Analytics",
	"Authentication",
	"RemoteAuthRole",
}

// TenantKey records which tenant declared an object
const TenantKey = "tenant"

// Classes whose object is a free-form settings map, or that already own a
// "tenant" property, are not stamped with their tenant
var unstampedClasses = map[string]bool{
	"Provision":   true,
	"DbVariables": true,
	"License":     true,
}

// StampTenant sets TenantKey on every class object under classes: each
// instance of a named class and each singleton object.
func StampTenant(classes map[string]any, tenant string) {
	for class, v := range classes {
		obj, ok := v.(map[string]any)
		if !ok || unstampedClasses[class] {
			continue
		}
		switch {
		case NamedClasses[class]:
			for _, item := range obj {
				if inst, ok := item.(map[string]any); ok {
					inst[TenantKey] = tenant
				}
			}
		case SingletonClasses[class]:
			obj[TenantKey] = tenant
		}
	}
}

// IsClassOfTruth reports whether the agent owns the given Common key
func IsClassOfTruth(key string) bool {
	for _, c := range ClassesOfTruth {
		if c == key {
			return true
		}
	}
	return false
}

// KnownClass reports whether a declaration class name is understood
func KnownClass(class string) bool {
	return SingletonClasses[class] || NamedClasses[class]
}

// Decode converts a JSON-shaped value into a typed class struct
func Decode[T any](v any) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}

// DecodeNamed converts a named class map into typed structs keyed by name.
// The map key is copied into the struct's Name when the struct leaves it empty.
func DecodeNamed[T any, PT interface {
	*T
	SetName(string)
}](v any) (map[string]*T, error) {
	raw, ok := v.(map[string]any)
	if !ok {
		if v == nil {
			return map[string]*T{}, nil
		}
		return nil, fmt.Errorf("expected object of named instances, got %T", v)
	}
	out := make(map[string]*T, len(raw))
	for name, item := range raw {
		decoded, err := Decode[T](item)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		PT(&decoded).SetName(name)
		out[name] = &decoded
	}
	return out, nil
}

// DecodeClass decodes a declaration object by its class discriminator
func DecodeClass(class string, v any) (any, error) {
	switch class {
	case "System":
		return Decode[System](v)
	case "DNS":
		return Decode[DNS](v)
	case "NTP":
		return Decode[NTP](v)
	case "License":
		return Decode[License](v)
	case "Provision":
		return Decode[map[string]string](v)
	case "DbVariables":
		return Decode[map[string]any](v)
	case "ConfigSync":
		return Decode[ConfigSync](v)
	case "FailoverUnicast":
		return Decode[FailoverUnicast](v)
	case "DeviceTrust":
		return Decode[DeviceTrust](v)
	case "Analytics":
		return Decode[Analytics](v)
	case "Authentication":
		return Decode[Authentication](v)
	case "User":
		return Decode[User](v)
	case "VLAN":
		return Decode[VLAN](v)
	case "SelfIp":
		return Decode[SelfIP](v)
	case "Route":
		return Decode[Route](v)
	case "RouteDomain":
		return Decode[RouteDomain](v)
	case "ManagementRoute":
		return Decode[ManagementRoute](v)
	case "DeviceGroup":
		return Decode[DeviceGroup](v)
	case "RemoteAuthRole":
		return Decode[RemoteAuthRole](v)
	}
	return nil, fmt.Errorf("unknown class %s", class)
}

type System struct {
	Hostname                 string `json:"hostname,omitempty"`
	ConsoleInactivityTimeout *int   `json:"consoleInactivityTimeout,omitempty"`
	CLIInactivityTimeout     *int   `json:"cliInactivityTimeout,omitempty"`
	AutoPhonehome            *bool  `json:"autoPhonehome,omitempty"`
}

type DNS struct {
	NameServers []string `json:"nameServers,omitempty"`
	Search      []string `json:"search,omitempty"`
}

type NTP struct {
	Servers  []string `json:"servers,omitempty"`
	Timezone string   `json:"timezone,omitempty"`
}

// License covers both registration-key and license-pool licensing
type License struct {
	LicenseType      string   `json:"licenseType" validate:"required"`
	RegKey           string   `json:"regKey,omitempty"`
	AddOnKeys        []string `json:"addOnKeys,omitempty"`
	Overwrite        bool     `json:"overwrite,omitempty"`
	BigIQHost        string   `json:"bigIqHost,omitempty"`
	BigIQUsername    string   `json:"bigIqUsername,omitempty"`
	BigIQPassword    string   `json:"bigIqPassword,omitempty"`
	LicensePool      string   `json:"licensePool,omitempty"`
	SKUKeyword1      string   `json:"skuKeyword1,omitempty"`
	SKUKeyword2      string   `json:"skuKeyword2,omitempty"`
	UnitOfMeasure    string   `json:"unitOfMeasure,omitempty"`
	Reachable        *bool    `json:"reachable,omitempty"`
	Hypervisor       string   `json:"hypervisor,omitempty"`
	BigIPUsername    string   `json:"bigIpUsername,omitempty"`
	BigIPPassword    string   `json:"bigIpPassword,omitempty"`
	RevokeFrom       string   `json:"revokeFrom,omitempty"`
	RevokeCurrent    bool     `json:"revokeCurrent,omitempty"`
	TenantIdentifier string   `json:"tenant,omitempty"`
}

// IsReachable defaults to true when unset
func (l License) IsReachable() bool {
	return l.Reachable == nil || *l.Reachable
}

type ConfigSync struct {
	ConfigsyncIP string `json:"configsyncIp" validate:"required"`
}

type FailoverUnicast struct {
	Address string `json:"address"`
	Port    int    `json:"port,omitempty"`
}

type DeviceTrust struct {
	LocalUsername  string `json:"localUsername" validate:"required"`
	LocalPassword  string `json:"localPassword" validate:"required"`
	RemoteHost     string `json:"remoteHost" validate:"required"`
	RemoteUsername string `json:"remoteUsername" validate:"required"`
	RemotePassword string `json:"remotePassword" validate:"required"`
}

type Analytics struct {
	DebugEnabled       bool     `json:"debugEnabled,omitempty"`
	Interval           int      `json:"interval,omitempty"`
	OffboxEnabled      bool     `json:"offboxEnabled,omitempty"`
	OffboxProtocol     string   `json:"offboxProtocol,omitempty"`
	OffboxTCPAddresses []string `json:"offboxTcpAddresses,omitempty"`
	OffboxTCPPort      int      `json:"offboxTcpPort,omitempty"`
	SourceID           string   `json:"sourceId,omitempty"`
	TenantID           string   `json:"tenantId,omitempty"`
}

type Authentication struct {
	EnabledSourceType   string               `json:"enabledSourceType,omitempty"`
	Fallback            bool                 `json:"fallback,omitempty"`
	RemoteUsersDefaults *RemoteUsersDefaults `json:"remoteUsersDefaults,omitempty"`
	Radius              *Radius              `json:"radius,omitempty"`
	LDAP                *LDAP                `json:"ldap,omitempty"`
	TACACS              *TACACS              `json:"tacacs,omitempty"`
}

type RemoteUsersDefaults struct {
	Role            string `json:"role,omitempty"`
	PartitionAccess string `json:"partitionAccess,omitempty"`
	TerminalAccess  string `json:"terminalAccess,omitempty"`
}

type Radius struct {
	ServiceType string        `json:"serviceType,omitempty"`
	Servers     RadiusServers `json:"servers"`
}

type RadiusServers struct {
	Primary   *RadiusServer `json:"primary,omitempty"`
	Secondary *RadiusServer `json:"secondary,omitempty"`
}

type RadiusServer struct {
	Server string `json:"server"`
	Port   int    `json:"port,omitempty"`
	Secret string `json:"secret,omitempty"`
}

type LDAP struct {
	BindDN          string   `json:"bindDn,omitempty"`
	BindPassword    string   `json:"bindPassword,omitempty"`
	SearchBaseDN    string   `json:"searchBaseDn,omitempty"`
	Servers         []string `json:"servers,omitempty"`
	Port            int      `json:"port,omitempty"`
	SSL             string   `json:"ssl,omitempty"`
	UserTemplate    string   `json:"userTemplate,omitempty"`
	Version         int      `json:"version,omitempty"`
	CheckRolesGroup bool     `json:"checkRolesGroup,omitempty"`
}

type TACACS struct {
	Protocol   string   `json:"protocol,omitempty"`
	Secret     string   `json:"secret,omitempty"`
	Servers    []string `json:"servers,omitempty"`
	Service    string   `json:"service,omitempty"`
	Accounting string   `json:"accounting,omitempty"`
}

type User struct {
	Name            string            `json:"-"`
	UserType        string            `json:"userType"`
	OldPassword     string            `json:"oldPassword,omitempty"`
	NewPassword     string            `json:"newPassword,omitempty"`
	Password        string            `json:"password,omitempty"`
	Shell           string            `json:"shell,omitempty"`
	PartitionAccess map[string]Access `json:"partitionAccess,omitempty"`
	Keys            []string          `json:"keys,omitempty"`
}

func (u *User) SetName(name string) { u.Name = name }

type Access struct {
	Role string `json:"role"`
}

type VLANInterface struct {
	Name   string `json:"name"`
	Tagged *bool  `json:"tagged,omitempty"`
}

type VLAN struct {
	Name       string          `json:"-"`
	MTU        int             `json:"mtu,omitempty"`
	Tag        *int            `json:"tag,omitempty"`
	Interfaces []VLANInterface `json:"interfaces,omitempty"`
	CMPHash    string          `json:"cmpHash,omitempty"`
}

func (v *VLAN) SetName(name string) { v.Name = name }

type SelfIP struct {
	Name         string `json:"-"`
	Address      string `json:"address" validate:"required"`
	VLAN         string `json:"vlan" validate:"required"`
	AllowService any    `json:"allowService,omitempty"`
	TrafficGroup string `json:"trafficGroup,omitempty"`
}

func (s *SelfIP) SetName(name string) { s.Name = name }

type Route struct {
	Name    string `json:"-"`
	GW      string `json:"gw" validate:"required"`
	Network string `json:"network" validate:"required"`
	MTU     int    `json:"mtu,omitempty"`
}

func (r *Route) SetName(name string) { r.Name = name }

type RouteDomain struct {
	Name            string   `json:"-"`
	ID              any      `json:"id" validate:"required"`
	Parent          string   `json:"parent,omitempty"`
	ConnectionLimit int      `json:"connectionLimit,omitempty"`
	Strict          *bool    `json:"strict,omitempty"`
	VLANs           []string `json:"vlans,omitempty"`
}

func (r *RouteDomain) SetName(name string) { r.Name = name }

type ManagementRoute struct {
	Name    string `json:"-"`
	GW      string `json:"gw" validate:"required"`
	Network string `json:"network" validate:"required"`
	MTU     int    `json:"mtu,omitempty"`
}

func (m *ManagementRoute) SetName(name string) { m.Name = name }

type DeviceGroup struct {
	Name            string   `json:"-"`
	Type            string   `json:"type" validate:"required"`
	Owner           string   `json:"owner,omitempty"`
	Members         []string `json:"members,omitempty"`
	AutoSync        bool     `json:"autoSync,omitempty"`
	SaveOnAutoSync  bool     `json:"saveOnAutoSync,omitempty"`
	NetworkFailover bool     `json:"networkFailover,omitempty"`
	FullLoadOnSync  bool     `json:"fullLoadOnSync,omitempty"`
	ASMSync         bool     `json:"asmSync,omitempty"`
}

func (d *DeviceGroup) SetName(name string) { d.Name = name }

type RemoteAuthRole struct {
	Name          string `json:"-"`
	Attribute     string `json:"attribute" validate:"required"`
	Console       string `json:"console,omitempty"`
	LineOrder     *int   `json:"lineOrder" validate:"required"`
	Role          string `json:"role,omitempty"`
	RemoteAccess  bool   `json:"remoteAccess,omitempty"`
	UserPartition string `json:"userPartition,omitempty"`
}

func (r *RemoteAuthRole) SetName(name string) { r.Name = name }
