// Package bigip is the device management client: authenticated REST calls
// against the appliance's management API plus the clustering and onboarding
// helpers built on top of them.
package bigip

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/onboard/pkg/types"
)

// ErrNotFound is wrapped by errors for objects the device does not have
var ErrNotFound = errors.New("object not found")

// IsNotFound reports whether err wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Device is a session with one appliance
type Device interface {
	List(ctx context.Context, path string) (any, error)
	Create(ctx context.Context, path string, body any) (any, error)
	Modify(ctx context.Context, path string, body any) (any, error)
	Replace(ctx context.Context, path string, body any) (any, error)
	// CreateOrModify creates path/name, modifying the existing object when it is already present
	CreateOrModify(ctx context.Context, path string, body map[string]any) (any, error)
	Delete(ctx context.Context, path string) error

	DeviceInfo(ctx context.Context) (*DeviceInfo, error)
	Active(ctx context.Context) (bool, error)
	RebootRequired(ctx context.Context) (bool, error)
	Reboot(ctx context.Context) error
	Save(ctx context.Context) error
	Bash(ctx context.Context, command string) (string, error)

	Host() string
	User() string
	// SetPassword re-initializes the session after the session user's password changed
	SetPassword(password string)

	Cluster() Cluster
	Onboard() Onboarder
}

// Cluster groups device trust and device group operations
type Cluster interface {
	ConfigSyncIP(ctx context.Context, ip string) error
	AddToTrust(ctx context.Context, host, username, password string) error
	AreInTrustGroup(ctx context.Context, hosts []string) ([]string, error)
	SyncComplete(ctx context.Context, policy RetryPolicy) error
	CreateDeviceGroup(ctx context.Context, name string, opts DeviceGroupOptions, devices []string) error
	AddToDeviceGroup(ctx context.Context, deviceName, groupName string) error
	HasDeviceGroup(ctx context.Context, name string) (bool, error)
	DeleteDeviceGroup(ctx context.Context, name string) error
	Sync(ctx context.Context, groupName string) error
	JoinCluster(ctx context.Context, opts JoinOptions) error
}

// Onboarder groups one-shot onboarding operations
type Onboarder interface {
	SetDBVars(ctx context.Context, vars map[string]any) error
	Hostname(ctx context.Context, hostname string) error
	Password(ctx context.Context, user, newPassword, oldPassword string) error
	// Provision applies module levels and returns the modules that changed
	Provision(ctx context.Context, modules map[string]string) ([]string, error)
	License(ctx context.Context, opts LicenseOptions) error
	LicenseViaBigIQ(ctx context.Context, opts BigIQOptions) error
	RevokeLicenseViaBigIQ(ctx context.Context, opts BigIQOptions) error
}

// Connector opens sessions to devices other than the local one
type Connector interface {
	Connect(ctx context.Context, target types.Target) (Device, error)
}

// DeviceInfo describes the appliance behind a session
type DeviceInfo struct {
	Hostname          string `json:"hostname"`
	Version           string `json:"version"`
	Product           string `json:"product"`
	ManagementAddress string `json:"managementAddress"`
	BaseMAC           string `json:"baseMac"`
	MachineID         string `json:"machineId"`
}

// IsBigIQ reports whether the device is a BIG-IQ rather than a BIG-IP
func (d *DeviceInfo) IsBigIQ() bool {
	return d != nil && strings.EqualFold(d.Product, "BIG-IQ")
}

// RetryPolicy is a bounded poll used by long-running device operations
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// DeviceGroupOptions are the mutable settings of a device group
type DeviceGroupOptions struct {
	Type            string
	AutoSync        bool
	SaveOnAutoSync  bool
	NetworkFailover bool
	FullLoadOnSync  bool
	ASMSync         bool
}

// JoinOptions describe joining this device to a cluster owned by Remote
type JoinOptions struct {
	GroupName string
	// Remote is a session with the device group owner
	Remote Device
	// LocalHost, LocalUsername and LocalPassword are how Remote reaches this device
	LocalHost     string
	LocalUsername string
	LocalPassword string
	Poll          RetryPolicy
}

// LicenseOptions are used for registration key licensing
type LicenseOptions struct {
	RegKey    string
	AddOnKeys []string
	Overwrite bool
}

// BigIQOptions are used for license pool licensing
type BigIQOptions struct {
	Host          string
	Username      string
	Password      string
	PoolName      string
	SKUKeyword1   string
	SKUKeyword2   string
	UnitOfMeasure string
	Tenant        string
	Overwrite     bool

	// Reachable means the BIG-IQ can reach the device to install the license itself
	Reachable  bool
	Hypervisor string

	// BigIP* identify this device to the BIG-IQ
	BigIPHost     string
	BigIPUsername string
	BigIPPassword string

	Poll RetryPolicy
}

// CommonPath appends a Common-partition object name to a collection path
func CommonPath(collection, name string) string {
	return collection + "/~" + types.CommonTenant + "~" + strings.ReplaceAll(name, "/", "~")
}

// Query appends OData query parameters to a path
func Query(path string, params map[string]string) string {
	if len(params) == 0 {
		return path
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + values.Encode()
}

// Items returns the instances of a list response
func Items(resp any) []map[string]any {
	switch v := resp.(type) {
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case []map[string]any:
		return v
	case map[string]any:
		return []map[string]any{v}
	}
	return nil
}

// StripCommon removes a leading /Common/ from a reference value
func StripCommon(value string) string {
	return strings.TrimPrefix(value, "/"+types.CommonTenant+"/")
}

// String renders a scalar the way the device expects it in a body
func String(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
