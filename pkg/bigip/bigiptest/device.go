// Package bigiptest provides an in-memory bigip.Device that records every
// call, for use in package tests.
package bigiptest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/onboard/pkg/bigip"
	"github.com/cuemby/onboard/pkg/types"
)

// Call is one recorded device operation
type Call struct {
	Method string
	Path   string
	Body   any
}

// Device is a fake appliance. Collections are created on first Create and
// keyed by the body's name; every other path is a singleton object.
type Device struct {
	mu sync.Mutex

	HostName string
	Username string
	Password string
	Info     bigip.DeviceInfo

	// ActiveSequence is consumed one value per Active call; once empty Active returns true
	ActiveSequence []bool
	NeedsReboot    bool
	BashOutput     map[string]string

	objects     map[string]map[string]any
	collections map[string]map[string]map[string]any
	failures    map[string]error
	failOnce    map[string]error
	delays      map[string]time.Duration
	calls       []Call

	ClusterFake *Cluster
	OnboardFake *Onboard
}

// New returns a fake device that reports itself as bigip1.example.com
func New() *Device {
	d := &Device{
		HostName: "localhost",
		Username: "admin",
		Password: "admin",
		Info: bigip.DeviceInfo{
			Hostname:          "bigip1.example.com",
			Version:           "17.1.0",
			Product:           "BIG-IP",
			ManagementAddress: "10.0.0.1",
			BaseMAC:           "00:11:22:33:44:55",
		},
		BashOutput:  map[string]string{},
		objects:     map[string]map[string]any{},
		collections: map[string]map[string]map[string]any{},
		failures:    map[string]error{},
		failOnce:    map[string]error{},
		delays:      map[string]time.Duration{},
	}
	d.ClusterFake = &Cluster{d: d, Groups: map[string]bool{}}
	d.OnboardFake = &Onboard{d: d, Provisioned: map[string]string{}}
	return d
}

func key(method, path string) string {
	return method + " " + path
}

// Fail makes every call of method on path return err. An empty method matches any method.
func (d *Device) Fail(method, path string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[key(method, path)] = err
}

// FailOnce makes the next call of method on path return err
func (d *Device) FailOnce(method, path string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOnce[key(method, path)] = err
}

// Delay holds calls of method on path for the given duration before they complete
func (d *Device) Delay(method, path string, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delays[key(method, path)] = delay
}

// SetObject seeds a singleton object
func (d *Device) SetObject(path string, obj map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[path] = types.DeepCopyMap(obj)
}

// SetCollection seeds a collection. Items are keyed by their name property.
func (d *Device) SetCollection(path string, items ...map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	coll := map[string]map[string]any{}
	for _, item := range items {
		name, _ := item["name"].(string)
		coll[name] = types.DeepCopyMap(item)
	}
	d.collections[path] = coll
}

// Object returns a copy of a singleton or collection item, or nil
func (d *Device) Object(path string) map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	if obj, ok := d.objects[path]; ok {
		return types.DeepCopyMap(obj)
	}
	if base, name, ok := splitItem(path); ok {
		if item, ok := d.collections[base][name]; ok {
			return types.DeepCopyMap(item)
		}
	}
	return nil
}

// Calls returns every recorded call in completion order
func (d *Device) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallsFor returns the recorded calls of one method
func (d *Device) CallsFor(method string) []Call {
	var out []Call
	for _, c := range d.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Paths returns the paths of the recorded calls of one method, in order
func (d *Device) Paths(method string) []string {
	var out []string
	for _, c := range d.CallsFor(method) {
		out = append(out, c.Path)
	}
	return out
}

// Reset forgets recorded calls but keeps device state
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// record waits out any configured delay, then records the call and
// returns the configured failure for it.
func (d *Device) record(ctx context.Context, method, path string, body any) error {
	d.mu.Lock()
	delay := d.delays[key(method, path)]
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Method: method, Path: path, Body: types.DeepCopyValue(body)})
	if err, ok := d.failOnce[key(method, path)]; ok {
		delete(d.failOnce, key(method, path))
		return err
	}
	if err, ok := d.failures[key(method, path)]; ok {
		return err
	}
	if err, ok := d.failures[key("", path)]; ok {
		return err
	}
	return nil
}

func stripQuery(path string) string {
	if i := strings.Index(path, "?"); i >= 0 {
		return path[:i]
	}
	return path
}

func splitItem(path string) (string, string, bool) {
	marker := "/~" + types.CommonTenant + "~"
	i := strings.LastIndex(path, marker)
	if i < 0 {
		return "", "", false
	}
	return path[:i], strings.ReplaceAll(path[i+len(marker):], "~", "/"), true
}

func notFound(method, path string) error {
	return fmt.Errorf("%w: %w", bigip.ErrNotFound, &types.DeviceError{
		Method:     method,
		Path:       path,
		StatusCode: 404,
		Message:    "01020036:3: The requested object was not found.",
	})
}

func toMap(body any) map[string]any {
	if m, ok := body.(map[string]any); ok {
		return types.DeepCopyMap(m)
	}
	normalized, err := types.Normalize(body)
	if err != nil {
		return map[string]any{}
	}
	m, _ := normalized.(map[string]any)
	return m
}

func merge(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

func (d *Device) List(ctx context.Context, path string) (any, error) {
	if err := d.record(ctx, "list", path, nil); err != nil {
		return nil, err
	}
	path = stripQuery(path)

	d.mu.Lock()
	defer d.mu.Unlock()
	if coll, ok := d.collections[path]; ok {
		names := make([]string, 0, len(coll))
		for name := range coll {
			names = append(names, name)
		}
		sort.Strings(names)
		items := make([]any, 0, len(names))
		for _, name := range names {
			items = append(items, types.DeepCopyMap(coll[name]))
		}
		return items, nil
	}
	if obj, ok := d.objects[path]; ok {
		return types.DeepCopyMap(obj), nil
	}
	if base, name, ok := splitItem(path); ok {
		if item, ok := d.collections[base][name]; ok {
			return types.DeepCopyMap(item), nil
		}
	}
	return nil, notFound("GET", path)
}

func (d *Device) Create(ctx context.Context, path string, body any) (any, error) {
	if err := d.record(ctx, "create", path, body); err != nil {
		return nil, err
	}

	obj := toMap(body)
	if _, isCommand := obj["command"]; isCommand {
		return obj, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	name, _ := obj["name"].(string)
	if name == "" {
		d.objects[path] = obj
		return types.DeepCopyMap(obj), nil
	}
	coll, ok := d.collections[path]
	if !ok {
		coll = map[string]map[string]any{}
		d.collections[path] = coll
	}
	if _, exists := coll[name]; exists {
		return nil, &types.DeviceError{Method: "POST", Path: path, StatusCode: 409, Message: "object already exists"}
	}
	coll[name] = obj
	return types.DeepCopyMap(obj), nil
}

func (d *Device) Modify(ctx context.Context, path string, body any) (any, error) {
	if err := d.record(ctx, "modify", path, body); err != nil {
		return nil, err
	}
	return d.update(path, toMap(body), false), nil
}

func (d *Device) Replace(ctx context.Context, path string, body any) (any, error) {
	if err := d.record(ctx, "replace", path, body); err != nil {
		return nil, err
	}
	return d.update(path, toMap(body), true), nil
}

func (d *Device) update(path string, obj map[string]any, replace bool) map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()

	if base, name, ok := splitItem(path); ok {
		if coll, ok := d.collections[base]; ok {
			item, exists := coll[name]
			if !exists || replace {
				item = map[string]any{"name": name}
				coll[name] = item
			}
			merge(item, obj)
			return types.DeepCopyMap(item)
		}
	}

	current, exists := d.objects[path]
	if !exists || replace {
		current = map[string]any{}
		d.objects[path] = current
	}
	merge(current, obj)
	return types.DeepCopyMap(current)
}

func (d *Device) CreateOrModify(ctx context.Context, path string, body map[string]any) (any, error) {
	if err := d.record(ctx, "createOrModify", path, body); err != nil {
		return nil, err
	}

	obj := types.DeepCopyMap(body)
	name, _ := obj["name"].(string)

	d.mu.Lock()
	defer d.mu.Unlock()
	coll, ok := d.collections[path]
	if !ok {
		coll = map[string]map[string]any{}
		d.collections[path] = coll
	}
	if existing, ok := coll[name]; ok {
		merge(existing, obj)
		return types.DeepCopyMap(existing), nil
	}
	coll[name] = obj
	return types.DeepCopyMap(obj), nil
}

func (d *Device) Delete(ctx context.Context, path string) error {
	if err := d.record(ctx, "delete", path, nil); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if base, name, ok := splitItem(path); ok {
		if coll, ok := d.collections[base]; ok {
			delete(coll, name)
			return nil
		}
	}
	delete(d.objects, path)
	return nil
}

func (d *Device) DeviceInfo(ctx context.Context) (*bigip.DeviceInfo, error) {
	if err := d.record(ctx, "deviceInfo", "", nil); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	info := d.Info
	return &info, nil
}

func (d *Device) Active(ctx context.Context) (bool, error) {
	if err := d.record(ctx, "active", "", nil); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ActiveSequence) == 0 {
		return true, nil
	}
	next := d.ActiveSequence[0]
	d.ActiveSequence = d.ActiveSequence[1:]
	return next, nil
}

func (d *Device) RebootRequired(ctx context.Context) (bool, error) {
	if err := d.record(ctx, "rebootRequired", "", nil); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.NeedsReboot, nil
}

func (d *Device) Reboot(ctx context.Context) error {
	if err := d.record(ctx, "reboot", "", nil); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.NeedsReboot = false
	return nil
}

func (d *Device) Save(ctx context.Context) error {
	return d.record(ctx, "save", "", nil)
}

func (d *Device) Bash(ctx context.Context, command string) (string, error) {
	if err := d.record(ctx, "bash", "", command); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.BashOutput[command], nil
}

func (d *Device) Host() string { return d.HostName }
func (d *Device) User() string { return d.Username }

func (d *Device) SetPassword(password string) {
	_ = d.record(context.Background(), "setPassword", "", nil)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Password = password
}

func (d *Device) Cluster() bigip.Cluster   { return d.ClusterFake }
func (d *Device) Onboard() bigip.Onboarder { return d.OnboardFake }

// Connector hands out fake devices by target host. An empty host returns Default.
type Connector struct {
	Default *Device
	Devices map[string]*Device
}

func (c *Connector) Connect(ctx context.Context, target types.Target) (bigip.Device, error) {
	if target.Host == "" || target.Host == "localhost" {
		if c.Default == nil {
			return nil, fmt.Errorf("no default device")
		}
		return c.Default, nil
	}
	if d, ok := c.Devices[target.Host]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("failed to connect to %s: connection refused", target.Host)
}
