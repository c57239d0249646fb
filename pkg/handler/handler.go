// Package handler applies the sections of a diffed declaration to a device.
//
// Each domain handler owns one configuration domain and sequences a fixed
// list of steps for it. Handlers never retry on their own except for the
// bounded device-condition polls configured in Timing, and they return the
// first device error they hit.
package handler

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/onboard/pkg/bigip"
	"github.com/cuemby/onboard/pkg/retry"
	"github.com/cuemby/onboard/pkg/types"
)

// Handler applies one configuration domain
type Handler interface {
	Name() string
	Process(ctx context.Context) error
}

// Resolver looks up declared hostnames before they are handed to the device
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// PendingRevocation carries what is needed to finish licensing if the
// revocation kills the management process.
type PendingRevocation struct {
	BigIQHost string
	PoolName  string
	// RevokeFrom is the pool the current license is returned to
	RevokeFrom string
}

// RevocationGuard is called right before a license revocation that may take
// the management process down. It must durably record the pending work
// before returning.
type RevocationGuard interface {
	BeforeRevoke(ctx context.Context, pending PendingRevocation) error
}

// Timing bounds the device-condition polls
type Timing struct {
	ProvisionPoll   retry.Policy
	DHCPPoll        retry.Policy
	DeviceGroupPoll retry.Policy
	SyncPoll        bigip.RetryPolicy
	LicensePoll     bigip.RetryPolicy
}

// DefaultTiming returns the production poll bounds
func DefaultTiming() Timing {
	return Timing{
		ProvisionPoll:   retry.Policy{MaxAttempts: 10, Interval: time.Second},
		DHCPPoll:        retry.Policy{MaxAttempts: 30, Interval: 2 * time.Second},
		DeviceGroupPoll: retry.Policy{MaxAttempts: 60, Interval: 5 * time.Second},
		SyncPoll:        bigip.RetryPolicy{MaxAttempts: 60, Interval: 5 * time.Second},
		LicensePoll:     bigip.RetryPolicy{MaxAttempts: 60, Interval: 5 * time.Second},
	}
}

// Deps are the collaborators shared by every handler of one task
type Deps struct {
	Device    bigip.Device
	Connector bigip.Connector
	Resolver  Resolver
	Guard     RevocationGuard
	Timing    Timing
	Logger    zerolog.Logger
}

func (d Deps) logger(name string) zerolog.Logger {
	return d.Logger.With().Str("handler", name).Logger()
}

// section returns a class from a Common section, and whether it is present
func section(decl map[string]any, class string) (any, bool) {
	v, ok := decl[class]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func decodeSection[T any](decl map[string]any, class string) (T, bool, error) {
	var zero T
	v, ok := section(decl, class)
	if !ok {
		return zero, false, nil
	}
	out, err := types.Decode[T](v)
	if err != nil {
		return zero, true, fmt.Errorf("invalid %s: %w", class, err)
	}
	return out, true, nil
}

func decodeNamed[T any, PT interface {
	*T
	SetName(string)
}](decl map[string]any, class string) (map[string]*T, error) {
	v, ok := section(decl, class)
	if !ok {
		return nil, nil
	}
	out, err := types.DecodeNamed[T, PT](v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", class, err)
	}
	return out, nil
}

// resolveAll fails on the first declared hostname that does not resolve.
// Literal addresses are not looked up.
func resolveAll(ctx context.Context, resolver Resolver, hosts ...string) error {
	if resolver == nil {
		return nil
	}
	for _, host := range hosts {
		host = stripCIDR(host)
		if host == "" || net.ParseIP(host) != nil {
			continue
		}
		if _, err := resolver.LookupHost(ctx, host); err != nil {
			return &types.ResolutionError{Host: host, Err: err}
		}
	}
	return nil
}

// stripCIDR removes a prefix length and route domain suffix from an address
func stripCIDR(address string) string {
	if i := strings.IndexAny(address, "/%"); i >= 0 {
		return address[:i]
	}
	return address
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func commonRef(name string) string {
	if name == "" || strings.HasPrefix(name, "/") {
		return name
	}
	return "/" + types.CommonTenant + "/" + name
}
