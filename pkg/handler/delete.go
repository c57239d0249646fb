package handler

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/onboard/pkg/bigip"
	"github.com/cuemby/onboard/pkg/configreader"
)

// ReadOnlyDeviceGroups are managed by the device itself
var ReadOnlyDeviceGroups = map[string]bool{
	"device_trust_group": true,
	"gtm":                true,
	"datasync-global-dg": true,
	"dos-global-dg":      true,
}

// DeleteOrder lists deletable classes so consumers go before what they use
var DeleteOrder = []string{
	"DeviceGroup",
	"Route",
	"SelfIp",
	"VLAN",
	"RouteDomain",
	"ManagementRoute",
	"RemoteAuthRole",
	"Authentication",
}

var deletePaths = map[string]string{
	"Route":           "/tm/net/route",
	"SelfIp":          "/tm/net/self",
	"VLAN":            "/tm/net/vlan",
	"RouteDomain":     "/tm/net/route-domain",
	"ManagementRoute": "/tm/sys/management-route",
}

// Delete removes objects the declaration no longer mentions. Classes are
// deleted one after the other; instances within a class in parallel.
type Delete struct {
	decl   map[string]any
	deps   Deps
	logger zerolog.Logger
}

func NewDelete(decl map[string]any, deps Deps) *Delete {
	return &Delete{decl: decl, deps: deps, logger: deps.logger("delete")}
}

func (h *Delete) Name() string { return "delete" }

func (h *Delete) Process(ctx context.Context) error {
	for _, class := range DeleteOrder {
		items, ok := h.decl[class].(map[string]any)
		if !ok || len(items) == 0 {
			continue
		}
		if err := h.deleteClass(ctx, class, items); err != nil {
			return fmt.Errorf("failed to delete %s: %w", class, err)
		}
	}
	return nil
}

func (h *Delete) deleteClass(ctx context.Context, class string, items map[string]any) error {
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)

	if class == "Authentication" {
		return h.deleteAuth(ctx, names)
	}

	dev := h.deps.Device
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		var del func(context.Context) error
		switch class {
		case "DeviceGroup":
			if ReadOnlyDeviceGroups[name] {
				continue
			}
			del = func(ctx context.Context) error { return dev.Cluster().DeleteDeviceGroup(ctx, name) }
		case "RouteDomain":
			if name == DefaultRouteDomain {
				continue
			}
			del = func(ctx context.Context) error { return dev.Delete(ctx, bigip.CommonPath(deletePaths[class], name)) }
		case "RemoteAuthRole":
			del = func(ctx context.Context) error { return dev.Delete(ctx, "/tm/auth/remote-role/role-info/"+name) }
		default:
			path, ok := deletePaths[class]
			if !ok {
				return fmt.Errorf("unsupported class")
			}
			del = func(ctx context.Context) error { return dev.Delete(ctx, bigip.CommonPath(path, name)) }
		}

		h.logger.Debug().Str("class", class).Str("name", name).Msg("Deleting")
		g.Go(func() error {
			if err := del(gctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// deleteAuth removes remote auth configs. The radius config goes before the
// servers it references.
func (h *Delete) deleteAuth(ctx context.Context, kinds []string) error {
	dev := h.deps.Device
	for _, kind := range kinds {
		var paths []string
		switch kind {
		case "radius":
			paths = []string{
				"/tm/auth/radius/" + SystemAuthName,
				"/tm/auth/radius-server/" + configreader.RadiusPrimaryName,
				"/tm/auth/radius-server/" + configreader.RadiusSecondaryName,
			}
		case "ldap", "tacacs":
			paths = []string{"/tm/auth/" + kind + "/" + SystemAuthName}
		default:
			continue
		}
		for _, path := range paths {
			if err := dev.Delete(ctx, path); err != nil {
				return fmt.Errorf("%s: %w", kind, err)
			}
		}
	}
	return nil
}
