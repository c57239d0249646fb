package handler

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cuemby/onboard/pkg/bigip"
	"github.com/cuemby/onboard/pkg/types"
)

// DefaultRouteDomain is the route domain every partition starts in. It can
// only be modified, never created.
const DefaultRouteDomain = "0"

// Network applies VLANs, route domains, self IPs, routes and management routes
type Network struct {
	decl   map[string]any
	deps   Deps
	logger zerolog.Logger
}

func NewNetwork(decl map[string]any, deps Deps) *Network {
	return &Network{decl: decl, deps: deps, logger: deps.logger("network")}
}

func (h *Network) Name() string { return "network" }

func (h *Network) Process(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"vlans", h.processVLANs},
		{"route domains", h.processRouteDomains},
		{"self ips", h.processSelfIPs},
		{"routes", h.processRoutes},
		{"management routes", h.processManagementRoutes},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

func sortedNames[T any](m map[string]*T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Network) processVLANs(ctx context.Context) error {
	vlans, err := decodeNamed[types.VLAN](h.decl, "VLAN")
	if err != nil {
		return err
	}
	for _, name := range sortedNames(vlans) {
		if _, err := h.deps.Device.CreateOrModify(ctx, "/tm/net/vlan", vlanBody(vlans[name])); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// vlanBody tags interfaces by default only when the VLAN has a tag. An
// explicit per-interface setting always wins.
func vlanBody(v *types.VLAN) map[string]any {
	interfaces := make([]any, 0, len(v.Interfaces))
	for _, iface := range v.Interfaces {
		tagged := v.Tag != nil
		if iface.Tagged != nil {
			tagged = *iface.Tagged
		}
		interfaces = append(interfaces, map[string]any{"name": iface.Name, "tagged": tagged})
	}

	body := map[string]any{
		"name":       v.Name,
		"interfaces": interfaces,
	}
	if v.Tag != nil {
		body["tag"] = *v.Tag
	}
	if v.MTU != 0 {
		body["mtu"] = v.MTU
	}
	if v.CMPHash != "" {
		body["cmpHash"] = v.CMPHash
	}
	return body
}

func (h *Network) processRouteDomains(ctx context.Context) error {
	domains, err := decodeNamed[types.RouteDomain](h.decl, "RouteDomain")
	if err != nil {
		return err
	}
	for _, name := range sortedNames(domains) {
		rd := domains[name]
		body := map[string]any{
			"name":  name,
			"id":    rd.ID,
			"vlans": commonRefs(rd.VLANs),
		}
		if rd.Parent != "" {
			body["parent"] = commonRef(rd.Parent)
		}
		if rd.ConnectionLimit != 0 {
			body["connectionLimit"] = rd.ConnectionLimit
		}
		if rd.Strict != nil {
			body["strict"] = enabled(*rd.Strict)
		}

		if name == DefaultRouteDomain {
			delete(body, "name")
			delete(body, "id")
			_, err = h.deps.Device.Modify(ctx, bigip.CommonPath("/tm/net/route-domain", name), body)
		} else {
			_, err = h.deps.Device.CreateOrModify(ctx, "/tm/net/route-domain", body)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (h *Network) processSelfIPs(ctx context.Context) error {
	selfs, err := decodeNamed[types.SelfIP](h.decl, "SelfIp")
	if err != nil {
		return err
	}
	for _, name := range sortedNames(selfs) {
		s := selfs[name]
		body := map[string]any{
			"name":    name,
			"address": s.Address,
			"vlan":    commonRef(s.VLAN),
		}
		if s.AllowService != nil {
			body["allowService"] = s.AllowService
		}
		if s.TrafficGroup != "" {
			body["trafficGroup"] = s.TrafficGroup
		}
		if _, err := h.deps.Device.CreateOrModify(ctx, "/tm/net/self", body); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (h *Network) processRoutes(ctx context.Context) error {
	routes, err := decodeNamed[types.Route](h.decl, "Route")
	if err != nil {
		return err
	}
	for _, name := range sortedNames(routes) {
		r := routes[name]
		body := map[string]any{"name": name, "gw": r.GW, "network": r.Network}
		if r.MTU != 0 {
			body["mtu"] = r.MTU
		}
		if _, err := h.deps.Device.CreateOrModify(ctx, "/tm/net/route", body); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (h *Network) processManagementRoutes(ctx context.Context) error {
	routes, err := decodeNamed[types.ManagementRoute](h.decl, "ManagementRoute")
	if err != nil {
		return err
	}
	for _, name := range sortedNames(routes) {
		r := routes[name]
		body := map[string]any{"name": name, "gateway": r.GW, "network": r.Network}
		if r.MTU != 0 {
			body["mtu"] = r.MTU
		}
		if _, err := h.deps.Device.CreateOrModify(ctx, "/tm/sys/management-route", body); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func commonRefs(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, commonRef(n))
	}
	return out
}
