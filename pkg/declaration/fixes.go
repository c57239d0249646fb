package declaration

import (
	"github.com/cuemby/onboard/pkg/bigip"
	"github.com/cuemby/onboard/pkg/handler"
	"github.com/cuemby/onboard/pkg/types"
)

// Route domain VLANs the device creates on its own. They are never pruned.
var alwaysKeptVLANs = map[string]bool{
	"http-tunnel":  true,
	"socks-tunnel": true,
}

// Values the device assumes for properties a declaration leaves out. They
// are filled in before the diff so that a re-read device, which reports
// them, compares equal to the declaration that set it up.
var schemaDefaults = map[string]map[string]any{
	"VLAN": {
		"mtu":     1500.0,
		"cmpHash": "default",
	},
	"SelfIp": {
		"allowService": "default",
		"trafficGroup": "traffic-group-local-only",
	},
	"Route": {
		"mtu": 0.0,
	},
	"ManagementRoute": {
		"mtu": 0.0,
	},
	"RouteDomain": {
		"connectionLimit": 0.0,
		"strict":          true,
	},
}

// applySchemaDefaults fills omitted properties of named instances. A VLAN
// interface is tagged by default when its VLAN has a tag.
func applySchemaDefaults(common map[string]any) {
	for class, defaults := range schemaDefaults {
		instances, ok := common[class].(map[string]any)
		if !ok {
			continue
		}
		for _, v := range instances {
			obj, ok := v.(map[string]any)
			if !ok {
				continue
			}
			for prop, value := range defaults {
				if _, set := obj[prop]; !set {
					obj[prop] = value
				}
			}
		}
	}

	vlans, _ := common["VLAN"].(map[string]any)
	for _, v := range vlans {
		vlan, ok := v.(map[string]any)
		if !ok {
			continue
		}
		_, hasTag := vlan["tag"]
		interfaces, _ := vlan["interfaces"].([]any)
		for _, i := range interfaces {
			iface, ok := i.(map[string]any)
			if !ok {
				continue
			}
			if _, set := iface["tagged"]; !set {
				iface["tagged"] = hasTag
			}
		}
	}
}

// fixRouteDomainZero re-keys the route domain with id 0 to the name "0".
// The device only accepts that name when the zero route domain is modified.
func fixRouteDomainZero(common map[string]any) {
	domains, ok := common["RouteDomain"].(map[string]any)
	if !ok {
		return
	}
	for name, v := range domains {
		rd, ok := v.(map[string]any)
		if !ok || !isZeroID(rd["id"]) {
			continue
		}
		rd["name"] = handler.DefaultRouteDomain
		if name != handler.DefaultRouteDomain {
			delete(domains, name)
			domains[handler.DefaultRouteDomain] = rd
		}
	}
}

func isZeroID(id any) bool {
	switch v := id.(type) {
	case float64:
		return v == 0
	case int:
		return v == 0
	case string:
		return v == "0"
	}
	return false
}

// applyDefaults copies a class of truth forward from the original config when
// the declaration leaves it out or empty. Silence means "leave as it was".
func applyDefaults(common, original map[string]any) {
	for _, class := range types.ClassesOfTruth {
		prior, ok := original[class]
		if !ok {
			continue
		}
		if isEmpty(common[class]) {
			common[class] = types.DeepCopyValue(prior)
		}
	}

	auth, ok := common["Authentication"].(map[string]any)
	if !ok {
		return
	}
	priorAuth, _ := original["Authentication"].(map[string]any)
	if prior, ok := priorAuth["remoteUsersDefaults"]; ok && isEmpty(auth["remoteUsersDefaults"]) {
		auth["remoteUsersDefaults"] = types.DeepCopyValue(prior)
	}
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(val) == 0
	case string:
		return val == ""
	}
	return false
}

// fixRouteDomainVLANs puts every declared VLAN that no route domain claims
// into route domain 0, and drops undeclared VLANs from route domain lists.
func fixRouteDomainVLANs(common map[string]any) {
	domains, ok := common["RouteDomain"].(map[string]any)
	if !ok || len(domains) == 0 {
		return
	}
	vlans, _ := common["VLAN"].(map[string]any)

	claimed := map[string]bool{}
	for _, v := range domains {
		rd, _ := v.(map[string]any)
		for _, name := range stringList(rd["vlans"]) {
			claimed[bigip.StripCommon(name)] = true
		}
	}

	var unclaimed []string
	for _, name := range sortedKeys(vlans) {
		if !claimed[name] {
			unclaimed = append(unclaimed, name)
		}
	}
	if len(unclaimed) > 0 {
		zero, ok := domains[handler.DefaultRouteDomain].(map[string]any)
		if !ok {
			zero = map[string]any{"name": handler.DefaultRouteDomain, "id": 0.0}
			domains[handler.DefaultRouteDomain] = zero
		}
		list := stringList(zero["vlans"])
		zero["vlans"] = toAny(append(list, unclaimed...))
	}

	for _, v := range domains {
		rd, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if _, has := rd["vlans"]; !has {
			continue
		}
		kept := []string{}
		for _, name := range stringList(rd["vlans"]) {
			short := bigip.StripCommon(name)
			if _, declared := vlans[short]; declared || alwaysKeptVLANs[short] {
				kept = append(kept, name)
			}
		}
		rd["vlans"] = toAny(kept)
	}
}

func stringList(v any) []string {
	switch val := v.(type) {
	case []string:
		return append([]string(nil), val...)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toAny(list []string) []any {
	out := make([]any, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}
