// Package parser normalizes a submitted declaration into a Config keyed by
// tenant and class.
package parser

import (
	"fmt"
	"sort"

	"github.com/cuemby/onboard/pkg/types"
)

const (
	classTenant = "Tenant"
	classSystem = "System"
)

// Top-level keys that are declaration bookkeeping, not tenants
var ignoredRootKeys = map[string]bool{
	"schemaVersion": true,
	"class":         true,
	"async":         true,
	"label":         true,
	"remark":        true,
	"$schema":       true,
	"controls":      true,
	"result":        true,
	"parsed":        true,
}

// Parse files every classed object of every tenant under its class.
// Singleton classes map to their object, named classes map instance names to
// objects that carry their name. System.hostname and a tenant-level hostname
// are hoisted to the tenant's hostname key. Every classed object records its
// tenant under types.TenantKey. A declaration already marked parsed is
// returned as is.
func Parse(decl types.Declaration) (types.Config, error) {
	if decl.IsParsed() {
		return decl.ParsedConfig()
	}

	cfg := types.Config{}
	var rootHostname string

	for _, key := range sortedKeys(decl) {
		value := decl[key]
		if ignoredRootKeys[key] {
			continue
		}
		if key == "hostname" {
			if hostname, ok := value.(string); ok {
				rootHostname = hostname
			}
			continue
		}

		tenant, ok := value.(map[string]any)
		if !ok {
			continue
		}
		class, _ := tenant["class"].(string)
		if class == "" {
			return nil, fmt.Errorf("%s: missing class", key)
		}
		if class != classTenant {
			return nil, fmt.Errorf("%s: expected class %s, got %s", key, classTenant, class)
		}

		classes, err := parseTenant(key, tenant)
		if err != nil {
			return nil, err
		}
		cfg[key] = classes
	}

	if len(cfg) == 0 {
		return nil, fmt.Errorf("declaration contains no tenant")
	}
	if rootHostname != "" {
		if _, set := cfg.Common()["hostname"]; !set {
			cfg.Common()["hostname"] = rootHostname
		}
	}
	return cfg, nil
}

func parseTenant(tenantName string, tenant map[string]any) (map[string]any, error) {
	classes := map[string]any{}
	classed := map[string]bool{}

	for _, key := range sortedKeys(tenant) {
		if key == "class" {
			continue
		}
		value := tenant[key]

		obj, ok := value.(map[string]any)
		if !ok {
			classes[key] = types.DeepCopyValue(value)
			continue
		}
		class, hasClass := obj["class"].(string)
		if !hasClass {
			classes[key] = types.DeepCopyMap(obj)
			continue
		}

		item := withoutClass(obj)
		path := tenantName + "/" + key
		classed[class] = true

		switch {
		case class == classSystem:
			if hostname, ok := item["hostname"].(string); ok {
				classes["hostname"] = hostname
				delete(item, "hostname")
			}
			if err := addSingleton(classes, class, item, path); err != nil {
				return nil, err
			}
		case types.SingletonClasses[class]:
			if err := addSingleton(classes, class, item, path); err != nil {
				return nil, err
			}
		case types.NamedClasses[class]:
			instances, _ := classes[class].(map[string]any)
			if instances == nil {
				instances = map[string]any{}
				classes[class] = instances
			}
			if _, set := item["name"]; !set {
				item["name"] = key
			}
			instances[key] = item
		default:
			return nil, fmt.Errorf("%s: unknown class %s", path, class)
		}
	}

	filed := make(map[string]any, len(classed))
	for class := range classed {
		filed[class] = classes[class]
	}
	types.StampTenant(filed, tenantName)
	return classes, nil
}

func addSingleton(classes map[string]any, class string, item map[string]any, path string) error {
	if _, exists := classes[class]; exists {
		return fmt.Errorf("%s: only one %s object is allowed per tenant", path, class)
	}
	classes[class] = item
	return nil
}

func withoutClass(obj map[string]any) map[string]any {
	out := types.DeepCopyMap(obj)
	delete(out, "class")
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
