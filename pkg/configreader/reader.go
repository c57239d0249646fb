// Package configreader reads the live device configuration into a Config
// shaped exactly like a parsed declaration.
package configreader

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/onboard/pkg/bigip"
	"github.com/cuemby/onboard/pkg/types"
)

// Reader builds the current config from a table of config items
type Reader struct {
	device bigip.Device
	items  []Item
	logger zerolog.Logger
}

// New creates a Reader over the built-in config item table
func New(device bigip.Device, logger zerolog.Logger) (*Reader, error) {
	items, err := LoadItems(defaultItems)
	if err != nil {
		return nil, err
	}
	return NewWithItems(device, items, logger), nil
}

// NewWithItems creates a Reader over a custom config item table
func NewWithItems(device bigip.Device, items []Item, logger zerolog.Logger) *Reader {
	return &Reader{
		device: device,
		items:  items,
		logger: logger.With().Str("component", "configreader").Logger(),
	}
}

type instance struct {
	name  string
	raw   map[string]any
	props map[string]any
}

type fetched struct {
	item      *Item
	singleton bool
	instances []*instance
}

type referenceResult struct {
	inst  *instance
	key   string
	value any
}

// Get reads the device. desired is the parsed declaration being applied;
// it narrows open-ended classes (DbVariables, Provision) to what the
// declaration talks about.
func (r *Reader) Get(ctx context.Context, desired types.Config) (types.Config, error) {
	modules, err := r.provisionedModules(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*fetched, len(r.items))
	g, gctx := errgroup.WithContext(ctx)
	for i := range r.items {
		item := &r.items[i]
		if item.RequiredModule != "" && !modules[item.RequiredModule] {
			r.logger.Debug().
				Str("path", item.Path).
				Str("module", item.RequiredModule).
				Msg("Skipping config item, module not provisioned")
			continue
		}
		g.Go(func() error {
			resp, err := r.device.List(gctx, item.query())
			if bigip.IsNotFound(err) {
				results[i] = &fetched{item: item}
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", item.Path, err)
			}
			results[i] = collect(item, resp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	refs, err := r.followReferences(ctx, results)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		ref.inst.props[ref.key] = ref.value
	}

	common := map[string]any{}
	for _, f := range results {
		if f != nil {
			merge(common, f)
		}
	}
	postProcess(common, desired[types.CommonTenant])
	types.StampTenant(common, types.CommonTenant)

	return types.Config{types.CommonTenant: common}, nil
}

func (r *Reader) provisionedModules(ctx context.Context) (map[string]bool, error) {
	resp, err := r.device.List(ctx, "/tm/sys/provision")
	if err != nil {
		return nil, fmt.Errorf("failed to read provisioning: %w", err)
	}
	modules := map[string]bool{}
	for _, item := range bigip.Items(resp) {
		name, _ := item["name"].(string)
		level, _ := item["level"].(string)
		if level != "" && level != "none" {
			modules[name] = true
		}
	}
	return modules, nil
}

func collect(item *Item, resp any) *fetched {
	f := &fetched{item: item}

	raw, isObject := resp.(map[string]any)
	if isObject {
		f.singleton = true
		if props, ok := extract(raw, item.Properties); ok {
			f.instances = append(f.instances, &instance{raw: raw, props: props})
		}
		return f
	}

	for _, raw := range bigip.Items(resp) {
		name, _ := raw["name"].(string)
		if item.ignored(name) {
			continue
		}
		props, ok := extract(raw, item.Properties)
		if !ok {
			continue
		}
		if types.NamedClasses[item.SchemaClass] {
			props["name"] = name
		}
		f.instances = append(f.instances, &instance{name: name, raw: raw, props: props})
	}
	return f
}

// followReferences runs one query per discovered reference link, all
// concurrently, after every top-level item has been read.
func (r *Reader) followReferences(ctx context.Context, results []*fetched) ([]referenceResult, error) {
	type job struct {
		inst *instance
		ref  Reference
		path string
	}
	var jobs []job
	for _, f := range results {
		if f == nil {
			continue
		}
		for _, inst := range f.instances {
			for _, ref := range f.item.References {
				if path := referencePath(inst.raw[ref.ID]); path != "" {
					jobs = append(jobs, job{inst: inst, ref: ref, path: path})
				}
			}
		}
	}

	out := make([]referenceResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i, j := range jobs {
		g.Go(func() error {
			fields := []string{"name"}
			for _, p := range j.ref.Properties {
				fields = append(fields, p.ID)
			}
			resp, err := r.device.List(gctx, bigip.Query(j.path, map[string]string{"$select": strings.Join(fields, ",")}))
			if err != nil && !bigip.IsNotFound(err) {
				return fmt.Errorf("failed to read %s: %w", j.path, err)
			}

			values := []any{}
			for _, raw := range bigip.Items(resp) {
				if j.ref.NamesOnly {
					name, _ := raw["name"].(string)
					values = append(values, name)
					continue
				}
				if props, ok := extract(raw, j.ref.Properties); ok {
					values = append(values, props)
				}
			}

			key := j.ref.NewID
			if key == "" {
				key = j.ref.ID
			}
			out[i] = referenceResult{inst: j.inst, key: key, value: values}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// referencePath turns {"link": "https://localhost/mgmt/tm/...?ver=x"} into /tm/...
func referencePath(v any) string {
	ref, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	link, _ := ref["link"].(string)
	i := strings.Index(link, "/mgmt/")
	if i < 0 {
		return ""
	}
	path := link[i+len("/mgmt"):]
	if q := strings.Index(path, "?"); q >= 0 {
		path = path[:q]
	}
	return path
}

// merge folds one item's instances into the current config
func merge(common map[string]any, f *fetched) {
	class := f.item.SchemaClass
	sm := f.item.SchemaMerge

	if sm == nil {
		if f.singleton {
			if len(f.instances) == 0 {
				return
			}
			target := childMap(common, class)
			for k, v := range f.instances[0].props {
				target[k] = v
			}
			return
		}
		target := childMap(common, class)
		for _, inst := range f.instances {
			target[inst.name] = inst.props
		}
		return
	}

	if len(f.instances) == 0 && sm.SkipWhenOmitted {
		return
	}

	target := childMap(common, class)
	for _, key := range sm.Path {
		target = childMap(target, key)
	}

	if sm.KeyByName {
		for _, inst := range f.instances {
			target[inst.name] = inst.props
		}
		return
	}
	if len(f.instances) > 0 {
		for k, v := range f.instances[0].props {
			target[k] = v
		}
	}
}

func childMap(parent map[string]any, key string) map[string]any {
	if child, ok := parent[key].(map[string]any); ok {
		return child
	}
	child := map[string]any{}
	parent[key] = child
	return child
}
