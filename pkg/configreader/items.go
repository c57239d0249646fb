package configreader

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/onboard/pkg/bigip"
	"github.com/cuemby/onboard/pkg/diff"
	"github.com/cuemby/onboard/pkg/types"
)

//go:embed items.yaml
var defaultItems []byte

// Item describes one device endpoint read into the current config
type Item struct {
	Path           string       `yaml:"path"`
	SchemaClass    string       `yaml:"schemaClass"`
	Properties     []Property   `yaml:"properties"`
	References     []Reference  `yaml:"references"`
	SchemaMerge    *SchemaMerge `yaml:"schemaMerge"`
	Ignore         []string     `yaml:"ignore"`
	RequiredModule string       `yaml:"requiredModule"`

	ignore []*regexp.Regexp
}

// Property maps one device property into the config
type Property struct {
	ID                 string `yaml:"id"`
	NewID              string `yaml:"newId"`
	Truth              any    `yaml:"truth"`
	Falsehood          any    `yaml:"falsehood"`
	DefaultWhenOmitted any    `yaml:"defaultWhenOmitted"`
	SkipWhenOmitted    bool   `yaml:"skipWhenOmitted"`
}

// Reference follows a *Reference link to a nested collection
type Reference struct {
	ID         string     `yaml:"id"`
	NewID      string     `yaml:"newId"`
	NamesOnly  bool       `yaml:"namesOnly"`
	Properties []Property `yaml:"properties"`
}

// SchemaMerge places an item inside a class another item created
type SchemaMerge struct {
	Path            []string `yaml:"path"`
	KeyByName       bool     `yaml:"keyByName"`
	SkipWhenOmitted bool     `yaml:"skipWhenOmitted"`
}

// LoadItems parses a config item table
func LoadItems(data []byte) ([]Item, error) {
	var items []Item
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse config items: %w", err)
	}
	for i := range items {
		item := &items[i]
		if item.Path == "" || item.SchemaClass == "" {
			return nil, fmt.Errorf("config item %d: path and schemaClass are required", i)
		}
		for _, pattern := range item.Ignore {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("config item %s: invalid ignore pattern %q: %w", item.Path, pattern, err)
			}
			item.ignore = append(item.ignore, re)
		}
	}
	return items, nil
}

func (it *Item) ignored(name string) bool {
	for _, re := range it.ignore {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// query builds the list path with the partition filter and property selection
func (it *Item) query() string {
	fields := []string{"name"}
	for _, p := range it.Properties {
		fields = append(fields, p.ID)
	}
	for _, ref := range it.References {
		fields = append(fields, ref.ID)
	}
	return bigip.Query(it.Path, map[string]string{
		"$filter": "partition eq " + types.CommonTenant,
		"$select": strings.Join(fields, ","),
	})
}

func (p Property) key() string {
	if p.NewID != "" {
		return p.NewID
	}
	return p.ID
}

// extract maps the device properties of one instance. ok is false when a
// skipWhenOmitted property is missing.
func extract(raw map[string]any, props []Property) (map[string]any, bool) {
	out := map[string]any{}
	for _, p := range props {
		value, present := raw[p.ID]
		if !present {
			if p.SkipWhenOmitted {
				return nil, false
			}
			if p.DefaultWhenOmitted == nil {
				continue
			}
			value = p.DefaultWhenOmitted
		}

		switch {
		case p.Truth != nil && diff.Equal(value, p.Truth):
			value = true
		case p.Falsehood != nil && diff.Equal(value, p.Falsehood):
			value = false
		}
		out[p.key()] = stripCommon(types.DeepCopyValue(value))
	}
	return out, true
}

// stripCommon removes the /Common/ prefix from reference-valued strings
func stripCommon(v any) any {
	switch val := v.(type) {
	case string:
		return bigip.StripCommon(val)
	case []any:
		for i := range val {
			val[i] = stripCommon(val[i])
		}
		return val
	}
	return v
}
