package types

import (
	"encoding/json"
	"fmt"
)

// CommonTenant is the only partition the device agent manages
const CommonTenant = "Common"

// Declaration is a raw declaration tree as submitted by a client.
// Top-level keys are tenant names plus the schemaVersion/class bookkeeping keys.
type Declaration map[string]any

// Config is a normalized configuration tree keyed by tenant, then class.
// Both parsed declarations and the device's current config have this shape.
type Config map[string]map[string]any

// Request is the wrapped form of a submitted declaration
type Request struct {
	Class            string      `json:"class"`
	Declaration      Declaration `json:"declaration"`
	TargetHost       string      `json:"targetHost,omitempty"`
	TargetPort       int         `json:"targetPort,omitempty"`
	TargetUsername   string      `json:"targetUsername,omitempty"`
	TargetPassphrase string      `json:"targetPassphrase,omitempty"`
}

// Target identifies the device a task is applied to
type Target struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"-"`
}

// Target returns the device target named by the request, if any
func (r *Request) Target() Target {
	return Target{
		Host:     r.TargetHost,
		Port:     r.TargetPort,
		Username: r.TargetUsername,
		Password: r.TargetPassphrase,
	}
}

// Async reports whether the client asked for an immediate 202 response
func (d Declaration) Async() bool {
	async, _ := d["async"].(bool)
	return async
}

// IsParsed reports whether the declaration was already normalized
func (d Declaration) IsParsed() bool {
	parsed, _ := d["parsed"].(bool)
	return parsed
}

// MarkParsed wraps an already-normalized config so the declaration
// orchestrator skips the parser for it.
func MarkParsed(cfg Config) Declaration {
	decl := Declaration{"parsed": true}
	for tenant, classes := range cfg {
		decl[tenant] = DeepCopyMap(classes)
	}
	return decl
}

// ParsedConfig returns the normalized config held by a parsed declaration
func (d Declaration) ParsedConfig() (Config, error) {
	cfg := Config{}
	for key, value := range d {
		if key == "parsed" {
			continue
		}
		classes, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parsed declaration tenant %s is not an object", key)
		}
		cfg[key] = DeepCopyMap(classes)
	}
	return cfg, nil
}

// Common returns the Common tenant, creating it when absent
func (c Config) Common() map[string]any {
	common, ok := c[CommonTenant]
	if !ok || common == nil {
		common = map[string]any{}
		c[CommonTenant] = common
	}
	return common
}

// DeepCopy returns an independent copy of the config
func (c Config) DeepCopy() Config {
	if c == nil {
		return nil
	}
	out := make(Config, len(c))
	for tenant, classes := range c {
		out[tenant] = DeepCopyMap(classes)
	}
	return out
}

// DeepCopy returns an independent copy of the declaration
func (d Declaration) DeepCopy() Declaration {
	if d == nil {
		return nil
	}
	return Declaration(DeepCopyMap(d))
}

// DeepCopyMap copies a JSON-shaped map recursively
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = DeepCopyValue(v)
	}
	return out
}

// DeepCopyValue copies a JSON-shaped value recursively
func DeepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return DeepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = DeepCopyValue(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	default:
		return val
	}
}

// Normalize round-trips a value through JSON so that numbers become float64
// and typed slices/maps become their generic forms.
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseRequest decodes a request body. Bare declarations are wrapped in a DO request.
func ParseRequest(body []byte) (*Request, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, NewValidationError("body", fmt.Sprintf("invalid JSON: %v", err))
	}

	if class, _ := raw["class"].(string); class == "DO" {
		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, NewValidationError("body", fmt.Sprintf("invalid DO wrapper: %v", err))
		}
		if req.Declaration == nil {
			return nil, NewValidationError("declaration", "DO wrapper requires a declaration")
		}
		return &req, nil
	}

	return &Request{Class: "DO", Declaration: Declaration(raw)}, nil
}
