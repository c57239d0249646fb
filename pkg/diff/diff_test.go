package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	previous := map[string]any{
		"DNS":  map[string]any{"nameServers": []any{"1.1.1.1"}},
		"NTP":  map[string]any{"timezone": "UTC"},
		"gone": "x",
	}
	desired := map[string]any{
		"DNS":      map[string]any{"nameServers": []any{"8.8.8.8"}},
		"NTP":      map[string]any{"timezone": "UTC"},
		"hostname": "bigip1",
	}

	changes := Compare(previous, desired)
	require.Len(t, changes, 3)

	assert.Equal(t, Change{Path: []string{"DNS", "nameServers"}, Op: OpEdit, Value: []any{"8.8.8.8"}, Old: []any{"1.1.1.1"}}, changes[0])
	assert.Equal(t, Change{Path: []string{"gone"}, Op: OpDelete, Old: "x"}, changes[1])
	assert.Equal(t, Change{Path: []string{"hostname"}, Op: OpAdd, Value: "bigip1"}, changes[2])
}

func TestCompareNumericEquality(t *testing.T) {
	assert.Empty(t, Compare(map[string]any{"mtu": 1500}, map[string]any{"mtu": 1500.0}))
	assert.Empty(t, Compare(map[string]any{"s": []string{"a"}}, map[string]any{"s": []any{"a"}}))
	assert.Len(t, Compare(map[string]any{"mtu": 1500.0}, map[string]any{"mtu": "1500"}), 1)
}

func TestApply(t *testing.T) {
	previous := map[string]any{
		"DNS":  map[string]any{"nameServers": []any{"1.1.1.1"}},
		"gone": "x",
	}
	desired := map[string]any{
		"DNS":  map[string]any{"nameServers": []any{"8.8.8.8"}, "search": []any{"f5.com"}},
		"VLAN": map[string]any{"external": map[string]any{"tag": 100.0}},
	}

	got, err := Apply(previous, Compare(previous, desired))
	require.NoError(t, err)
	assert.Equal(t, desired, got)

	// input untouched
	assert.Equal(t, []any{"1.1.1.1"}, previous["DNS"].(map[string]any)["nameServers"])
	assert.Equal(t, "x", previous["gone"])
}

func TestApplyCreatesIntermediateObjects(t *testing.T) {
	got, err := Apply(nil, []Change{
		{Path: []string{"Common", "VLAN", "external"}, Op: OpAdd, Value: map[string]any{"mtu": 1500.0}},
		{Path: []string{"Common", "Route", "missing"}, Op: OpDelete},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Common": map[string]any{"VLAN": map[string]any{"external": map[string]any{"mtu": 1500.0}}}}, got)
}

func TestApplyRejectsNonObjectParent(t *testing.T) {
	_, err := Apply(map[string]any{"hostname": "a"}, []Change{{Path: []string{"hostname", "x"}, Op: OpAdd, Value: 1.0}})
	assert.Error(t, err)
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"ints and floats", 1, 1.0, true},
		{"strings", "a", "a", true},
		{"string vs number", "1", 1.0, false},
		{"nested maps", map[string]any{"a": []any{1.0}}, map[string]any{"a": []any{1}}, true},
		{"map size", map[string]any{"a": 1.0}, map[string]any{"a": 1.0, "b": 2.0}, false},
		{"array order", []any{"a", "b"}, []any{"b", "a"}, false},
		{"nil", nil, nil, true},
		{"bools", true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}
