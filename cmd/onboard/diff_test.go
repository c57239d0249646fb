package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/onboard/pkg/types"
)

func TestConfigDiff(t *testing.T) {
	original := types.Config{"Common": {
		"hostname": "bigip1.example.com",
		"Route":    map[string]any{"myRoute": map[string]any{"gw": "1.1.1.1"}},
	}}
	current := types.Config{"Common": {
		"hostname": "bigip1.example.com",
		"Route":    map[string]any{"myRoute": map[string]any{"gw": "2.2.2.2"}},
	}}

	out, err := configDiff(original, current)
	require.NoError(t, err)

	var removed, added []string
	for _, line := range strings.Split(strings.TrimSuffix(out, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "- "):
			removed = append(removed, line)
		case strings.HasPrefix(line, "+ "):
			added = append(added, line)
		default:
			assert.True(t, strings.HasPrefix(line, "  "), line)
		}
	}
	require.Len(t, removed, 1)
	require.Len(t, added, 1)
	assert.Contains(t, removed[0], `"gw": "1.1.1.1"`)
	assert.Contains(t, added[0], `"gw": "2.2.2.2"`)
	assert.Contains(t, out, "\n      \"hostname\": \"bigip1.example.com\"")
}

func TestConfigDiffUnchanged(t *testing.T) {
	cfg := types.Config{"Common": {"hostname": "bigip1"}}
	out, err := configDiff(cfg, cfg.DeepCopy())
	require.NoError(t, err)
	assert.NotContains(t, out, "\n- ")
	assert.NotContains(t, out, "\n+ ")
	assert.True(t, strings.HasPrefix(out, "  {"))
}

func TestConfigDiffNilOriginal(t *testing.T) {
	out, err := configDiff(nil, types.Config{"Common": {"hostname": "bigip1"}})
	require.NoError(t, err)
	assert.Contains(t, out, `+     "hostname": "bigip1"`)
}
