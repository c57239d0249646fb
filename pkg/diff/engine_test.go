package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/onboard/pkg/types"
)

func applied() types.Config {
	return types.Config{
		"Common": {
			"hostname": "bigip1.example.com",
			"DNS":      map[string]any{"nameServers": []any{"1.1.1.1"}},
			"VLAN": map[string]any{
				"external": map[string]any{"name": "external", "tag": 100.0, "mtu": 1500.0},
				"internal": map[string]any{"name": "internal", "mtu": 1500.0},
			},
		},
	}
}

func TestProcessIdempotent(t *testing.T) {
	desired := applied()
	desired["Common"]["License"] = map[string]any{"licenseType": "regKey", "regKey": "AAAA"}

	result, err := Process(desired, applied())
	require.NoError(t, err)

	for _, class := range types.ClassesOfTruth {
		assert.NotContains(t, result.ToUpdate, class)
	}
	assert.Equal(t, desired["Common"]["License"], result.ToUpdate["License"])
}

func TestProcessMinimal(t *testing.T) {
	first := applied()
	first["Common"]["User"] = map[string]any{"admin": map[string]any{"name": "admin", "shell": "tmsh"}}
	second := first.DeepCopy()
	second["Common"]["User"] = map[string]any{"admin": map[string]any{"name": "admin", "shell": "bash"}}

	result, err := Process(second, first)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"admin": map[string]any{"name": "admin", "shell": "bash"}}, result.ToUpdate["User"])
	for _, class := range types.ClassesOfTruth {
		assert.NotContains(t, result.ToUpdate, class)
	}
}

func TestProcessChangedClassIsConverged(t *testing.T) {
	desired := applied()
	desired["Common"]["VLAN"].(map[string]any)["external"].(map[string]any)["mtu"] = 9000.0
	desired["Common"]["NTP"] = map[string]any{"servers": []any{"0.pool.ntp.org"}, "timezone": "UTC"}

	previous := applied()
	result, err := Process(desired, previous)
	require.NoError(t, err)

	assert.Equal(t, desired["Common"]["VLAN"], result.ToUpdate["VLAN"])
	assert.Equal(t, desired["Common"]["NTP"], result.ToUpdate["NTP"])
	assert.NotContains(t, result.ToUpdate, "DNS")
	assert.NotContains(t, result.ToUpdate, "hostname")

	// previous is not mutated by the walk
	assert.Equal(t, applied(), previous)
}

func TestProcessRemovedClassIsOmitted(t *testing.T) {
	desired := applied()
	delete(desired["Common"], "DNS")

	result, err := Process(desired, applied())
	require.NoError(t, err)
	assert.NotContains(t, result.ToUpdate, "DNS")
}

func TestProcessWithoutPrevious(t *testing.T) {
	result, err := Process(applied(), nil)
	require.NoError(t, err)
	assert.Equal(t, applied()["Common"]["DNS"], result.ToUpdate["DNS"])
	assert.Equal(t, "bigip1.example.com", result.ToUpdate["hostname"])
}

func TestDeletions(t *testing.T) {
	previous := map[string]any{
		"VLAN":  map[string]any{"external": map[string]any{"tag": 100.0}, "internal": map[string]any{}},
		"Route": map[string]any{"default": map[string]any{"gw": "10.0.0.1"}},
		"Authentication": map[string]any{
			"enabledSourceType": "radius",
			"radius":            map[string]any{"serviceType": "login"},
			"ldap":              map[string]any{"servers": []any{"ldap.example.com"}},
		},
	}
	desired := map[string]any{
		"VLAN":           map[string]any{"external": map[string]any{"tag": 100.0}},
		"Authentication": map[string]any{"enabledSourceType": "ldap", "ldap": map[string]any{"servers": []any{"ldap.example.com"}}},
	}

	got := Deletions(desired, previous, []string{"VLAN", "Route"}, map[string][]string{"Authentication": {"radius", "ldap", "tacacs"}})

	assert.Equal(t, map[string]any{
		"VLAN":           map[string]any{"internal": map[string]any{}},
		"Authentication": map[string]any{"radius": map[string]any{"serviceType": "login"}},
	}, got)
}
