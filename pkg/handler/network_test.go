package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/onboard/pkg/bigip"
	"github.com/cuemby/onboard/pkg/bigip/bigiptest"
	"github.com/cuemby/onboard/pkg/types"
)

func TestNetworkVLANTagging(t *testing.T) {
	tests := []struct {
		name       string
		vlan       map[string]any
		wantTagged bool
	}{
		{
			name:       "tagged vlan defaults to tagged interfaces",
			vlan:       map[string]any{"tag": 100, "interfaces": []any{map[string]any{"name": "1.1"}}},
			wantTagged: true,
		},
		{
			name:       "untagged vlan defaults to untagged interfaces",
			vlan:       map[string]any{"interfaces": []any{map[string]any{"name": "1.1"}}},
			wantTagged: false,
		},
		{
			name:       "explicit interface setting wins over tag",
			vlan:       map[string]any{"tag": 100, "interfaces": []any{map[string]any{"name": "1.1", "tagged": false}}},
			wantTagged: false,
		},
		{
			name:       "explicit interface setting wins without tag",
			vlan:       map[string]any{"interfaces": []any{map[string]any{"name": "1.1", "tagged": true}}},
			wantTagged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := bigiptest.New()
			decl := map[string]any{"VLAN": map[string]any{"external": tt.vlan}}

			require.NoError(t, NewNetwork(decl, testDeps(dev)).Process(context.Background()))

			vlan := dev.Object(bigip.CommonPath("/tm/net/vlan", "external"))
			require.NotNil(t, vlan)
			assert.Equal(t, []any{map[string]any{"name": "1.1", "tagged": tt.wantTagged}}, vlan["interfaces"])
		})
	}
}

func TestNetworkOrder(t *testing.T) {
	dev := bigiptest.New()
	decl := map[string]any{
		"VLAN":            map[string]any{"internal": map[string]any{"mtu": 1500}},
		"RouteDomain":     map[string]any{"rd1": map[string]any{"id": 1, "vlans": []any{"internal"}}},
		"SelfIp":          map[string]any{"self1": map[string]any{"address": "10.1.0.5/24", "vlan": "internal", "allowService": "default"}},
		"Route":           map[string]any{"default": map[string]any{"gw": "10.1.0.1", "network": "default"}},
		"ManagementRoute": map[string]any{"mgmt": map[string]any{"gw": "192.0.2.1", "network": "10.9.0.0/16"}},
	}

	require.NoError(t, NewNetwork(decl, testDeps(dev)).Process(context.Background()))

	assert.Equal(t, []string{
		"/tm/net/vlan",
		"/tm/net/route-domain",
		"/tm/net/self",
		"/tm/net/route",
		"/tm/sys/management-route",
	}, dev.Paths("createOrModify"))

	self := dev.Object(bigip.CommonPath("/tm/net/self", "self1"))
	assert.Equal(t, "/Common/internal", self["vlan"])
	assert.Equal(t, "default", self["allowService"])

	mgmt := dev.Object(bigip.CommonPath("/tm/sys/management-route", "mgmt"))
	assert.Equal(t, "192.0.2.1", mgmt["gateway"])
}

func TestNetworkRouteDomainZeroIsModified(t *testing.T) {
	dev := bigiptest.New()
	decl := map[string]any{
		"RouteDomain": map[string]any{
			"0": map[string]any{"id": 0, "vlans": []any{"external"}, "strict": true},
		},
	}

	require.NoError(t, NewNetwork(decl, testDeps(dev)).Process(context.Background()))

	assert.Empty(t, dev.CallsFor("createOrModify"))
	calls := dev.CallsFor("modify")
	require.Len(t, calls, 1)
	assert.Equal(t, "/tm/net/route-domain/~Common~0", calls[0].Path)
	assert.Equal(t, map[string]any{"vlans": []any{"/Common/external"}, "strict": "enabled"}, calls[0].Body)
}

func TestNetworkRejectedRoute(t *testing.T) {
	dev := bigiptest.New()
	dev.Fail("createOrModify", "/tm/net/route", &types.DeviceError{
		Method:     "POST",
		Path:       "/tm/net/route",
		StatusCode: 400,
		Message:    "invalid IP address: not-an-ip",
	})
	decl := map[string]any{
		"Route": map[string]any{"myRoute": map[string]any{"gw": "not-an-ip", "network": "default"}},
	}

	err := NewNetwork(decl, testDeps(dev)).Process(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "myRoute")

	var devErr *types.DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, 400, devErr.StatusCode)
}
