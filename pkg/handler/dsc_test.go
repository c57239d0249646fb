package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/onboard/pkg/bigip/bigiptest"
)

func newPeer(host, hostname string) *bigiptest.Device {
	peer := bigiptest.New()
	peer.HostName = host
	peer.Info.Hostname = hostname
	peer.Info.ManagementAddress = host
	return peer
}

func dscDeps(local *bigiptest.Device, peers ...*bigiptest.Device) Deps {
	deps := testDeps(local)
	conn := &bigiptest.Connector{Default: local, Devices: map[string]*bigiptest.Device{}}
	for _, p := range peers {
		conn.Devices[p.HostName] = p
	}
	deps.Connector = conn
	return deps
}

func trustDecl(remoteHost string) map[string]any {
	return map[string]any{
		"localUsername":  "admin",
		"localPassword":  "local-pw",
		"remoteHost":     remoteHost,
		"remoteUsername": "admin",
		"remotePassword": "remote-pw",
	}
}

func groupDecl(owner string) map[string]any {
	return map[string]any{
		"failoverGroup": map[string]any{
			"type":    "sync-failover",
			"owner":   owner,
			"members": []any{"bigip1.example.com", "bigip2.example.com"},
		},
	}
}

func TestDSCConfigSyncAndFailover(t *testing.T) {
	dev := bigiptest.New()
	decl := map[string]any{
		"ConfigSync":      map[string]any{"configsyncIp": "10.2.0.5/24"},
		"FailoverUnicast": map[string]any{"address": "10.2.0.5"},
	}

	require.NoError(t, NewDSC(decl, testDeps(dev)).Process(context.Background()))

	assert.Equal(t, []string{"10.2.0.5"}, dev.Paths("cluster.configSyncIp"))
	calls := dev.CallsFor("modify")
	require.Len(t, calls, 1)
	assert.Equal(t, "/tm/cm/device/~Common~bigip1.example.com", calls[0].Path)
	assert.Equal(t, map[string]any{"unicastAddress": []any{map[string]any{"ip": "10.2.0.5", "port": 1026}}}, calls[0].Body)
}

func TestDSCJoinsClusterWhenNeitherRemoteNorOwner(t *testing.T) {
	dev := bigiptest.New()
	peer := newPeer("10.0.0.2", "bigip2.example.com")
	decl := map[string]any{
		"DeviceTrust": trustDecl("10.0.0.2"),
		"DeviceGroup": groupDecl("10.0.0.2"),
	}

	require.NoError(t, NewDSC(decl, dscDeps(dev, peer)).Process(context.Background()))

	calls := dev.CallsFor("cluster.joinCluster")
	require.Len(t, calls, 1)
	assert.Equal(t, "failoverGroup", calls[0].Path)
	assert.Equal(t, map[string]any{"localHost": "10.0.0.1", "remote": "10.0.0.2"}, calls[0].Body)
	assert.Empty(t, dev.CallsFor("cluster.createDeviceGroup"))
	assert.Empty(t, peer.CallsFor("cluster.addToTrust"))
}

func TestDSCRemotePeerOnlyHandlesGroup(t *testing.T) {
	dev := bigiptest.New()
	dev.SetCollection("/tm/net/self", map[string]any{"name": "self1", "address": "10.1.0.5/24"})
	dev.ClusterFake.Trusted = []string{"bigip2.example.com"}
	decl := map[string]any{
		"DeviceTrust": trustDecl("10.1.0.5/24"),
		"DeviceGroup": groupDecl("/Common/bigip1.example.com"),
	}

	require.NoError(t, NewDSC(decl, dscDeps(dev)).Process(context.Background()))

	assert.Empty(t, dev.CallsFor("cluster.joinCluster"))
	assert.Empty(t, dev.CallsFor("cluster.syncComplete"))
	create := dev.CallsFor("cluster.createDeviceGroup")
	require.Len(t, create, 1)
	assert.Equal(t, map[string]any{
		"type":    "sync-failover",
		"devices": []any{"bigip1.example.com", "bigip2.example.com"},
	}, create[0].Body)
	assert.Equal(t, []string{"failoverGroup"}, dev.Paths("cluster.sync"))
}

func TestDSCOwnerEstablishesTrustThenCreatesGroup(t *testing.T) {
	dev := bigiptest.New()
	peer := newPeer("10.0.0.2", "bigip2.example.com")
	decl := map[string]any{
		"DeviceTrust": trustDecl("10.0.0.2"),
		"DeviceGroup": groupDecl("bigip1.example.com"),
	}

	require.NoError(t, NewDSC(decl, dscDeps(dev, peer)).Process(context.Background()))

	assert.Equal(t, []string{"10.0.0.1"}, peer.Paths("cluster.addToTrust"))
	assert.Len(t, dev.CallsFor("cluster.syncComplete"), 1)
	require.Len(t, dev.CallsFor("cluster.createDeviceGroup"), 1)
	assert.Empty(t, dev.CallsFor("cluster.sync"), "a group without trusted peers needs no sync")
}

func TestDSCTrustOnly(t *testing.T) {
	t.Run("asks the remote to add this device", func(t *testing.T) {
		dev := bigiptest.New()
		peer := newPeer("10.0.0.2", "bigip2.example.com")
		decl := map[string]any{"DeviceTrust": trustDecl("10.0.0.2")}

		require.NoError(t, NewDSC(decl, dscDeps(dev, peer)).Process(context.Background()))

		calls := peer.CallsFor("cluster.addToTrust")
		require.Len(t, calls, 1)
		assert.Equal(t, "10.0.0.1", calls[0].Path)
		assert.Equal(t, map[string]any{"username": "admin"}, calls[0].Body)
		assert.Len(t, dev.CallsFor("cluster.syncComplete"), 1)
	})

	t.Run("this device is the remote", func(t *testing.T) {
		dev := bigiptest.New()
		decl := map[string]any{"DeviceTrust": trustDecl("bigip1.example.com")}

		require.NoError(t, NewDSC(decl, dscDeps(dev)).Process(context.Background()))
		assert.Empty(t, dev.CallsFor("cluster.addToTrust"))
		assert.Empty(t, dev.CallsFor("cluster.syncComplete"))
	})

	t.Run("unresolvable remote", func(t *testing.T) {
		dev := bigiptest.New()
		deps := dscDeps(dev)
		deps.Resolver = &fakeResolver{failing: map[string]bool{"peer.example.com": true}}
		decl := map[string]any{"DeviceTrust": trustDecl("peer.example.com")}

		err := NewDSC(decl, deps).Process(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unable to resolve host peer.example.com")
	})
}

func TestDSCJoinDeviceGroupWaitsForGroup(t *testing.T) {
	t.Run("group appears", func(t *testing.T) {
		dev := bigiptest.New()
		dev.ClusterFake.Groups["failoverGroup"] = true
		dev.ClusterFake.GroupAppearsAfter = 2
		decl := map[string]any{"DeviceGroup": groupDecl("bigip2.example.com")}

		require.NoError(t, NewDSC(decl, testDeps(dev)).Process(context.Background()))

		assert.Len(t, dev.CallsFor("cluster.hasDeviceGroup"), 3)
		calls := dev.CallsFor("cluster.addToDeviceGroup")
		require.Len(t, calls, 1)
		assert.Equal(t, "bigip1.example.com", calls[0].Body)
		assert.Equal(t, []string{"failoverGroup"}, dev.Paths("cluster.sync"))
	})

	t.Run("group never appears", func(t *testing.T) {
		dev := bigiptest.New()
		decl := map[string]any{"DeviceGroup": groupDecl("bigip2.example.com")}

		err := NewDSC(decl, testDeps(dev)).Process(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "device group failoverGroup never appeared on this device")
		assert.Len(t, dev.CallsFor("cluster.hasDeviceGroup"), 3)
		assert.Empty(t, dev.CallsFor("cluster.addToDeviceGroup"))
	})
}

func TestDSCSelfIPListNotArrayIsNotRemote(t *testing.T) {
	dev := bigiptest.New()
	dev.SetObject("/tm/net/self", map[string]any{"address": "10.1.0.5/24"})
	peer := newPeer("10.1.0.5", "bigip2.example.com")
	decl := map[string]any{
		"DeviceTrust": trustDecl("10.1.0.5"),
		"DeviceGroup": groupDecl("bigip2.example.com"),
	}

	require.NoError(t, NewDSC(decl, dscDeps(dev, peer)).Process(context.Background()))
	assert.Len(t, dev.CallsFor("cluster.joinCluster"), 1)
}
