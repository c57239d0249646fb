package onboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/onboard/pkg/handler"
	"github.com/cuemby/onboard/pkg/types"
)

func TestRevocationGuardSealsRequest(t *testing.T) {
	f := newFixture(t)
	req := request(map[string]any{"myRoute": route("1.1.1.1")})
	req.TargetPassphrase = "s3cret"
	id := f.tasks.AddTask()

	guard := &revocationGuard{o: f.o, taskID: id, req: req}
	require.NoError(t, guard.BeforeRevoke(context.Background(), handler.PendingRevocation{
		BigIQHost:  "10.0.0.50",
		PoolName:   "pool1",
		RevokeFrom: "pool1",
	}))

	got, err := f.tasks.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRevoking, got.Result.Status)
	assert.Equal(t, types.CodeAccepted, got.Result.Code)
	require.NotEmpty(t, got.Pending)
	assert.NotContains(t, string(got.Pending), "s3cret")

	var pending types.PendingRequest
	require.NoError(t, f.o.opts.Secrets.Open(got.Pending, &pending))
	assert.Equal(t, "s3cret", pending.Request.TargetPassphrase)
}

func TestResumeAfterReboot(t *testing.T) {
	f := newFixture(t)
	req := request(map[string]any{"myRoute": route("1.1.1.1")})
	id := f.tasks.AddTask()
	require.NoError(t, f.o.seal(id, req))
	require.NoError(t, f.tasks.UpdateResult(id, types.CodeAccepted, types.StatusRebooting, MessageRebooting))

	require.NoError(t, f.o.Resume(context.Background()))
	f.o.Wait()

	got, err := f.tasks.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOK, got.Result.Status)
	assert.True(t, got.Resumed)
	assert.Empty(t, got.Pending)
	assert.Empty(t, f.dev.CallsFor("save"))

	require.NoError(t, f.o.Resume(context.Background()))
	f.o.Wait()
	assert.Len(t, f.dev.CallsFor("active"), 1)
}

func TestResumeAfterRevocation(t *testing.T) {
	f := newFixture(t)
	req := request(map[string]any{
		"myNtp": map[string]any{"class": "NTP", "servers": []any{"0.pool.ntp.org"}},
	})
	id := f.tasks.AddTask()
	require.NoError(t, f.o.seal(id, req))
	require.NoError(t, f.tasks.UpdateResult(id, types.CodeAccepted, types.StatusRevoking, MessageRevoking))

	require.NoError(t, f.o.Resume(context.Background()))
	f.o.Wait()

	got, err := f.tasks.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOK, got.Result.Status)
	assert.True(t, got.Resumed)
	assert.Empty(t, got.Pending)
	assert.Equal(t, []string{"/tm/sys/ntp"}, f.dev.Paths("replace"))
}

func TestWithoutRevocation(t *testing.T) {
	decl := request(map[string]any{
		"myLicense": map[string]any{
			"class":         "License",
			"licenseType":   "licensePool",
			"bigIqHost":     "10.0.0.50",
			"licensePool":   "pool1",
			"revokeFrom":    "pool1",
			"revokeCurrent": true,
		},
	}).Declaration

	withoutRevocation(decl)

	license := decl["Common"].(map[string]any)["myLicense"].(map[string]any)
	assert.NotContains(t, license, "revokeFrom")
	assert.NotContains(t, license, "revokeCurrent")
	assert.Equal(t, "pool1", license["licensePool"])
}

func TestResumeIgnoresSettledTasks(t *testing.T) {
	tests := []struct {
		name    string
		status  types.TaskStatus
		pending bool
		resumed bool
	}{
		{"finished", types.StatusOK, true, false},
		{"nothing cached", types.StatusRebooting, false, false},
		{"already resumed", types.StatusRebooting, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.tasks.AddTask()
			if tt.pending {
				require.NoError(t, f.o.seal(id, request(nil)))
			}
			if tt.resumed {
				require.NoError(t, f.tasks.SetPending(id, f.tasks.MostRecentTask().Pending, true))
			}
			require.NoError(t, f.tasks.UpdateResult(id, types.CodeOK, tt.status, ""))

			require.NoError(t, f.o.Resume(context.Background()))
			f.o.Wait()
			assert.Empty(t, f.dev.Calls())
		})
	}
}
