package onboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/onboard/pkg/bigip"
	"github.com/cuemby/onboard/pkg/bigip/bigiptest"
	"github.com/cuemby/onboard/pkg/declaration"
	"github.com/cuemby/onboard/pkg/handler"
	"github.com/cuemby/onboard/pkg/retry"
	"github.com/cuemby/onboard/pkg/security"
	"github.com/cuemby/onboard/pkg/task"
	"github.com/cuemby/onboard/pkg/types"
)

type staticResolver struct{}

func (staticResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return []string{"192.0.2.10"}, nil
}

func fastTiming() handler.Timing {
	fast := retry.Policy{MaxAttempts: 3, Interval: time.Millisecond}
	return handler.Timing{
		ProvisionPoll:   fast,
		DHCPPoll:        fast,
		DeviceGroupPoll: fast,
		SyncPoll:        bigip.RetryPolicy{MaxAttempts: 3, Interval: time.Millisecond},
		LicensePoll:     bigip.RetryPolicy{MaxAttempts: 3, Interval: time.Millisecond},
	}
}

type fixture struct {
	dev   *bigiptest.Device
	tasks *task.Store
	o     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := bigiptest.New()
	dev.SetCollection("/tm/sys/provision", map[string]any{"name": "ltm", "level": "nominal"})

	tasks, err := task.NewStore(nil, nil)
	require.NoError(t, err)
	secrets, err := security.NewSecretsManager([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	o := New(Options{
		Tasks:      tasks,
		Connector:  &bigiptest.Connector{Default: dev, Devices: map[string]*bigiptest.Device{}},
		Resolver:   staticResolver{},
		Secrets:    secrets,
		Timing:     fastTiming(),
		RebootPoll: retry.Policy{MaxAttempts: 5, Interval: time.Millisecond},
	})
	return &fixture{dev: dev, tasks: tasks, o: o}
}

func request(objects map[string]any) *types.Request {
	common := map[string]any{"class": "Tenant"}
	for k, v := range objects {
		common[k] = v
	}
	return &types.Request{
		Class: "DO",
		Declaration: types.Declaration{
			"schemaVersion": "1.0.0",
			"class":         "Device",
			"Common":        common,
		},
	}
}

func route(gw string) map[string]any {
	return map[string]any{"class": "Route", "gw": gw, "network": "default"}
}

func TestSubmitNTP(t *testing.T) {
	f := newFixture(t)
	req := request(map[string]any{
		"myNtp": map[string]any{"class": "NTP", "servers": []any{"0.pool.ntp.org"}, "timezone": "UTC"},
	})

	result, err := f.o.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, types.StatusOK, result.Result.Status)
	assert.Equal(t, types.CodeOK, result.Result.Code)
	assert.Equal(t, MessageSuccess, result.Result.Message)

	calls := f.dev.CallsFor("replace")
	require.Len(t, calls, 1)
	assert.Equal(t, "/tm/sys/ntp", calls[0].Path)
	assert.Equal(t, map[string]any{"servers": []any{"0.pool.ntp.org"}, "timezone": "UTC"}, calls[0].Body)
	assert.Len(t, f.dev.CallsFor("save"), 1)
	assert.NotNil(t, result.OriginalConfig)
}

func TestSubmitRollsBackFailedDeclaration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.o.Submit(ctx, request(map[string]any{"myRoute": route("1.1.1.1")}))
	require.NoError(t, err)
	require.Equal(t, types.StatusOK, first.Result.Status)

	f.dev.FailOnce("createOrModify", "/tm/net/route", &types.DeviceError{
		Method: "POST", Path: "/tm/net/route", StatusCode: 400, Message: "invalid gateway",
	})
	second, err := f.o.Submit(ctx, request(map[string]any{"myRoute": route("2.2.2.2")}))
	require.NoError(t, err)

	assert.Equal(t, types.StatusError, second.Result.Status)
	assert.Equal(t, types.CodeUnprocessable, second.Result.Code)
	assert.Contains(t, second.Result.Message, "rolled back")
	require.NotEmpty(t, second.Result.Errors)
	assert.Contains(t, second.Result.Errors[0], "invalid gateway")

	routes := second.CurrentConfig.Common()["Route"].(map[string]any)
	assert.Equal(t, "1.1.1.1", routes["myRoute"].(map[string]any)["gw"])
	assert.Equal(t, "1.1.1.1", f.dev.Object("/tm/net/route/~Common~myRoute")["gw"])
	assert.Equal(t, first.OriginalConfig, second.OriginalConfig)
}

type failingHandler struct{}

func (failingHandler) Name() string { return "network" }

func (failingHandler) Process(ctx context.Context) error {
	return errors.New("device unreachable")
}

func TestSubmitRollbackFailure(t *testing.T) {
	f := newFixture(t)
	f.o.opts.Handlers = func(*declaration.Plan, handler.Deps) []handler.Handler {
		return []handler.Handler{failingHandler{}}
	}

	result, err := f.o.Submit(context.Background(), request(map[string]any{"myRoute": route("2.2.2.2")}))
	require.NoError(t, err)

	assert.Equal(t, types.StatusError, result.Result.Status)
	assert.Equal(t, types.CodeInternalServer, result.Result.Code)
	assert.Equal(t, MessageRollbackFailed, result.Result.Message)
	assert.Equal(t, []string{"network: device unreachable", "network: device unreachable"}, result.Result.Errors)
}

func TestSubmitRejectsInvalidDeclaration(t *testing.T) {
	f := newFixture(t)
	req := request(nil)
	req.Declaration["schemaVersion"] = "0.0.1"

	result, err := f.o.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, types.StatusError, result.Result.Status)
	assert.Equal(t, types.CodeBadRequest, result.Result.Code)
	assert.Equal(t, MessageBadDeclaration, result.Result.Message)
	assert.NotEmpty(t, result.Result.Errors)
	assert.Empty(t, f.dev.CallsFor("modify"))
	assert.Empty(t, f.dev.CallsFor("save"))
}

func TestSubmitConnectFailure(t *testing.T) {
	f := newFixture(t)
	req := request(nil)
	req.TargetHost = "203.0.113.9"
	req.TargetPassphrase = "secret"

	result, err := f.o.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, types.StatusError, result.Result.Status)
	assert.Equal(t, types.CodeInternalServer, result.Result.Code)
	assert.Equal(t, "203.0.113.9", result.Target.Host)
	assert.Empty(t, result.Target.Password)
}

func TestSubmitReboots(t *testing.T) {
	f := newFixture(t)
	f.dev.NeedsReboot = true
	f.dev.ActiveSequence = []bool{false, true}

	result, err := f.o.Submit(context.Background(), request(map[string]any{"myRoute": route("1.1.1.1")}))
	require.NoError(t, err)

	assert.Equal(t, types.StatusOK, result.Result.Status)
	assert.Len(t, f.dev.CallsFor("reboot"), 1)
	assert.Empty(t, result.Pending)
}

func TestSubmitRebootNeverComesBack(t *testing.T) {
	f := newFixture(t)
	f.dev.NeedsReboot = true
	f.dev.ActiveSequence = []bool{false, false, false, false, false}

	result, err := f.o.Submit(context.Background(), request(map[string]any{"myRoute": route("1.1.1.1")}))
	require.NoError(t, err)

	assert.Equal(t, types.StatusError, result.Result.Status)
	assert.Equal(t, types.CodeInternalServer, result.Result.Code)
	assert.Contains(t, result.Result.Errors, "device did not become active after reboot")
}

func TestSubmitAsync(t *testing.T) {
	f := newFixture(t)
	f.dev.Delay("modify", "/tm/sys/global-settings", 50*time.Millisecond)
	req := request(map[string]any{"myRoute": route("1.1.1.1")})
	req.Declaration["async"] = true

	result, err := f.o.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, result.Result.Status)
	assert.Equal(t, types.CodeAccepted, result.Result.Code)

	f.o.Wait()
	done, err := f.tasks.GetTask(result.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOK, done.Result.Status)
}

func TestSubmitOutlivesCallerContext(t *testing.T) {
	f := newFixture(t)

	first, err := f.o.Submit(context.Background(), request(map[string]any{"myRoute": route("1.1.1.1")}))
	require.NoError(t, err)
	require.Equal(t, types.StatusOK, first.Result.Status)

	f.dev.Delay("createOrModify", "/tm/net/route", 100*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	second, err := f.o.Submit(ctx, request(map[string]any{"myRoute": route("2.2.2.2")}))
	require.NoError(t, err)

	assert.Error(t, ctx.Err())
	assert.Equal(t, types.StatusOK, second.Result.Status, second.Result.Errors)
	assert.Equal(t, "2.2.2.2", f.dev.Object("/tm/net/route/~Common~myRoute")["gw"])
}

// revokingHandler stands in for a System handler whose license revocation
// did not take the process down
type revokingHandler struct {
	guard handler.RevocationGuard
	err   error
}

func (h revokingHandler) Name() string { return "system" }

func (h revokingHandler) Process(ctx context.Context) error {
	if err := h.guard.BeforeRevoke(ctx, handler.PendingRevocation{BigIQHost: "10.0.0.50", RevokeFrom: "pool1"}); err != nil {
		return err
	}
	return h.err
}

func TestTerminalStatesWipeSealedRequest(t *testing.T) {
	tests := []struct {
		name       string
		handlerErr error
		failOnce   bool
		wantStatus types.TaskStatus
		wantCode   int
	}{
		{"success", nil, false, types.StatusOK, types.CodeOK},
		{"rolled back", errors.New("bad license"), false, types.StatusError, types.CodeUnprocessable},
		{"rollback failed", errors.New("bad license"), true, types.StatusError, types.CodeInternalServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			calls := 0
			f.o.opts.Handlers = func(plan *declaration.Plan, deps handler.Deps) []handler.Handler {
				calls++
				if calls > 1 && tt.failOnce {
					return []handler.Handler{failingHandler{}}
				}
				if calls > 1 {
					return nil
				}
				return []handler.Handler{revokingHandler{guard: deps.Guard, err: tt.handlerErr}}
			}

			req := request(nil)
			req.TargetPassphrase = "s3cret"
			result, err := f.o.Submit(context.Background(), req)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, result.Result.Status)
			assert.Equal(t, tt.wantCode, result.Result.Code)
			assert.Empty(t, result.Pending)
		})
	}
}

func TestShutdownCancelsRebootWait(t *testing.T) {
	f := newFixture(t)
	f.o.opts.RebootPoll = retry.Policy{MaxAttempts: 1000, Interval: 10 * time.Millisecond}
	f.dev.NeedsReboot = true
	f.dev.ActiveSequence = make([]bool, 1000)
	req := request(map[string]any{"myRoute": route("1.1.1.1")})
	req.Declaration["async"] = true

	result, err := f.o.Submit(context.Background(), req)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.tasks.GetTask(result.ID)
		return err == nil && got.Result.Status == types.StatusRebooting
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.ErrorIs(t, f.o.Shutdown(ctx), context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	got, err := f.tasks.GetTask(result.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRebooting, got.Result.Status)
	assert.NotEmpty(t, got.Pending)
	assert.False(t, got.Resumed)
}

func TestShutdownIdle(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.o.Shutdown(context.Background()))
}
