// Package onboard runs submitted declarations as tasks: validate, snapshot
// the device, apply, save, reboot when the device asks for it, and roll back
// to the snapshot when the apply fails.
package onboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/onboard/pkg/bigip"
	"github.com/cuemby/onboard/pkg/configreader"
	"github.com/cuemby/onboard/pkg/declaration"
	"github.com/cuemby/onboard/pkg/events"
	"github.com/cuemby/onboard/pkg/handler"
	"github.com/cuemby/onboard/pkg/log"
	"github.com/cuemby/onboard/pkg/metrics"
	"github.com/cuemby/onboard/pkg/parser"
	"github.com/cuemby/onboard/pkg/retry"
	"github.com/cuemby/onboard/pkg/security"
	"github.com/cuemby/onboard/pkg/task"
	"github.com/cuemby/onboard/pkg/types"
	"github.com/cuemby/onboard/pkg/validator"
)

// Task result messages
const (
	MessageSuccess        = "success"
	MessageRunning        = "processing"
	MessageBadDeclaration = "bad declaration"
	MessageRebooting      = "reboot required"
	MessageRollingBack    = "rolling back"
	MessageRevoking       = "revoking license"
	MessageRolledBack     = "invalid config - rolled back"
	MessageRollbackFailed = "invalid config - rollback failed"
)

// Options configure an Orchestrator
type Options struct {
	Tasks     *task.Store
	Connector bigip.Connector
	Resolver  handler.Resolver
	Secrets   *security.SecretsManager
	Broker    *events.Broker
	Timing    handler.Timing
	// RebootPoll bounds the wait for the device to come back after a reboot
	RebootPoll retry.Policy
	// Handlers replaces the domain handler chain. Nil uses the default chain.
	Handlers declaration.HandlerFactory
}

// Orchestrator owns the task state machine
//
//	RUNNING -> OK | REBOOTING -> OK | ROLLING_BACK -> ERROR
//	RUNNING -> REVOKING -> (restart) -> RUNNING
type Orchestrator struct {
	opts   Options
	logger zerolog.Logger

	// lifetime bounds every accepted task; Shutdown cancels it
	lifetime context.Context
	cancel   context.CancelFunc

	// one declaration applies at a time; the device session is exclusive to it
	applyMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates an Orchestrator
func New(opts Options) *Orchestrator {
	if opts.Handlers == nil {
		opts.Handlers = declaration.DefaultHandlers
	}
	if opts.RebootPoll.MaxAttempts == 0 {
		opts.RebootPoll = retry.Policy{MaxAttempts: 90, Interval: 10 * time.Second}
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:     opts,
		logger:   log.WithComponent("onboard"),
		lifetime: lifetime,
		cancel:   cancel,
	}
}

// Submit creates a task for req. Invalid declarations end in ERROR 400
// before any device change. When the declaration is async the task is
// returned while still RUNNING; otherwise Submit returns once it is terminal.
func (o *Orchestrator) Submit(ctx context.Context, req *types.Request) (*types.Task, error) {
	id := o.opts.Tasks.AddTask()
	logger := log.WithTaskID(id)

	if err := o.opts.Tasks.SetDeclaration(id, req.Declaration); err != nil {
		return nil, err
	}
	target := req.Target()
	if err := o.opts.Tasks.SetTarget(id, target); err != nil {
		return nil, err
	}

	device, err := o.opts.Connector.Connect(ctx, target)
	if err != nil {
		logger.Error().Err(err).Str("target", target.Host).Msg("Failed to connect to device")
		o.fail(id, types.CodeInternalServer, "failed to connect to device", err)
		return o.opts.Tasks.GetTask(id)
	}

	info, err := device.DeviceInfo(ctx)
	if err != nil {
		o.fail(id, types.CodeInternalServer, "failed to read device info", err)
		return o.opts.Tasks.GetTask(id)
	}
	if err := validator.Validate(req.Declaration.DeepCopy(), validator.Env{OnBigIQ: info.IsBigIQ()}); err != nil {
		logger.Warn().Err(err).Msg("Declaration rejected")
		var verr *types.ValidationError
		if errors.As(err, &verr) && len(verr.Errors) > 0 {
			_ = o.opts.Tasks.UpdateResult(id, types.CodeBadRequest, types.StatusError, MessageBadDeclaration, verr.Errors...)
		} else {
			_ = o.opts.Tasks.UpdateResult(id, types.CodeBadRequest, types.StatusError, MessageBadDeclaration, err.Error())
		}
		return o.opts.Tasks.GetTask(id)
	}

	o.logger.Info().Str("task_id", id).Bool("async", req.Declaration.Async()).Msg("Declaration accepted")

	// an accepted declaration runs to a terminal state even if the caller goes away
	runCtx, stop := o.detach(ctx)
	o.wg.Add(1)
	if req.Declaration.Async() {
		go func() {
			defer o.wg.Done()
			defer stop()
			o.run(runCtx, id, req, device)
		}()
		return o.opts.Tasks.GetTask(id)
	}

	func() {
		defer o.wg.Done()
		defer stop()
		o.run(runCtx, id, req, device)
	}()
	return o.opts.Tasks.GetTask(id)
}

// detach keeps the values of ctx but takes its cancellation from the
// orchestrator lifetime instead
func (o *Orchestrator) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	unhook := context.AfterFunc(o.lifetime, cancel)
	return runCtx, func() {
		unhook()
		cancel()
	}
}

// Wait blocks until every task started by Submit or Resume has finished
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown waits for running tasks until ctx is done, then cancels them and
// waits for them to stop. A task cancelled while waiting on a reboot stays
// REBOOTING and resumes on the next start.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
	}

	o.logger.Warn().Msg("Tasks still running at shutdown, cancelling")
	o.cancel()
	<-done
	return ctx.Err()
}

// originalConfig returns the device config recorded before the first task
// that targeted host, if any. A resumed task finds its own.
func (o *Orchestrator) originalConfig(host string) types.Config {
	tasks := o.opts.Tasks.ListTasks()
	for i := len(tasks) - 1; i >= 0; i-- {
		t := tasks[i]
		if t.Target.Host == host && t.OriginalConfig != nil {
			return t.OriginalConfig
		}
	}
	return nil
}

func (o *Orchestrator) processor(id string, req *types.Request, device bigip.Device) *declaration.Processor {
	deps := handler.Deps{
		Device:    device,
		Connector: o.opts.Connector,
		Resolver:  o.opts.Resolver,
		Guard:     &revocationGuard{o: o, taskID: id, req: req},
		Timing:    o.opts.Timing,
		Logger:    log.WithTarget(log.WithTaskID(id), device.Host()),
	}
	return declaration.NewProcessor(deps).WithHandlers(o.opts.Handlers)
}

// run applies a validated declaration and drives the task to a terminal state
func (o *Orchestrator) run(ctx context.Context, id string, req *types.Request, device bigip.Device) {
	o.applyMu.Lock()
	defer o.applyMu.Unlock()

	logger := log.WithTaskID(id)
	timer := metrics.NewTimer()

	desired, err := parser.Parse(req.Declaration.DeepCopy())
	if err != nil {
		o.fail(id, types.CodeBadRequest, MessageBadDeclaration, err)
		return
	}
	reader, err := configreader.New(device, logger)
	if err != nil {
		o.fail(id, types.CodeInternalServer, "failed to load config items", err)
		return
	}

	before, err := reader.Get(ctx, desired)
	if err != nil {
		o.fail(id, types.CodeInternalServer, "failed to read current config", err)
		return
	}
	original := o.originalConfig(req.TargetHost)
	if original == nil {
		original = before
	}
	_ = o.opts.Tasks.SetOriginalConfig(id, original)
	_ = o.opts.Tasks.SetCurrentConfig(id, before)

	proc := o.processor(id, req, device)
	state := declaration.State{CurrentConfig: before, OriginalConfig: original}

	applyErr := proc.Process(ctx, req.Declaration, state)
	if applyErr == nil {
		applyErr = device.Save(ctx)
	}
	if applyErr != nil {
		logger.Error().Err(applyErr).Msg("Declaration failed, rolling back")
		o.rollback(ctx, id, reader, proc, before, original, applyErr)
		return
	}

	if after, err := reader.Get(ctx, desired); err != nil {
		logger.Warn().Err(err).Msg("Failed to read config after apply")
	} else {
		_ = o.opts.Tasks.SetCurrentConfig(id, after)
	}

	rebootRequired, err := device.RebootRequired(ctx)
	if err != nil {
		o.fail(id, types.CodeInternalServer, "failed to check reboot status", err)
		return
	}
	if rebootRequired {
		o.reboot(ctx, id, req, device)
		return
	}

	logger.Info().Dur("duration", timer.Duration()).Msg("Onboarding complete")
	o.succeed(id)
}

// rollback replays the pre-apply snapshot against what the device holds now
func (o *Orchestrator) rollback(ctx context.Context, id string, reader *configreader.Reader, proc *declaration.Processor, snapshot, original types.Config, applyErr error) {
	logger := log.WithTaskID(id)
	_ = o.opts.Tasks.UpdateResult(id, types.CodeAccepted, types.StatusRollingBack, MessageRollingBack, applyErr.Error())

	rollbackErr := func() error {
		now, err := reader.Get(ctx, snapshot)
		if err != nil {
			return fmt.Errorf("failed to read config for rollback: %w", err)
		}
		state := declaration.State{CurrentConfig: now, OriginalConfig: original}
		return proc.Process(ctx, types.MarkParsed(snapshot), state)
	}()

	if rollbackErr != nil {
		err := &types.RollbackError{Original: applyErr, Rollback: rollbackErr}
		logger.Error().Err(err).Msg("Rollback failed")
		metrics.RollbacksTotal.WithLabelValues("failure").Inc()
		_ = o.opts.Tasks.ClearPending(id)
		_ = o.opts.Tasks.UpdateResult(id, types.CodeInternalServer, types.StatusError, MessageRollbackFailed, rollbackErr.Error())
		return
	}

	logger.Info().Msg("Rolled back to previous config")
	metrics.RollbacksTotal.WithLabelValues("success").Inc()
	_ = o.opts.Tasks.SetCurrentConfig(id, snapshot)
	_ = o.opts.Tasks.ClearPending(id)
	o.opts.Broker.Publish(&events.Event{Type: events.EventTaskRolledBack, TaskID: id, Status: types.StatusError, Code: types.CodeUnprocessable})
	_ = o.opts.Tasks.UpdateResult(id, types.CodeUnprocessable, types.StatusError, MessageRolledBack)
}

// reboot restarts the device and waits for it to come back. When this agent
// runs on the device the process dies here and Resume finishes the task.
func (o *Orchestrator) reboot(ctx context.Context, id string, req *types.Request, device bigip.Device) {
	logger := log.WithTaskID(id)

	if err := o.seal(id, req); err != nil {
		logger.Warn().Err(err).Msg("Failed to cache request for resume")
	}
	_ = o.opts.Tasks.UpdateResult(id, types.CodeAccepted, types.StatusRebooting, MessageRebooting)

	logger.Info().Msg("Rebooting device")
	if err := device.Reboot(ctx); err != nil {
		o.fail(id, types.CodeInternalServer, "failed to reboot device", err)
		return
	}
	o.finishReboot(ctx, id, device)
}

func (o *Orchestrator) finishReboot(ctx context.Context, id string, device bigip.Device) {
	err := retry.Until(ctx, o.opts.RebootPoll, "device did not become active after reboot", func(ctx context.Context) (bool, error) {
		return device.Active(ctx)
	})
	if err != nil && o.lifetime.Err() != nil && o.resumable(id) {
		logger := log.WithTaskID(id)
		logger.Warn().Msg("Shut down while waiting for reboot, task resumes on next start")
		return
	}
	if err != nil {
		o.fail(id, types.CodeInternalServer, "reboot failed", err)
		return
	}
	o.succeed(id)
}

// resumable reports whether Resume would pick the task up on the next start
func (o *Orchestrator) resumable(id string) bool {
	t, err := o.opts.Tasks.GetTask(id)
	return err == nil && !t.Resumed && len(t.Pending) > 0
}

// succeed and fail are the terminal transitions. Both drop any sealed request.
func (o *Orchestrator) succeed(id string) {
	_ = o.opts.Tasks.ClearPending(id)
	_ = o.opts.Tasks.UpdateResult(id, types.CodeOK, types.StatusOK, MessageSuccess)
}

func (o *Orchestrator) fail(id string, code int, message string, err error) {
	_ = o.opts.Tasks.ClearPending(id)
	_ = o.opts.Tasks.UpdateResult(id, code, types.StatusError, message, err.Error())
}

// seal stores the full request, credentials included, encrypted in the task
func (o *Orchestrator) seal(id string, req *types.Request) error {
	if o.opts.Secrets == nil {
		return fmt.Errorf("no secrets manager configured")
	}
	sealed, err := o.opts.Secrets.Seal(types.PendingRequest{Request: *req})
	if err != nil {
		return err
	}
	return o.opts.Tasks.SetPending(id, sealed, false)
}
