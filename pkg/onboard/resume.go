package onboard

import (
	"context"
	"fmt"

	"github.com/cuemby/onboard/pkg/events"
	"github.com/cuemby/onboard/pkg/handler"
	"github.com/cuemby/onboard/pkg/log"
	"github.com/cuemby/onboard/pkg/types"
)

// revocationGuard records the task as REVOKING, with its request sealed,
// before the System handler revokes a license
type revocationGuard struct {
	o      *Orchestrator
	taskID string
	req    *types.Request
}

func (g *revocationGuard) BeforeRevoke(ctx context.Context, pending handler.PendingRevocation) error {
	if err := g.o.seal(g.taskID, g.req); err != nil {
		return fmt.Errorf("failed to cache credentials before revoking license: %w", err)
	}
	logger := log.WithTaskID(g.taskID)
	logger.Info().
		Str("bigIq", pending.BigIQHost).
		Str("revokeFrom", pending.RevokeFrom).
		Msg("Revoking license, task state saved for resume")
	return g.o.opts.Tasks.UpdateResult(g.taskID, types.CodeAccepted, types.StatusRevoking, MessageRevoking)
}

// Resume picks up the most recent task when a previous process left it
// REBOOTING or REVOKING. Each task is resumed at most once.
func (o *Orchestrator) Resume(ctx context.Context) error {
	t := o.opts.Tasks.MostRecentTask()
	if t == nil || t.Resumed || len(t.Pending) == 0 {
		return nil
	}
	if t.Result.Status != types.StatusRebooting && t.Result.Status != types.StatusRevoking {
		return nil
	}
	logger := log.WithTaskID(t.ID)

	if o.opts.Secrets == nil {
		return fmt.Errorf("task %s needs resuming but no secrets manager is configured", t.ID)
	}
	var pending types.PendingRequest
	if err := o.opts.Secrets.Open(t.Pending, &pending); err != nil {
		o.fail(t.ID, types.CodeInternalServer, "failed to recover cached request", err)
		return err
	}
	// wipe the credentials and mark the task resumed before doing anything that can die again
	if err := o.opts.Tasks.SetPending(t.ID, nil, true); err != nil {
		return err
	}
	req := pending.Request

	logger.Info().Str("status", string(t.Result.Status)).Msg("Resuming task")
	o.opts.Broker.Publish(&events.Event{Type: events.EventTaskResumed, TaskID: t.ID, Status: t.Result.Status})

	device, err := o.opts.Connector.Connect(ctx, req.Target())
	if err != nil {
		o.fail(t.ID, types.CodeInternalServer, "failed to connect to device", err)
		return err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if t.Result.Status == types.StatusRebooting {
			o.finishReboot(o.lifetime, t.ID, device)
			return
		}
		_ = o.opts.Tasks.UpdateResult(t.ID, types.CodeAccepted, types.StatusRunning, MessageRunning)
		withoutRevocation(req.Declaration)
		o.run(o.lifetime, t.ID, &req, device)
	}()
	return nil
}

// withoutRevocation drops the revoke request from every License object.
// The revocation already happened before the process was restarted.
func withoutRevocation(decl types.Declaration) {
	for _, v := range decl {
		tenant, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for _, item := range tenant {
			obj, ok := item.(map[string]any)
			if !ok || obj["class"] != "License" {
				continue
			}
			delete(obj, "revokeFrom")
			delete(obj, "revokeCurrent")
		}
	}
}
