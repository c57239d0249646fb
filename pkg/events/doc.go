/*
Package events broadcasts onboarding task lifecycle transitions.

Publishers push onto a buffered channel (100 events); a single loop fans
each event out to every subscriber's own buffered channel (50 events). A
subscriber whose buffer is full misses the event rather than stalling the
task that published it.

Event types:

	task.created      a declaration was accepted and a task id assigned
	task.status       a task moved to a new status
	task.rolled_back  a failed apply was reverted to the prior snapshot
	task.resumed      a task left REBOOTING or REVOKING was picked up on start

Usage:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			logger.Info().Str("task_id", ev.TaskID).Str("status", string(ev.Status)).Msg(string(ev.Type))
		}
	}()
*/
package events
