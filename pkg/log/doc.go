/*
Package log wraps zerolog for the agent.

Init configures the global Logger once at startup from the log section of
the agent config: level (debug, info, warn, error; anything else is info)
and JSON or console output. Packages never write to Logger directly;
they derive a child logger that carries the field identifying them:

	logger := log.WithComponent("task")
	logger.Info().Str("task_id", id).Msg("Task created")

A task's handlers log through one logger tagged with the task id and the
device address:

	logger := log.WithTarget(log.WithTaskID(id), device.Host())
	logger.Debug().Str("path", path).Msg("Modify")

Passwords and passphrases are never logged.

Tests that build handlers pass Nop.
*/
package log
