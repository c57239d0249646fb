/*
Package health checks the configured device while the agent runs.

Two checkers exist: TCPChecker dials the management port, DeviceChecker
opens a REST session through a bigip.Connector and asks whether the
device reports itself active. A Monitor runs them on a fixed interval and
publishes the combined result as the "device" component of the agent
health (GET /health).

# Failure threshold

A single failed check does not flip the device to unhealthy. Each checker
keeps a Status; after Config.Retries consecutive failures the device is
reported unhealthy, and the next success restores it:

	monitor := health.NewMonitor(health.Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	},
		health.NewTCPChecker("192.0.2.10", 443),
		health.NewDeviceChecker(bigip.Dialer{Defaults: opts}, types.Target{}),
	)
	monitor.Start()
	defer monitor.Stop()

The device component is not part of readiness: an unreachable target
still lets the agent accept declarations and serve task status. A device
that is rebooting after a declaration will show as unhealthy until it
comes back.
*/
package health
