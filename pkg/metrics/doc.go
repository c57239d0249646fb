/*
Package metrics provides Prometheus metrics and health reporting for the
onboarding agent.

All collectors are registered with the default registry at package init and
exposed through Handler on /metrics.

# Metric Categories

Tasks:
  - onboard_tasks_total{status}: task status transitions
  - onboard_tasks{status}: current task count per status, sampled by Collector
  - onboard_rollbacks_total{result}: rollbacks by outcome (success, failure)

Reconciliation:
  - onboard_handler_duration_seconds{handler}: time spent in each domain handler
  - onboard_declaration_duration_seconds: end-to-end declaration apply time

Device and API:
  - onboard_device_requests_total{method,code}: management API calls
  - onboard_api_requests_total{route,status}: agent HTTP requests
  - onboard_api_request_duration_seconds{route}

# Timing

	timer := metrics.NewTimer()
	err := h.Process(ctx)
	timer.ObserveDurationVec(metrics.HandlerDuration, h.Name())

# Health

Components report health with UpdateComponent. GetReadiness only considers
CriticalComponents, so an unreachable device does not make the agent unready.
The device component is kept current by health.Monitor.
*/
package metrics
