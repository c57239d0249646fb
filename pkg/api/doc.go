/*
Package api serves the agent's REST surface with gin.

# Routes

	POST /declarative-onboarding            submit a declaration (bare or DO-wrapped)
	GET  /declarative-onboarding            most recent task
	GET  /declarative-onboarding/task       every task
	GET  /declarative-onboarding/task/:id   one task
	GET  /declarative-onboarding/info       agent and schema versions
	GET  /health, /ready                    liveness and readiness
	GET  /metrics                           prometheus metrics

Task responses carry the HTTP status matching the task state: 202 while a
task is RUNNING, REBOOTING, ROLLING_BACK or REVOKING, then the result code
recorded with the task (200, 400, 422 or 500). The task routes accept
?show=full to include the current and original device config.

A POST blocks until the task is terminal unless the declaration sets
"async": true, in which case it answers 202 right away.

WithCORS enables CORS for browser clients on the configured origins.
*/
package api
