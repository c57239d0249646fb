package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuemby/onboard/pkg/metrics"
)

// healthHandler is a liveness check: 200 while no component reports a failure
func healthHandler(c *gin.Context) {
	health := metrics.GetHealth()
	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, health)
}

// readyHandler reports 200 once storage and the API are up
func readyHandler(c *gin.Context) {
	readiness := metrics.GetReadiness()
	code := http.StatusOK
	if readiness.Status != "ready" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, readiness)
}
