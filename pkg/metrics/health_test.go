package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		wantStatus string
	}{
		{name: "no components", components: nil, wantStatus: "healthy"},
		{name: "all healthy", components: map[string]bool{ComponentStorage: true, ComponentDevice: true}, wantStatus: "healthy"},
		{name: "device down", components: map[string]bool{ComponentStorage: true, ComponentDevice: false}, wantStatus: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			healthChecker = newHealthChecker()
			for name, healthy := range tt.components {
				UpdateComponent(name, healthy, "msg")
			}

			health := GetHealth()
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.Len(t, health.Components, len(tt.components))
		})
	}
}

func TestGetReadiness(t *testing.T) {
	tests := []struct {
		name        string
		components  map[string]bool
		wantStatus  string
		wantMessage string
	}{
		{
			name:       "critical components ready",
			components: map[string]bool{ComponentStorage: true, ComponentAPI: true, ComponentDevice: false},
			wantStatus: "ready",
		},
		{
			name:        "storage not registered",
			components:  map[string]bool{ComponentAPI: true},
			wantStatus:  "not_ready",
			wantMessage: "waiting for storage initialization",
		},
		{
			name:        "api unhealthy",
			components:  map[string]bool{ComponentStorage: true, ComponentAPI: false},
			wantStatus:  "not_ready",
			wantMessage: "waiting for api",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			healthChecker = newHealthChecker()
			for name, healthy := range tt.components {
				UpdateComponent(name, healthy, "starting")
			}

			readiness := GetReadiness()
			assert.Equal(t, tt.wantStatus, readiness.Status)
			assert.Equal(t, tt.wantMessage, readiness.Message)
		})
	}
}
