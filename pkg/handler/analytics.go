package handler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/onboard/pkg/bigip"
	"github.com/cuemby/onboard/pkg/types"
)

// Analytics configures AVR global settings
type Analytics struct {
	decl   map[string]any
	deps   Deps
	logger zerolog.Logger
}

func NewAnalytics(decl map[string]any, deps Deps) *Analytics {
	return &Analytics{decl: decl, deps: deps, logger: deps.logger("analytics")}
}

func (h *Analytics) Name() string { return "analytics" }

func (h *Analytics) Process(ctx context.Context) error {
	a, ok, err := decodeSection[types.Analytics](h.decl, "Analytics")
	if err != nil || !ok {
		return err
	}

	dev := h.deps.Device
	resp, err := dev.List(ctx, bigip.CommonPath("/tm/sys/provision", "avr"))
	if err != nil && !bigip.IsNotFound(err) {
		return err
	}
	module, _ := resp.(map[string]any)
	if level, _ := module["level"].(string); level == "" || level == "none" {
		return fmt.Errorf("avr must be provisioned to configure Analytics")
	}

	body := map[string]any{
		"avrd-debug-mode": enabled(a.DebugEnabled),
		"use-offbox":      enabled(a.OffboxEnabled),
	}
	if a.Interval != 0 {
		body["avrd-interval"] = a.Interval
	}
	if a.OffboxProtocol != "" {
		body["offbox-protocol"] = a.OffboxProtocol
	}
	if a.OffboxTCPAddresses != nil {
		body["offbox-tcp-addresses"] = a.OffboxTCPAddresses
	}
	if a.OffboxTCPPort != 0 {
		body["offbox-tcp-port"] = a.OffboxTCPPort
	}
	if a.SourceID != "" {
		body["source-id"] = a.SourceID
	}
	if a.TenantID != "" {
		body["tenant-id"] = a.TenantID
	}

	h.logger.Info().Bool("offbox", a.OffboxEnabled).Msg("Configuring analytics")
	_, err = dev.Modify(ctx, "/tm/analytics/global-settings", body)
	return err
}
