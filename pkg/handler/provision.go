package handler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/onboard/pkg/retry"
	"github.com/cuemby/onboard/pkg/types"
)

// Provision raises module levels. Modules going to none are left to Deprovision.
type Provision struct {
	decl   map[string]any
	deps   Deps
	logger zerolog.Logger
}

func NewProvision(decl map[string]any, deps Deps) *Provision {
	return &Provision{decl: decl, deps: deps, logger: deps.logger("provision")}
}

func (h *Provision) Name() string { return "provision" }

func (h *Provision) Process(ctx context.Context) error {
	return provisionModules(ctx, h.deps, h.logger, h.decl, func(level string) bool { return level != "none" })
}

// Deprovision turns off the modules declared at level none. It runs last so
// that no earlier handler configures a module that is going away.
type Deprovision struct {
	decl   map[string]any
	deps   Deps
	logger zerolog.Logger
}

func NewDeprovision(decl map[string]any, deps Deps) *Deprovision {
	return &Deprovision{decl: decl, deps: deps, logger: deps.logger("deprovision")}
}

func (h *Deprovision) Name() string { return "deprovision" }

func (h *Deprovision) Process(ctx context.Context) error {
	return provisionModules(ctx, h.deps, h.logger, h.decl, func(level string) bool { return level == "none" })
}

func provisionModules(ctx context.Context, deps Deps, logger zerolog.Logger, decl map[string]any, want func(string) bool) error {
	raw, ok := section(decl, "Provision")
	if !ok {
		return nil
	}
	levels, err := types.Decode[map[string]string](raw)
	if err != nil {
		return fmt.Errorf("invalid Provision: %w", err)
	}

	modules := map[string]string{}
	for module, level := range levels {
		if want(level) {
			modules[module] = level
		}
	}
	if len(modules) == 0 {
		return nil
	}

	changed, err := deps.Device.Onboard().Provision(ctx, modules)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}
	logger.Info().Strs("modules", changed).Msg("Provisioning changed, waiting for device to become active")
	return waitActive(ctx, deps)
}

// waitActive polls until the device reports it is ready again. The device
// briefly reports not-ready states after reprovisioning.
func waitActive(ctx context.Context, deps Deps) error {
	return retry.Until(ctx, deps.Timing.ProvisionPoll, "device did not become active after provisioning", func(ctx context.Context) (bool, error) {
		return deps.Device.Active(ctx)
	})
}
