// Package declaration runs one declaration through the reconciliation
// pipeline: parse, structural fixes, defaults, diff and the ordered domain
// handlers.
package declaration

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cuemby/onboard/pkg/diff"
	"github.com/cuemby/onboard/pkg/handler"
	"github.com/cuemby/onboard/pkg/metrics"
	"github.com/cuemby/onboard/pkg/parser"
	"github.com/cuemby/onboard/pkg/types"
)

// Named classes whose instances are deleted when a declaration drops them
var deletableClasses = []string{
	"DeviceGroup",
	"Route",
	"SelfIp",
	"VLAN",
	"RouteDomain",
	"ManagementRoute",
	"RemoteAuthRole",
}

// Authentication subsections deleted when a declaration drops them
var deletableSubKeys = map[string][]string{
	"Authentication": {"radius", "ldap", "tacacs"},
}

// State is the configuration a declaration is applied against
type State struct {
	// CurrentConfig is the device config the diff starts from
	CurrentConfig types.Config
	// OriginalConfig is the device config before the first declaration.
	// Omitted classes of truth fall back to it.
	OriginalConfig types.Config
}

// Plan is what a declaration resolves to before any handler runs
type Plan struct {
	Desired  types.Config
	ToUpdate map[string]any
	ToDelete map[string]any
}

// HandlerFactory builds the ordered handler chain for a plan
type HandlerFactory func(plan *Plan, deps handler.Deps) []handler.Handler

// DefaultHandlers returns System, Auth, Provision, Network, DSC, Analytics,
// Delete and Deprovision, in that order.
func DefaultHandlers(plan *Plan, deps handler.Deps) []handler.Handler {
	return []handler.Handler{
		handler.NewSystem(plan.ToUpdate, deps),
		handler.NewAuth(plan.ToUpdate, deps),
		handler.NewProvision(plan.ToUpdate, deps),
		handler.NewNetwork(plan.ToUpdate, deps),
		handler.NewDSC(plan.ToUpdate, deps),
		handler.NewAnalytics(plan.ToUpdate, deps),
		handler.NewDelete(plan.ToDelete, deps),
		handler.NewDeprovision(plan.ToUpdate, deps),
	}
}

// Processor applies declarations to one device
type Processor struct {
	deps     handler.Deps
	handlers HandlerFactory
	logger   zerolog.Logger
}

// NewProcessor creates a Processor using the default handler chain
func NewProcessor(deps handler.Deps) *Processor {
	return &Processor{
		deps:     deps,
		handlers: DefaultHandlers,
		logger:   deps.Logger.With().Str("component", "declaration").Logger(),
	}
}

// WithHandlers replaces the handler chain
func (p *Processor) WithHandlers(f HandlerFactory) *Processor {
	p.handlers = f
	return p
}

// BuildPlan parses, fixes and diffs a declaration without touching the device
func BuildPlan(decl types.Declaration, state State) (*Plan, error) {
	desired, err := parser.Parse(decl.DeepCopy())
	if err != nil {
		return nil, err
	}
	previous := state.CurrentConfig.DeepCopy()
	if previous == nil {
		previous = types.Config{}
	}
	original := state.OriginalConfig
	if original == nil {
		original = previous
	}

	common := desired.Common()
	fixRouteDomainZero(common)
	applyDefaults(common, original.DeepCopy().Common())
	fixRouteDomainVLANs(common)
	applySchemaDefaults(common)

	result, err := diff.Process(desired, previous)
	if err != nil {
		return nil, err
	}
	toDelete := diff.Deletions(common, previous.Common(), deletableClasses, deletableSubKeys)

	return &Plan{Desired: desired, ToUpdate: result.ToUpdate, ToDelete: toDelete}, nil
}

// Process applies decl on top of state. The first handler error stops the
// chain and is returned.
func (p *Processor) Process(ctx context.Context, decl types.Declaration, state State) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DeclarationDuration)

	plan, err := BuildPlan(decl, state)
	if err != nil {
		return err
	}
	p.logger.Info().
		Strs("update", sortedKeys(plan.ToUpdate)).
		Strs("delete", sortedKeys(plan.ToDelete)).
		Msg("Applying declaration")

	if _, err := p.deps.Device.Modify(ctx, "/tm/sys/global-settings", map[string]any{"guiSetup": "disabled"}); err != nil {
		return fmt.Errorf("failed to disable gui setup: %w", err)
	}

	for _, h := range p.handlers(plan, p.deps) {
		hTimer := metrics.NewTimer()
		p.logger.Debug().Str("handler", h.Name()).Msg("Running handler")
		err := h.Process(ctx)
		hTimer.ObserveDurationVec(metrics.HandlerDuration, h.Name())
		if err != nil {
			p.logger.Error().Err(err).Str("handler", h.Name()).Msg("Handler failed")
			return fmt.Errorf("%s: %w", h.Name(), err)
		}
	}

	p.logger.Info().Dur("duration", timer.Duration()).Msg("Declaration applied")
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
