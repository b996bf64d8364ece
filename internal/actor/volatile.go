package actor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/astarte-platform/astra-data-updater/internal/schema"
	"github.com/astarte-platform/astra-data-updater/internal/timeutil"
	"github.com/astarte-platform/astra-data-updater/internal/trigger"
)

// VolatileDataTriggerSpec describes a runtime-installed, non-persisted data
// trigger (spec.md §4.2.6). Only the effect is in scope here: the RPC that
// decodes a wire request into this struct is out of scope per spec.md §1.
type VolatileDataTriggerSpec struct {
	SimpleTriggerID uuid.UUID
	ParentTriggerID uuid.UUID
	RoutingKey      string
	StaticHeaders   []trigger.Header

	InterfaceName string // empty means any_interface
	MatchPath     string // empty means any_endpoint

	DataTriggerType trigger.DataTriggerType
	Operator        trigger.ValueMatchOperator
	KnownValue      interface{}
}

// InstallVolatileDataTrigger validates spec against the named interface's
// schema (loading it if not already cached) and, once congruent, wires it
// into the dispatch table as a volatile entry.
func (a *Actor) InstallVolatileDataTrigger(ctx context.Context, spec VolatileDataTriggerSpec) error {
	interfaceID := trigger.AnyInterface
	endpointID := trigger.AnyEndpoint
	var pathTokens []string

	if spec.InterfaceName != "" {
		desc, err := a.ensureInterface(ctx, spec.InterfaceName, timeutil.NowDecimicro())
		if err != nil {
			return err
		}
		interfaceID = desc.InterfaceID

		if spec.MatchPath != "" {
			if desc.Aggregation != schema.AggregationIndividual {
				return fmt.Errorf("%w: volatile data triggers with a match path require individual aggregation", ErrInvalidPath)
			}
			res, err := desc.Automaton.ResolvePath(spec.MatchPath)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrMappingNotFound, err)
			}
			if res.Guessed {
				return fmt.Errorf("%w: ambiguous match path for volatile trigger", ErrGuessedEndpoints)
			}
			endpointID = res.EndpointID
			pathTokens = trigger.TokenizePath(spec.MatchPath)
		}
	}

	dt := &trigger.DataTrigger{
		Type:               spec.DataTriggerType,
		InterfaceID:        interfaceID,
		EndpointID:         endpointID,
		PathMatchTokens:    pathTokens,
		ValueMatchOperator: spec.Operator,
		KnownValue:         spec.KnownValue,
		Targets: []trigger.TriggerTarget{{
			Kind:            trigger.TargetAMQP,
			SimpleTriggerID: spec.SimpleTriggerID,
			ParentTriggerID: spec.ParentTriggerID,
			RoutingKey:      spec.RoutingKey,
			StaticHeaders:   spec.StaticHeaders,
		}},
	}

	a.state.dispatch.AddVolatileDataTrigger(dt)
	return nil
}

// DeleteVolatileTrigger removes a previously-installed volatile trigger
// identified by its SimpleTriggerID.
func (a *Actor) DeleteVolatileTrigger(simpleTriggerID uuid.UUID) {
	a.state.dispatch.RemoveVolatileTrigger(simpleTriggerID)
}
