package actor

import (
	"fmt"

	"context"

	"github.com/astarte-platform/astra-data-updater/internal/decode"
	"github.com/astarte-platform/astra-data-updater/internal/metrics"
	"github.com/astarte-platform/astra-data-updater/internal/schema"
	"github.com/astarte-platform/astra-data-updater/internal/timeutil"
	"github.com/astarte-platform/astra-data-updater/internal/trigger"
	"go.uber.org/zap"
)

// handleObjectData handles the object-aggregation branch of spec.md §4.2.3:
// it resolves the guessed endpoints under path, decodes the BSON document,
// type-checks each key against its mapping (keys without a mapping are
// skipped with a warning), emits incoming_data triggers and inserts one
// object row. It emits no value_change, value_change_applied, path_created
// or path_removed triggers and keeps no path registry.
func (a *Actor) handleObjectData(ctx context.Context, desc *schema.InterfaceDescriptor, path string, payload []byte, tsDecimicro int64) error {
	guessed, err := desc.Automaton.ResolveObjectPrefix(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMappingNotFound, err)
	}

	mappingByKey := make(map[string]schema.Mapping, len(guessed))
	anyExplicitTimestamp := false
	for _, endpointID := range guessed {
		m, ok := a.state.mappings[endpointID]
		if !ok {
			return fmt.Errorf("%w: guessed endpoint %s has no mapping", ErrMappingNotFound, endpointID)
		}
		mappingByKey[lastPathSegment(m.Endpoint)] = m
		if m.ExplicitTimestamp {
			anyExplicitTimestamp = true
		}
	}

	value, err := decode.DecodeBSONPayload(payload)
	if err != nil {
		return err
	}
	obj, ok := value.V.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%w: object-aggregation payload is not a document", ErrUnexpectedValueType)
	}

	columns := make(map[string]interface{}, len(obj))
	for key, v := range obj {
		m, ok := mappingByKey[key]
		if !ok {
			a.logger.Warn("unexpected object key, skipping", zap.String("key", key), zap.String("path", path))
			continue
		}
		if err := checkValueType(m.ValueType, v); err != nil {
			return fmt.Errorf("%w: key %q: %v", ErrUnexpectedObjectKey, key, err)
		}
		columns[schema.EndpointToDBColumnName(key)] = v
	}

	valueTSDecimicro := tsDecimicro
	if anyExplicitTimestamp && value.Timestamp != nil {
		valueTSDecimicro = timeutil.FromTime(*value.Timestamp)
	}

	// Step 7: incoming_data triggers for the object path (no per-key match).
	matches := a.state.dispatch.MatchingDataTriggers(trigger.DataTriggerIncomingData, desc.InterfaceID, trigger.AnyEndpoint, path, obj)
	bsonValue, _ := decode.EncodeBSONPayload(value)
	targets := targetsOf(matches)
	a.deps.Triggers.IncomingData(ctx, targets, a.key.Realm, a.key.DeviceID.String(), desc.Name, path, bsonValue, timeutil.ToMillis(tsDecimicro))
	metrics.TriggersPublished.WithLabelValues("incoming_data", "ok").Add(float64(len(targets)))

	var valueTSMillisPtr *int64
	if anyExplicitTimestamp {
		ms := timeutil.ToMillis(valueTSDecimicro)
		valueTSMillisPtr = &ms
	}

	reliability := schema.ReliabilityGuaranteed
	for _, m := range mappingByKey {
		reliability = m.Reliability
		break
	}
	consistency := selectConsistency(desc.Type, reliability, schema.RetentionStored)

	if err := a.deps.Queries.InsertObjectDatastreamValue(ctx, a.key.Realm, desc.Storage, a.key.DeviceID.UUID(), desc.InterfaceID, path, columns, valueTSMillisPtr, timeutil.ToMillis(tsDecimicro), a.state.datastreamMaxRetentionSeconds, consistency); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}
