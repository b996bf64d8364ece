package actor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/astarte-platform/astra-data-updater/internal/decode"
	"github.com/astarte-platform/astra-data-updater/internal/metrics"
	"github.com/astarte-platform/astra-data-updater/internal/repository"
	"github.com/astarte-platform/astra-data-updater/internal/schema"
	"github.com/astarte-platform/astra-data-updater/internal/timeutil"
	"github.com/astarte-platform/astra-data-updater/internal/trigger"
)

// HandleData implements the data-handling critical path, spec.md §4.2.3.
// A payload or policy violation is logged, a clean session is requested and
// the message is discarded (tracker.Discard); any other failure is logged and
// returned, so the caller tears the actor down and the tracker requeues it.
func (a *Actor) HandleData(ctx context.Context, interfaceName, path string, payload []byte, messageID string, tsDecimicro int64) error {
	a.runTimeBasedActions(ctx, tsDecimicro)

	if err := a.handleDataInner(ctx, interfaceName, path, payload, tsDecimicro); err != nil {
		a.logger.Warn("discarding data message", zap.String("interface", interfaceName), zap.String("path", path), zap.Error(err))
		if payloadViolation(err) {
			a.requestCleanSession(ctx)
			return a.tracker.Discard(messageID)
		}
		return err
	}

	a.state.totalReceivedMsgs++
	a.state.totalReceivedBytes += int64(len(payload) + len(interfaceName) + len(path))
	return a.tracker.AckDelivery(messageID)
}

func (a *Actor) handleDataInner(ctx context.Context, interfaceName, path string, payload []byte, tsDecimicro int64) error {
	// Step 1: path validation.
	if strings.Contains(path, "//") {
		return fmt.Errorf("%w: path %q contains an empty segment", ErrInvalidPath, path)
	}

	// Step 2: interface resolution / cache-miss load.
	desc, err := a.ensureInterface(ctx, interfaceName, tsDecimicro)
	if err != nil {
		return err
	}

	// Step 3: ownership check.
	if desc.Ownership == schema.OwnershipServer {
		return fmt.Errorf("%w: %s", ErrCannotWriteOnServerOwnedIface, interfaceName)
	}

	if desc.Aggregation == schema.AggregationIndividual {
		return a.handleIndividualData(ctx, desc, path, payload, tsDecimicro)
	}
	return a.handleObjectData(ctx, desc, path, payload, tsDecimicro)
}

func (a *Actor) handleIndividualData(ctx context.Context, desc *schema.InterfaceDescriptor, path string, payload []byte, tsDecimicro int64) error {
	// Step 4: endpoint resolution.
	res, err := desc.Automaton.ResolvePath(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMappingNotFound, err)
	}
	if res.Guessed {
		return fmt.Errorf("%w: individual endpoint resolution for %q is ambiguous", ErrGuessedEndpoints, path)
	}
	mapping, ok := a.state.mappings[res.EndpointID]
	if !ok {
		return fmt.Errorf("%w: endpoint %s has no mapping", ErrMappingNotFound, res.EndpointID)
	}

	// Step 5: BSON decoding.
	value, err := decode.DecodeBSONPayload(payload)
	if err != nil {
		return err
	}

	// Step 6: type check.
	if err := checkValueType(mapping.ValueType, value.V); err != nil {
		return err
	}

	valueTSDecimicro := tsDecimicro
	if mapping.ExplicitTimestamp && value.Timestamp != nil {
		valueTSDecimicro = timeutil.FromTime(*value.Timestamp)
	}

	bsonValue, _ := decode.EncodeBSONPayload(value)

	// Step 7: incoming_data triggers, three precedence levels.
	matches := a.state.dispatch.MatchingDataTriggers(trigger.DataTriggerIncomingData, desc.InterfaceID, mapping.EndpointID, path, value.V)
	targets := targetsOf(matches)
	a.deps.Triggers.IncomingData(ctx, targets, a.key.Realm, a.key.DeviceID.String(), desc.Name, path, bsonValue, timeutil.ToMillis(tsDecimicro))
	metrics.TriggersPublished.WithLabelValues("incoming_data", "ok").Add(float64(len(targets)))

	table := desc.Storage
	consistency := selectConsistency(desc.Type, mapping.Reliability, mapping.Retention)

	switch desc.StorageType {
	case schema.StorageMultiInterfaceIndividualProperties:
		return a.writeProperty(ctx, desc, mapping, table, path, value, valueTSDecimicro, tsDecimicro, consistency)
	case schema.StorageMultiInterfaceIndividualDatastream:
		return a.writeDatastream(ctx, desc, mapping, table, path, value, valueTSDecimicro, tsDecimicro, consistency)
	default:
		return fmt.Errorf("%w: unexpected storage type for individual aggregation", ErrMappingNotFound)
	}
}

func (a *Actor) writeProperty(ctx context.Context, desc *schema.InterfaceDescriptor, mapping schema.Mapping, table, path string, value decode.Value, valueTSDecimicro, receptionTSDecimicro int64, consistency repository.Consistency) error {
	previous, err := a.fetchPreviousProperty(ctx, desc, table, mapping.EndpointID, path)
	if err != nil {
		return err
	}

	if err := a.emitChangeTriggers(ctx, desc, mapping.EndpointID, path, previous, value, valueTSDecimicro, false); err != nil {
		return err
	}

	receptionMillis := timeutil.ToMillis(receptionTSDecimicro)
	if value.V != nil {
		if err := a.deps.Queries.InsertProperty(ctx, a.key.Realm, table, a.key.DeviceID.UUID(), desc.InterfaceID, mapping.EndpointID, path, receptionMillis, value.V, consistency); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}
	} else if mapping.AllowUnset {
		if err := a.deps.Queries.DeleteProperty(ctx, a.key.Realm, table, a.key.DeviceID.UUID(), desc.InterfaceID, mapping.EndpointID, path, consistency); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}
	}

	return a.emitChangeTriggers(ctx, desc, mapping.EndpointID, path, previous, value, valueTSDecimicro, true)
}

func (a *Actor) writeDatastream(ctx context.Context, desc *schema.InterfaceDescriptor, mapping schema.Mapping, table, path string, value decode.Value, valueTSDecimicro, receptionTSDecimicro int64, consistency repository.Consistency) error {
	if value.V == nil {
		a.logger.Warn("datastream message carries a nil value, discarding", zap.String("path", path))
		return fmt.Errorf("%w: datastream value must not be nil", ErrUnexpectedValueType)
	}

	if err := a.emitChangeTriggers(ctx, desc, mapping.EndpointID, path, nil, value, valueTSDecimicro, false); err != nil {
		return err
	}

	if err := a.maybeInsertPath(ctx, desc, mapping, path, valueTSDecimicro); err != nil {
		return err
	}

	receptionMillis := timeutil.ToMillis(receptionTSDecimicro)
	submillis := timeutil.Submillis(receptionTSDecimicro)
	valueTSMillis := timeutil.ToMillis(valueTSDecimicro)
	if err := a.deps.Queries.InsertDatastreamValue(ctx, a.key.Realm, table, a.key.DeviceID.UUID(), desc.InterfaceID, mapping.EndpointID, path, valueTSMillis, receptionMillis, submillis, value.V, a.state.datastreamMaxRetentionSeconds, consistency); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return a.emitChangeTriggers(ctx, desc, mapping.EndpointID, path, nil, value, valueTSDecimicro, true)
}

// pathTTLSeconds is the path-registry row TTL: 2*realm_ttl + realm_ttl/2, or
// nil when the realm has no retention configured (spec.md §4.2.3 step 10).
func (a *Actor) pathTTLSeconds() *int {
	if a.state.datastreamMaxRetentionSeconds == nil {
		return nil
	}
	r := *a.state.datastreamMaxRetentionSeconds
	ttl := 2*r + r/2
	return &ttl
}

// maybeInsertPath implements the path-registry bookkeeping of step 10.
func (a *Actor) maybeInsertPath(ctx context.Context, desc *schema.InterfaceDescriptor, mapping schema.Mapping, path string, valueTSDecimicro int64) error {
	nowMillis := timeutil.ToMillis(timeutil.NowDecimicro())
	if a.state.paths.contains(desc.Name, path, timeutil.NowDecimicro()) {
		return nil
	}

	expiry, err := a.deps.Queries.FetchPathExpiry(ctx, a.key.Realm, a.key.DeviceID.UUID(), desc.InterfaceID, mapping.EndpointID, path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	realmTTL := a.state.datastreamMaxRetentionSeconds
	stillValid := false
	if expiry != nil && realmTTL != nil {
		threshold := time.UnixMilli(nowMillis).Add(time.Duration(*realmTTL)*time.Second + time.Hour)
		stillValid = threshold.Before(*expiry)
	}

	if !stillValid {
		ttl := a.pathTTLSeconds()
		dt := timeutil.ToTime(valueTSDecimicro)
		if err := a.deps.Queries.InsertPath(ctx, a.key.Realm, a.key.DeviceID.UUID(), desc.InterfaceID, mapping.EndpointID, path, dt, ttl, pathConsistency(mapping.Reliability)); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}
	}

	a.state.paths.put(desc.Name, path, 0)
	return nil
}

func (a *Actor) fetchPreviousProperty(ctx context.Context, desc *schema.InterfaceDescriptor, table string, endpointID uuid.UUID, path string) (*repository.StoredValue, error) {
	sv, err := a.deps.Queries.FetchProperty(ctx, a.key.Realm, table, a.key.DeviceID.UUID(), desc.InterfaceID, endpointID, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return sv, nil
}

// emitChangeTriggers implements steps 8, 9, and 12: value_change before the
// write and path_created/path_removed/value_change_applied after.
func (a *Actor) emitChangeTriggers(ctx context.Context, desc *schema.InterfaceDescriptor, endpointID uuid.UUID, path string, previous *repository.StoredValue, newValue decode.Value, tsDecimicro int64, applied bool) error {
	var prevV interface{}
	if previous != nil {
		prevV = previous.Value
	}
	if prevV == newValue.V {
		return nil
	}

	tsMillis := timeutil.ToMillis(tsDecimicro)
	oldBSON, _ := decode.EncodeBSONPayload(decode.Value{V: prevV})
	newBSON, _ := decode.EncodeBSONPayload(newValue)

	if !applied {
		matches := a.state.dispatch.MatchingDataTriggers(trigger.DataTriggerValueChange, desc.InterfaceID, endpointID, path, newValue.V)
		targets := targetsOf(matches)
		a.deps.Triggers.ValueChange(ctx, targets, a.key.Realm, a.key.DeviceID.String(), desc.Name, path, oldBSON, newBSON, tsMillis, false)
		return nil
	}

	switch {
	case prevV == nil && newValue.V != nil:
		matches := a.state.dispatch.MatchingDataTriggers(trigger.DataTriggerPathCreated, desc.InterfaceID, endpointID, path, newValue.V)
		a.deps.Triggers.PathCreated(ctx, targetsOf(matches), a.key.Realm, a.key.DeviceID.String(), desc.Name, path, tsMillis)
	case prevV != nil && newValue.V == nil:
		matches := a.state.dispatch.MatchingDataTriggers(trigger.DataTriggerPathRemoved, desc.InterfaceID, endpointID, path, newValue.V)
		a.deps.Triggers.PathRemoved(ctx, targetsOf(matches), a.key.Realm, a.key.DeviceID.String(), desc.Name, path, tsMillis)
	}
	matches := a.state.dispatch.MatchingDataTriggers(trigger.DataTriggerValueChangeApplied, desc.InterfaceID, endpointID, path, newValue.V)
	a.deps.Triggers.ValueChange(ctx, targetsOf(matches), a.key.Realm, a.key.DeviceID.String(), desc.Name, path, oldBSON, newBSON, tsMillis, true)
	return nil
}

func targetsOf(triggers []*trigger.DataTrigger) []trigger.TriggerTarget {
	var out []trigger.TriggerTarget
	for _, dt := range triggers {
		out = append(out, dt.Targets...)
	}
	return out
}

// selectConsistency implements the consistency-selection table of spec.md
// §4.2.3.
func selectConsistency(ifaceType schema.InterfaceType, reliability schema.Reliability, retention schema.Retention) repository.Consistency {
	if ifaceType == schema.InterfaceTypeProperties {
		return repository.ConsistencyQuorum
	}
	if reliability == schema.ReliabilityUnreliable {
		return repository.ConsistencyAny
	}
	if ifaceType == schema.InterfaceTypeDatastream && reliability == schema.ReliabilityGuaranteed && retention == schema.RetentionStored {
		return repository.ConsistencyLocalQuorum
	}
	return repository.ConsistencyOne
}

func pathConsistency(reliability schema.Reliability) repository.Consistency {
	if reliability == schema.ReliabilityUnreliable {
		return repository.ConsistencyOne
	}
	return repository.ConsistencyLocalQuorum
}
