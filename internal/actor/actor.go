// Package actor implements the DataUpdater actor (spec.md §4.2): one
// per-device state machine with schema caches, trigger tables, introspection
// diffing, property pruning, value insertion, and trigger evaluation.
package actor

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/astarte-platform/astra-data-updater/internal/config"
	"github.com/astarte-platform/astra-data-updater/internal/ids"
	"github.com/astarte-platform/astra-data-updater/internal/metrics"
	"github.com/astarte-platform/astra-data-updater/internal/repository"
	"github.com/astarte-platform/astra-data-updater/internal/schema"
	"github.com/astarte-platform/astra-data-updater/internal/timeutil"
	"github.com/astarte-platform/astra-data-updater/internal/tracker"
	"github.com/astarte-platform/astra-data-updater/internal/trigger"
	"github.com/astarte-platform/astra-data-updater/internal/vmqplugin"
)

// Deps are the collaborators every Actor shares, injected once by the
// Registry (and, transitively, by fx).
type Deps struct {
	Queries  repository.Queries
	Loader   schema.InterfaceLoader
	Triggers *trigger.Handler
	Plugin   vmqplugin.Plugin
	Cache    config.CacheConfig
	Logger   *zap.Logger
}

// Actor is one DataUpdater: it owns a device's cached schema, trigger
// tables, and gates its own processing through a MessageTracker.
type Actor struct {
	key     ids.Key
	deps    Deps
	tracker *tracker.Tracker
	state   *deviceState
	logger  *zap.Logger
}

// New constructs an Actor bound to key and hydrates it from the database.
func New(ctx context.Context, key ids.Key, deps Deps, trk *tracker.Tracker) (*Actor, error) {
	a := &Actor{
		key:     key,
		deps:    deps,
		tracker: trk,
		state:   newDeviceState(key, deps.Cache.PathsCacheCapacity),
		logger:  deps.Logger.With(zap.String("realm", key.Realm), zap.String("device_id", key.DeviceID.String())),
	}

	device, err := deps.Queries.GetDevice(ctx, key.Realm, key.DeviceID.UUID())
	if err != nil {
		return nil, fmt.Errorf("%w: loading device row: %v", ErrDatabase, err)
	}
	a.state.connected = device.Connected
	a.state.totalReceivedMsgs = device.TotalReceivedMsgs
	a.state.totalReceivedBytes = device.TotalReceivedBytes
	if device.IntrospectionMajor != nil {
		a.state.introspectionMajor = device.IntrospectionMajor
	}
	if device.IntrospectionMinor != nil {
		a.state.introspectionMinor = device.IntrospectionMinor
	}

	retention, err := deps.Queries.GetRealmDatastreamMaxRetention(ctx, key.Realm)
	if err != nil {
		return nil, fmt.Errorf("%w: loading realm retention: %v", ErrDatabase, err)
	}
	a.state.datastreamMaxRetentionSeconds = retention

	a.refreshDeviceTriggers(ctx)

	return a, nil
}

// runTimeBasedActions implements spec.md §4.2's per-message preamble: expire
// stale interface-cache entries, and every DEVICE_TRIGGERS_LIFESPAN refresh
// the device-level and any-interface trigger tables from the DB.
func (a *Actor) runTimeBasedActions(ctx context.Context, nowDecimicro int64) {
	a.state.lastSeenMessageDecimicro = nowDecimicro

	evicted := a.state.interfaces.expireBefore(nowDecimicro)
	for _, name := range evicted {
		metrics.InterfaceCacheEvictions.WithLabelValues("expired").Inc()
		a.forgetInterfaceByName(name)
	}

	if nowDecimicro-a.state.lastDeviceTriggersRefresh >= durationToDecimicro(a.deps.Cache.DeviceTriggersLifespan) {
		a.refreshDeviceTriggers(ctx)
	}
}

// durationToDecimicro converts a time.Duration into decimicrosecond ticks.
func durationToDecimicro(d time.Duration) int64 {
	return d.Nanoseconds() / 100
}

// forgetInterfaceByName removes a cached interface's descriptor, mappings,
// and every trigger keyed by its interface id (spec.md invariants section).
func (a *Actor) forgetInterfaceByName(name string) {
	desc, ok := a.state.interfaces.get(name)
	if !ok {
		return
	}
	a.state.forgetInterfaceMappings(desc.InterfaceID)
	a.state.dispatch.ForgetInterface(desc.InterfaceID)
	a.state.interfaces.forget(name)
}

// refreshDeviceTriggers reloads the device-lifecycle, any-interface data,
// and introspection trigger tables from the simple_triggers table.
func (a *Actor) refreshDeviceTriggers(ctx context.Context) {
	deviceID := a.key.DeviceID.UUID()

	if rows, err := a.deps.Queries.GetSimpleTriggers(ctx, a.key.Realm, deviceID, "device"); err == nil {
		for _, row := range rows {
			target := targetFromRow(row)
			_, devTrig, _, err := trigger.DecodeSimpleTrigger(row.TriggerData, uuid.Nil, uuid.Nil, target)
			if err == nil && devTrig != nil {
				a.state.dispatch.AddDeviceTrigger(devTrig)
			}
		}
	} else {
		a.logger.Warn("failed to refresh device triggers", zap.Error(err))
	}

	if rows, err := a.deps.Queries.GetSimpleTriggers(ctx, a.key.Realm, uuid.Nil, "any_interface"); err == nil {
		for _, row := range rows {
			target := targetFromRow(row)
			dataTrig, _, _, err := trigger.DecodeSimpleTrigger(row.TriggerData, trigger.AnyInterface, trigger.AnyEndpoint, target)
			if err == nil && dataTrig != nil {
				a.state.dispatch.AddDataTrigger(dataTrig)
			}
		}
	} else {
		a.logger.Warn("failed to refresh any-interface triggers", zap.Error(err))
	}

	if rows, err := a.deps.Queries.GetSimpleTriggers(ctx, a.key.Realm, deviceID, "introspection"); err == nil {
		for _, row := range rows {
			target := targetFromRow(row)
			_, _, introTrig, err := trigger.DecodeSimpleTrigger(row.TriggerData, uuid.Nil, uuid.Nil, target)
			if err == nil && introTrig != nil {
				a.state.dispatch.AddIntrospectionTrigger(introTrig)
			}
		}
	} else {
		a.logger.Warn("failed to refresh introspection triggers", zap.Error(err))
	}

	a.state.lastDeviceTriggersRefresh = timeutil.NowDecimicro()
}

func targetFromRow(row repository.StoredSimpleTrigger) trigger.TriggerTarget {
	headers := make([]trigger.Header, 0, len(row.StaticHeaders))
	for k, v := range row.StaticHeaders {
		headers = append(headers, trigger.Header{Key: k, Value: v})
	}
	return trigger.TriggerTarget{
		Kind:            trigger.TargetAMQP,
		SimpleTriggerID: row.SimpleTriggerID,
		ParentTriggerID: row.ParentTriggerID,
		RoutingKey:      row.RoutingKey,
		StaticHeaders:   headers,
	}
}

// populateInterfaceTriggers loads the simple triggers keyed on desc's
// interface id into the dispatch table (spec.md §4.2.3 step 2).
func (a *Actor) populateInterfaceTriggers(ctx context.Context, desc *schema.InterfaceDescriptor) {
	rows, err := a.deps.Queries.GetSimpleTriggers(ctx, a.key.Realm, desc.InterfaceID, "interface")
	if err != nil {
		a.logger.Warn("failed to load interface triggers", zap.String("interface", desc.Name), zap.Error(err))
		return
	}
	for _, row := range rows {
		kind, matchPath, err := trigger.PeekCompiledTrigger(row.TriggerData)
		if err != nil {
			a.logger.Warn("skipping malformed trigger row", zap.Error(err))
			continue
		}
		endpointID := uuid.Nil
		if kind == "data" && matchPath != "" && desc.Automaton != nil {
			if res, err := desc.Automaton.ResolvePath(matchPath); err == nil && !res.Guessed {
				endpointID = res.EndpointID
			}
		}
		target := targetFromRow(row)
		dataTrig, devTrig, introTrig, err := trigger.DecodeSimpleTrigger(row.TriggerData, desc.InterfaceID, endpointID, target)
		if err != nil {
			a.logger.Warn("failed to decode trigger row", zap.Error(err))
			continue
		}
		switch {
		case dataTrig != nil:
			a.state.dispatch.AddDataTrigger(dataTrig)
		case devTrig != nil:
			a.state.dispatch.AddDeviceTrigger(devTrig)
		case introTrig != nil:
			a.state.dispatch.AddIntrospectionTrigger(introTrig)
		}
	}
}

// HandleConnection implements spec.md §4.2.2 handle_connection.
func (a *Actor) HandleConnection(ctx context.Context, ipStr, messageID string, tsDecimicro int64) error {
	a.runTimeBasedActions(ctx, tsDecimicro)

	ip := net.ParseIP(ipStr)
	if ip == nil {
		a.logger.Warn("could not parse remote ip, falling back to 0.0.0.0", zap.String("raw_ip", ipStr))
		ip = net.IPv4zero
	}
	tsMillis := timeutil.ToMillis(tsDecimicro)

	if err := a.deps.Queries.SetDeviceConnected(ctx, a.key.Realm, a.key.DeviceID.UUID(), tsMillis, ip.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	targets := collectTargets(a.state.dispatch.DeviceTriggers[trigger.DeviceTriggerOnConnect])
	a.deps.Triggers.DeviceConnected(ctx, targets, a.key.Realm, a.key.DeviceID.String(), ip.String(), tsMillis)

	a.state.connected = true
	return a.tracker.AckDelivery(messageID)
}

// HandleDisconnection implements spec.md §4.2.2 handle_disconnection.
func (a *Actor) HandleDisconnection(ctx context.Context, messageID string, tsDecimicro int64) error {
	a.runTimeBasedActions(ctx, tsDecimicro)

	tsMillis := timeutil.ToMillis(tsDecimicro)
	if err := a.deps.Queries.SetDeviceDisconnected(ctx, a.key.Realm, a.key.DeviceID.UUID(), tsMillis, a.state.totalReceivedMsgs, a.state.totalReceivedBytes); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	targets := collectTargets(a.state.dispatch.DeviceTriggers[trigger.DeviceTriggerOnDisconnect])
	a.deps.Triggers.DeviceDisconnected(ctx, targets, a.key.Realm, a.key.DeviceID.String(), tsMillis, a.state.totalReceivedMsgs, a.state.totalReceivedBytes)

	a.state.connected = false
	return a.tracker.AckDelivery(messageID)
}

func collectTargets(triggers []*trigger.DeviceTrigger) []trigger.TriggerTarget {
	var out []trigger.TriggerTarget
	for _, t := range triggers {
		out = append(out, t.Targets...)
	}
	return out
}

func collectIntrospectionTargets(triggers []*trigger.IntrospectionTrigger) []trigger.TriggerTarget {
	var out []trigger.TriggerTarget
	for _, t := range triggers {
		out = append(out, t.Targets...)
	}
	return out
}

// requestCleanSession implements the §7 payload-violation policy: mark
// pending_empty_cache and ask the broker-facing plugin to disconnect the
// device with clean=true.
func (a *Actor) requestCleanSession(ctx context.Context) {
	if err := a.deps.Queries.SetPendingEmptyCache(ctx, a.key.Realm, a.key.DeviceID.UUID(), true); err != nil {
		a.logger.Error("failed to set pending_empty_cache", zap.Error(err))
	}
	client := a.key.Realm + "/" + a.key.DeviceID.String()
	if err := a.deps.Plugin.Disconnect(ctx, client, true); err != nil {
		a.logger.Error("failed to request clean-session disconnect", zap.Error(err))
	}
}

// ensureInterface implements the cache-miss loading path of step 2.
func (a *Actor) ensureInterface(ctx context.Context, name string, nowDecimicro int64) (*schema.InterfaceDescriptor, error) {
	if desc, ok := a.state.interfaces.get(name); ok {
		return desc, nil
	}

	major, err := a.deps.Queries.GetDeviceInterfaceMajor(ctx, a.key.Realm, a.key.DeviceID.UUID(), name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInterfaceLoadingFailed, err)
	}

	desc, mappings, err := a.deps.Loader.LoadInterface(a.key.Realm, name, major)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInterfaceLoadingFailed, err)
	}

	expiry := nowDecimicro + durationToDecimicro(a.deps.Cache.InterfaceLifespan)
	a.state.interfaces.put(desc, expiry)
	a.state.mergeMappings(mappings)
	a.populateInterfaceTriggers(ctx, desc)

	return desc, nil
}
