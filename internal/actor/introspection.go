package actor

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/astarte-platform/astra-data-updater/internal/decode"
	"github.com/astarte-platform/astra-data-updater/internal/timeutil"
	"github.com/astarte-platform/astra-data-updater/internal/trigger"
	"go.uber.org/zap"
)

// HandleIntrospection implements spec.md §4.2.4.
func (a *Actor) HandleIntrospection(ctx context.Context, payload []byte, messageID string, tsDecimicro int64) error {
	a.runTimeBasedActions(ctx, tsDecimicro)

	entries, err := decode.ParseIntrospection(payload)
	if err != nil {
		a.logger.Warn("discarding invalid introspection payload", zap.Error(err))
		a.requestCleanSession(ctx)
		return a.tracker.Discard(messageID)
	}

	newMajor := decode.ToMajorMap(entries)
	newMinor := decode.ToMinorMap(entries)

	prevKeys := introspectionKeys(a.state.introspectionMajor)
	newKeys := introspectionKeys(newMajor)

	deletedKeys, insertedKeys := myersDiff(prevKeys, newKeys)

	deviceID := a.key.DeviceID.UUID()
	removedMajors := make(map[string]int)
	var removedNames []string

	for _, key := range deletedKeys {
		name, major := splitIntrospectionKey(key)
		removedMajors[name] = major
		removedNames = append(removedNames, name)

		if major == 0 {
			if err := a.deps.Queries.UnregisterDeviceWithInterface(ctx, a.key.Realm, deviceID, name, major); err != nil {
				a.logger.Error("failed to unregister device-by-interface", zap.Error(err))
			}
		}

		targets := collectIntrospectionTargets(a.state.dispatch.IntrospectionTriggers[trigger.IntrospectionTriggerInterfaceRemoved])
		a.deps.Triggers.InterfaceRemoved(ctx, targets, a.key.Realm, a.key.DeviceID.String(), name, major, timeutil.ToMillis(tsDecimicro))
	}

	for _, key := range insertedKeys {
		name, major := splitIntrospectionKey(key)

		if major == 0 {
			if err := a.deps.Queries.RegisterDeviceWithInterface(ctx, a.key.Realm, deviceID, name, major); err != nil {
				a.logger.Error("failed to register device-by-interface", zap.Error(err))
			}
		}

		minor := newMinor[name]
		targets := collectIntrospectionTargets(a.state.dispatch.IntrospectionTriggers[trigger.IntrospectionTriggerInterfaceAdded])
		a.deps.Triggers.InterfaceAdded(ctx, targets, a.key.Realm, a.key.DeviceID.String(), name, major, minor, timeutil.ToMillis(tsDecimicro))
	}

	introTargets := collectIntrospectionTargets(a.state.dispatch.IntrospectionTriggers[trigger.IntrospectionTriggerIncoming])
	a.deps.Triggers.IncomingIntrospection(ctx, introTargets, a.key.Realm, a.key.DeviceID.String(), payload, timeutil.ToMillis(tsDecimicro))

	if len(removedMajors) > 0 {
		if err := a.deps.Queries.MergeOldIntrospection(ctx, a.key.Realm, deviceID, removedMajors); err != nil {
			a.logger.Error("failed to merge old introspection", zap.Error(err))
		}
	}
	var reAdded []string
	for _, key := range insertedKeys {
		name, _ := splitIntrospectionKey(key)
		if _, wasRemoved := removedMajors[name]; wasRemoved {
			reAdded = append(reAdded, name)
		}
	}
	if len(reAdded) > 0 {
		if err := a.deps.Queries.RemoveFromOldIntrospection(ctx, a.key.Realm, deviceID, reAdded); err != nil {
			a.logger.Error("failed to prune re-added old introspection entries", zap.Error(err))
		}
	}

	if err := a.deps.Queries.UpdateIntrospection(ctx, a.key.Realm, deviceID, newMajor, newMinor); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	a.state.introspectionMajor = newMajor
	a.state.introspectionMinor = newMinor

	a.forgetInterfaces(removedNames)
	a.state.paths.reset()

	return a.tracker.AckDelivery(messageID)
}

// forgetInterfaces drops cached descriptors/mappings/triggers for removed
// interface names, per the invariants section.
func (a *Actor) forgetInterfaces(names []string) {
	for _, name := range names {
		a.forgetInterfaceByName(name)
	}
}

func introspectionKeys(major map[string]int) []string {
	keys := make([]string, 0, len(major))
	for name, maj := range major {
		keys = append(keys, name+":"+strconv.Itoa(maj))
	}
	sort.Strings(keys)
	return keys
}

func splitIntrospectionKey(key string) (name string, major int) {
	idx := strings.LastIndexByte(key, ':')
	if idx < 0 {
		return key, 0
	}
	m, _ := strconv.Atoi(key[idx+1:])
	return key[:idx], m
}
