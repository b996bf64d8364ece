package actor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/astarte-platform/astra-data-updater/internal/decode"
	"github.com/astarte-platform/astra-data-updater/internal/schema"
	"github.com/astarte-platform/astra-data-updater/internal/timeutil"
	"github.com/astarte-platform/astra-data-updater/internal/trigger"
	"github.com/astarte-platform/astra-data-updater/internal/vmqplugin"
)

// HandleProducerProperties implements spec.md §4.2.5: prune stored
// properties down to the set the device declares it still holds.
func (a *Actor) HandleProducerProperties(ctx context.Context, payload []byte, messageID string, tsDecimicro int64) error {
	a.runTimeBasedActions(ctx, tsDecimicro)

	wanted, err := decode.ParseProducerProperties(payload)
	if err != nil {
		a.logger.Warn("discarding invalid producer/properties payload", zap.Error(err))
		a.requestCleanSession(ctx)
		return a.tracker.Discard(messageID)
	}

	deviceID := a.key.DeviceID.UUID()
	tsMillis := timeutil.ToMillis(tsDecimicro)

	for name := range a.state.introspectionMajor {
		desc, err := a.ensureInterface(ctx, name, tsDecimicro)
		if err != nil {
			a.logger.Warn("skipping interface during property pruning", zap.String("interface", name), zap.Error(err))
			continue
		}
		if desc.Type != schema.InterfaceTypeProperties {
			continue
		}

		stored, err := a.deps.Queries.FetchAllProperties(ctx, a.key.Realm, desc.Storage, deviceID, desc.InterfaceID)
		if err != nil {
			a.logger.Error("failed to fetch stored properties", zap.String("interface", name), zap.Error(err))
			continue
		}

		for path := range stored {
			if _, keep := wanted[decode.InterfacePath{Interface: name, Path: path}]; keep {
				continue
			}

			res, err := desc.Automaton.ResolvePath(path)
			if err != nil || res.Guessed {
				continue
			}
			mapping, ok := a.state.mappings[res.EndpointID]
			if !ok {
				continue
			}

			consistency := selectConsistency(desc.Type, mapping.Reliability, mapping.Retention)
			if err := a.deps.Queries.DeleteProperty(ctx, a.key.Realm, desc.Storage, deviceID, desc.InterfaceID, res.EndpointID, path, consistency); err != nil {
				a.logger.Error("failed to delete pruned property", zap.String("path", path), zap.Error(err))
				continue
			}

			matches := a.state.dispatch.MatchingDataTriggers(trigger.DataTriggerPathRemoved, desc.InterfaceID, res.EndpointID, path, nil)
			a.deps.Triggers.PathRemoved(ctx, targetsOf(matches), a.key.Realm, a.key.DeviceID.String(), name, path, tsMillis)
		}
	}

	return a.tracker.AckDelivery(messageID)
}

// HandleEmptyCache implements the /emptyCache control path: resend every
// server-owned property value to the device, then tell it which absolute
// paths the server currently holds, and clear pending_empty_cache.
func (a *Actor) HandleEmptyCache(ctx context.Context, messageID string, tsDecimicro int64) error {
	a.runTimeBasedActions(ctx, tsDecimicro)

	deviceID := a.key.DeviceID.UUID()
	client := a.key.Realm + "/" + a.key.DeviceID.String()

	var absolutePaths []string
	for name := range a.state.introspectionMajor {
		desc, err := a.ensureInterface(ctx, name, tsDecimicro)
		if err != nil || desc.Type != schema.InterfaceTypeProperties || desc.Ownership != schema.OwnershipServer {
			continue
		}

		stored, err := a.deps.Queries.FetchAllProperties(ctx, a.key.Realm, desc.Storage, deviceID, desc.InterfaceID)
		if err != nil {
			a.logger.Error("failed to fetch properties for empty-cache resend", zap.String("interface", name), zap.Error(err))
			continue
		}

		for path, sv := range stored {
			body, err := decode.EncodeBSONPayload(decode.Value{V: sv.Value})
			if err != nil {
				continue
			}
			topic := fmt.Sprintf("%s/%s%s", client, name, path)
			if err := a.deps.Plugin.Publish(ctx, topic, body, vmqplugin.QoSExactlyOnce); err != nil {
				a.logger.Error("failed to resend server-owned property", zap.String("topic", topic), zap.Error(err))
			}
			absolutePaths = append(absolutePaths, name+path)
		}
	}

	controlPayload, err := decode.BuildConsumerPropertiesPayload(absolutePaths)
	if err != nil {
		a.logger.Error("failed to build consumer/properties control payload", zap.Error(err))
	} else {
		controlTopic := client + "/control/consumer/properties"
		if err := a.deps.Plugin.Publish(ctx, controlTopic, controlPayload, vmqplugin.QoSExactlyOnce); err != nil {
			a.logger.Error("failed to publish consumer/properties control message", zap.Error(err))
		}
	}

	if err := a.deps.Queries.SetPendingEmptyCache(ctx, a.key.Realm, deviceID, false); err != nil {
		a.logger.Error("failed to clear pending_empty_cache", zap.Error(err))
	}

	return a.tracker.AckDelivery(messageID)
}
