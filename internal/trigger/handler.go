package trigger

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher is the subset of mq.Publisher the TriggersHandler needs,
// narrowed to keep this package independent of the mq package.
type Publisher interface {
	PublishRaw(ctx context.Context, routingKey string, headers amqp.Table, body []byte) error
}

// Handler builds SimpleEvent envelopes and fans them out to every target of
// a matched trigger, one outbound publish per target.
type Handler struct {
	publisher Publisher
	logger    *zap.Logger
}

// NewHandler constructs a TriggersHandler bound to the outbound events
// exchange publisher.
func NewHandler(publisher Publisher, logger *zap.Logger) *Handler {
	return &Handler{publisher: publisher, logger: logger}
}

// Dispatch serializes event and publishes it to every target, attaching the
// static+dynamic headers from §4.3. Trigger-id headers (x_astarte_simple_
// trigger_id / x_astarte_parent_trigger_id) are included only for data-path
// events, matching the spec's "trigger-id headers only on data-path events".
func (h *Handler) Dispatch(ctx context.Context, event SimpleEvent, targets []TriggerTarget, dataPath bool) {
	if err := ValidateTargets(targets); err != nil {
		h.logger.Error("skipping dispatch of malformed trigger targets",
			zap.Error(err), zap.String("event_type", string(event.Type)))
		return
	}

	body, err := event.Marshal()
	if err != nil {
		h.logger.Error("failed to marshal trigger event",
			zap.Error(err), zap.String("event_type", string(event.Type)))
		return
	}

	for _, target := range targets {
		headers := amqp.Table{
			"x_astarte_realm":      event.Realm,
			"x_astarte_device_id":  event.DeviceID,
			"x_astarte_event_type": string(event.Type),
		}
		for _, sh := range target.StaticHeaders {
			headers[sh.Key] = sh.Value
		}
		if dataPath {
			headers["x_astarte_simple_trigger_id"] = target.SimpleTriggerID.String()
			headers["x_astarte_parent_trigger_id"] = target.ParentTriggerID.String()
		}

		if err := h.publisher.PublishRaw(ctx, target.RoutingKey, headers, body); err != nil {
			h.logger.Error("failed to publish trigger event",
				zap.Error(err),
				zap.String("routing_key", target.RoutingKey),
				zap.String("event_type", string(event.Type)))
		}
	}
}

// DeviceConnected emits a device_connected event.
func (h *Handler) DeviceConnected(ctx context.Context, targets []TriggerTarget, realm, deviceID, ip string, tsMillis int64) {
	h.Dispatch(ctx, SimpleEvent{
		Realm: realm, DeviceID: deviceID, Type: EventDeviceConnected,
		Timestamp: millisToTime(tsMillis), Payload: DeviceConnectedPayload(ip),
	}, targets, false)
}

// DeviceDisconnected emits a device_disconnected event.
func (h *Handler) DeviceDisconnected(ctx context.Context, targets []TriggerTarget, realm, deviceID string, tsMillis, totalMsgs, totalBytes int64) {
	h.Dispatch(ctx, SimpleEvent{
		Realm: realm, DeviceID: deviceID, Type: EventDeviceDisconnected,
		Timestamp: millisToTime(tsMillis), Payload: DeviceDisconnectedPayload(totalMsgs, totalBytes),
	}, targets, false)
}

// IncomingData emits an incoming_data event for a matched data trigger.
func (h *Handler) IncomingData(ctx context.Context, targets []TriggerTarget, realm, deviceID, iface, path string, bsonValue []byte, tsMillis int64) {
	h.Dispatch(ctx, SimpleEvent{
		Realm: realm, DeviceID: deviceID, Type: EventIncomingData,
		Timestamp: millisToTime(tsMillis), Payload: IncomingDataPayload(iface, path, bsonValue),
	}, targets, true)
}

// ValueChange emits value_change (pre-write) or value_change_applied
// (post-write) depending on applied.
func (h *Handler) ValueChange(ctx context.Context, targets []TriggerTarget, realm, deviceID, iface, path string, oldBSON, newBSON []byte, tsMillis int64, applied bool) {
	eventType := EventValueChange
	if applied {
		eventType = EventValueChangeApplied
	}
	h.Dispatch(ctx, SimpleEvent{
		Realm: realm, DeviceID: deviceID, Type: eventType,
		Timestamp: millisToTime(tsMillis), Payload: ValueChangePayload(iface, path, oldBSON, newBSON),
	}, targets, true)
}

// PathCreated emits a path_created event.
func (h *Handler) PathCreated(ctx context.Context, targets []TriggerTarget, realm, deviceID, iface, path string, tsMillis int64) {
	h.Dispatch(ctx, SimpleEvent{
		Realm: realm, DeviceID: deviceID, Type: EventPathCreated,
		Timestamp: millisToTime(tsMillis), Payload: PathPayload(iface, path),
	}, targets, true)
}

// PathRemoved emits a path_removed event.
func (h *Handler) PathRemoved(ctx context.Context, targets []TriggerTarget, realm, deviceID, iface, path string, tsMillis int64) {
	h.Dispatch(ctx, SimpleEvent{
		Realm: realm, DeviceID: deviceID, Type: EventPathRemoved,
		Timestamp: millisToTime(tsMillis), Payload: PathPayload(iface, path),
	}, targets, true)
}

// InterfaceAdded / InterfaceRemoved emit introspection-diff events.
func (h *Handler) InterfaceAdded(ctx context.Context, targets []TriggerTarget, realm, deviceID, iface string, major, minor int, tsMillis int64) {
	h.Dispatch(ctx, SimpleEvent{
		Realm: realm, DeviceID: deviceID, Type: EventInterfaceAdded,
		Timestamp: millisToTime(tsMillis), Payload: InterfaceVersionPayload(iface, major, minor),
	}, targets, false)
}

func (h *Handler) InterfaceRemoved(ctx context.Context, targets []TriggerTarget, realm, deviceID, iface string, major int, tsMillis int64) {
	h.Dispatch(ctx, SimpleEvent{
		Realm: realm, DeviceID: deviceID, Type: EventInterfaceRemoved,
		Timestamp: millisToTime(tsMillis), Payload: InterfaceVersionPayload(iface, major, 0),
	}, targets, false)
}

// IncomingIntrospection emits the raw introspection payload event.
func (h *Handler) IncomingIntrospection(ctx context.Context, targets []TriggerTarget, realm, deviceID string, raw []byte, tsMillis int64) {
	h.Dispatch(ctx, SimpleEvent{
		Realm: realm, DeviceID: deviceID, Type: EventIncomingIntro,
		Timestamp: millisToTime(tsMillis), Payload: IncomingIntrospectionPayload(raw),
	}, targets, false)
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// ValidateTargets is a defensive guard against empty routing keys, the
// common cause of silently-dropped trigger events.
func ValidateTargets(targets []TriggerTarget) error {
	for _, t := range targets {
		if t.RoutingKey == "" {
			return fmt.Errorf("trigger target %s has empty routing key", t.SimpleTriggerID)
		}
	}
	return nil
}
