package trigger

import (
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// EventType names the concrete event carried by a SimpleEvent envelope,
// matching the x_astarte_event_type header value (snake_case).
type EventType string

const (
	EventDeviceConnected     EventType = "device_connected"
	EventDeviceDisconnected  EventType = "device_disconnected"
	EventIncomingData        EventType = "incoming_data"
	EventValueChange         EventType = "value_change"
	EventValueChangeApplied  EventType = "value_change_applied"
	EventPathCreated         EventType = "path_created"
	EventPathRemoved         EventType = "path_removed"
	EventInterfaceAdded      EventType = "interface_added"
	EventInterfaceRemoved    EventType = "interface_removed"
	EventIncomingIntro       EventType = "incoming_introspection"
)

// SimpleEvent is the envelope tagging one concrete event, modeled on
// Astra's protobuf SimpleEvent message. The payload for data-path events
// carries arbitrary device values, so it is represented as a
// structpb.Struct (a real generated protobuf message) rather than a fixed
// oneof of hand-rolled generated types.
type SimpleEvent struct {
	Realm     string
	DeviceID  string
	Type      EventType
	Timestamp time.Time
	Payload   map[string]interface{}
}

// ToProto converts the envelope into its wire protobuf representation.
func (e SimpleEvent) ToProto() (*structpb.Struct, error) {
	payload, err := structpb.NewStruct(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("building event payload: %w", err)
	}
	env, err := structpb.NewStruct(map[string]interface{}{
		"realm":     e.Realm,
		"device_id": e.DeviceID,
		"type":      string(e.Type),
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("building event envelope: %w", err)
	}
	env.Fields["payload"] = structpb.NewStructValue(payload)
	return env, nil
}

// Marshal serializes the event using protobuf's canonical JSON mapping,
// the wire format the outbound exchange's consumers expect.
func (e SimpleEvent) Marshal() ([]byte, error) {
	msg, err := e.ToProto()
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(msg)
}

// DeviceConnectedPayload, DeviceDisconnectedPayload and friends build the
// Payload map for each concrete event kind.

func DeviceConnectedPayload(ip string) map[string]interface{} {
	return map[string]interface{}{"device_ip_address": ip}
}

func DeviceDisconnectedPayload(totalMsgs, totalBytes int64) map[string]interface{} {
	return map[string]interface{}{
		"total_received_msgs":  float64(totalMsgs),
		"total_received_bytes": float64(totalBytes),
	}
}

func IncomingDataPayload(interfaceName, path string, bsonValue []byte) map[string]interface{} {
	return map[string]interface{}{
		"interface":  interfaceName,
		"path":       path,
		"bson_value": base64.StdEncoding.EncodeToString(bsonValue),
	}
}

func ValueChangePayload(interfaceName, path string, oldBSON, newBSON []byte) map[string]interface{} {
	return map[string]interface{}{
		"interface":      interfaceName,
		"path":           path,
		"old_bson_value": base64.StdEncoding.EncodeToString(oldBSON),
		"new_bson_value": base64.StdEncoding.EncodeToString(newBSON),
	}
}

func PathPayload(interfaceName, path string) map[string]interface{} {
	return map[string]interface{}{"interface": interfaceName, "path": path}
}

func InterfaceVersionPayload(interfaceName string, major, minor int) map[string]interface{} {
	return map[string]interface{}{
		"interface": interfaceName,
		"major":     float64(major),
		"minor":     float64(minor),
	}
}

func IncomingIntrospectionPayload(raw []byte) map[string]interface{} {
	return map[string]interface{}{"introspection": string(raw)}
}
