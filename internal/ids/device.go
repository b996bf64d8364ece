// Package ids handles the device-id external representation: 16 raw bytes,
// base64-url-encoded without padding on the wire.
package ids

import (
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// DeviceID is the 16-byte raw device identifier.
type DeviceID [16]byte

// Key identifies a single device actor within a realm.
type Key struct {
	Realm    string
	DeviceID DeviceID
}

func (k Key) String() string {
	return k.Realm + "/" + k.DeviceID.String()
}

// ParseDeviceID decodes the base64-url-without-padding external form used on
// AMQP headers and control paths.
func ParseDeviceID(encoded string) (DeviceID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return DeviceID{}, fmt.Errorf("invalid device id %q: %w", encoded, err)
	}
	if len(raw) != 16 {
		return DeviceID{}, fmt.Errorf("invalid device id %q: expected 16 bytes, got %d", encoded, len(raw))
	}
	var id DeviceID
	copy(id[:], raw)
	return id, nil
}

// String renders the device id in its external base64-url-without-padding form.
func (d DeviceID) String() string {
	return base64.RawURLEncoding.EncodeToString(d[:])
}

// UUID reinterprets the 16 raw device-id bytes as a uuid.UUID, the shape the
// Queries layer's logical schema (devices.device_id) expects.
func (d DeviceID) UUID() uuid.UUID {
	return uuid.UUID(d)
}

// DeviceIDFromUUID is the inverse of UUID, used when a row's device_id comes
// back from the database.
func DeviceIDFromUUID(u uuid.UUID) DeviceID {
	return DeviceID(u)
}
