package ids

import "testing"

func TestDeviceIDRoundTrip(t *testing.T) {
	var raw DeviceID
	for i := range raw {
		raw[i] = byte(i)
	}
	encoded := raw.String()
	decoded, err := ParseDeviceID(encoded)
	if err != nil {
		t.Fatalf("ParseDeviceID: %v", err)
	}
	if decoded != raw {
		t.Errorf("round trip mismatch: got %v, want %v", decoded, raw)
	}
}

func TestParseDeviceIDInvalidLength(t *testing.T) {
	if _, err := ParseDeviceID("AA"); err == nil {
		t.Error("expected error for short device id")
	}
}

func TestParseDeviceIDInvalidBase64(t *testing.T) {
	if _, err := ParseDeviceID("not base64!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestKeyString(t *testing.T) {
	k := Key{Realm: "test", DeviceID: DeviceID{}}
	if got := k.String(); got == "" {
		t.Error("expected non-empty key string")
	}
}
