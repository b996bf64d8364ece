package decode

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

func TestDecodeBSONPayload_EmptyPayload(t *testing.T) {
	v, err := DecodeBSONPayload(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.V != nil || v.Timestamp != nil {
		t.Errorf("expected zero Value for empty payload, got %+v", v)
	}
}

func TestDecodeBSONPayload_ValueOnly(t *testing.T) {
	raw, err := bson.Marshal(bson.M{"v": int32(42)})
	if err != nil {
		t.Fatal(err)
	}
	v, err := DecodeBSONPayload(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.V != int32(42) {
		t.Errorf("expected 42, got %v", v.V)
	}
}

func TestDecodeBSONPayload_ValueAndTimestamp(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	raw, err := EncodeBSONPayload(Value{V: int32(7), Timestamp: &ts})
	if err != nil {
		t.Fatal(err)
	}
	v, err := DecodeBSONPayload(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.V != int32(7) {
		t.Errorf("expected 7, got %v", v.V)
	}
	if v.Timestamp == nil || !v.Timestamp.Equal(ts) {
		t.Errorf("expected timestamp %v, got %v", ts, v.Timestamp)
	}
}

func TestDecodeBSONPayload_Unset(t *testing.T) {
	raw, err := EncodeBSONPayload(Value{V: nil})
	if err != nil {
		t.Fatal(err)
	}
	v, err := DecodeBSONPayload(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.V != nil {
		t.Errorf("expected nil value for unset, got %v", v.V)
	}
}

func TestDecodeBSONPayload_BareAggregatedObject(t *testing.T) {
	raw, err := bson.Marshal(bson.M{"temperature": 21.5, "humidity": int32(40)})
	if err != nil {
		t.Fatal(err)
	}
	v, err := DecodeBSONPayload(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := v.V.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map[string]interface{}, got %T", v.V)
	}
	if m["temperature"] != 21.5 {
		t.Errorf("unexpected temperature: %v", m["temperature"])
	}
}

func TestDecodeBSONPayload_Undecodable(t *testing.T) {
	_, err := DecodeBSONPayload([]byte{0x01, 0x02, 0x03})
	if err == nil {
		t.Error("expected error for garbage payload")
	}
}

func TestSafeInflate_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	zw.Write([]byte("hello world"))
	zw.Close()

	out, err := SafeInflate(buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "hello world" {
		t.Errorf("got %q", out)
	}
}

func TestSafeInflate_TooLarge(t *testing.T) {
	big := bytes.Repeat([]byte{'a'}, SafeInflateMax+1024)
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	zw.Write(big)
	zw.Close()

	_, err := SafeInflate(buf.Bytes())
	if err != ErrInflateTooLarge {
		t.Errorf("expected ErrInflateTooLarge, got %v", err)
	}
}

func TestParseProducerProperties_EmptySet(t *testing.T) {
	set, err := ParseProducerProperties([]byte{0, 0, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set) != 0 {
		t.Errorf("expected empty set, got %v", set)
	}
}

func TestParseProducerProperties_List(t *testing.T) {
	list := "com.X/p;com.Y/q/r"
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	zw.Write([]byte(list))
	zw.Close()

	payload := make([]byte, 4+buf.Len())
	binary.BigEndian.PutUint32(payload[:4], uint32(len(list)))
	copy(payload[4:], buf.Bytes())

	set, err := ParseProducerProperties(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := set[InterfacePath{Interface: "com.X", Path: "/p"}]; !ok {
		t.Error("missing com.X/p")
	}
	if _, ok := set[InterfacePath{Interface: "com.Y", Path: "/q/r"}]; !ok {
		t.Error("missing com.Y/q/r")
	}
}

func TestParseIntrospection_Valid(t *testing.T) {
	entries, err := ParseIntrospection([]byte("com.example.Foo:1:2;com.example.Bar:0:0"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Name != "com.example.Foo" || entries[0].Major != 1 || entries[0].Minor != 2 {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestParseIntrospection_InvalidName(t *testing.T) {
	_, err := ParseIntrospection([]byte("1bad.Name:1:0"))
	if err == nil {
		t.Error("expected error for invalid interface name")
	}
}

func TestParseIntrospection_InvalidUTF8(t *testing.T) {
	_, err := ParseIntrospection([]byte{0xff, 0xfe, 0xfd})
	if err == nil {
		t.Error("expected error for invalid UTF-8")
	}
}

func TestParseIntrospection_NegativeVersion(t *testing.T) {
	_, err := ParseIntrospection([]byte("com.example.Foo:-1:0"))
	if err == nil {
		t.Error("expected error for negative version")
	}
}
