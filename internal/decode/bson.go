// Package decode implements the payload decoders: BSON device-data values,
// zlib-safe property-list inflation, and introspection-string parsing.
// All functions here are pure: no I/O, no actor state.
package decode

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrUndecodableBSON is returned when the payload does not match any of the
// accepted BSON shapes.
var ErrUndecodableBSON = fmt.Errorf("undecodable_bson_payload")

// Value is the decoded result of a device data payload: the raw value (nil
// for an unset), an optional explicit timestamp, and optional metadata.
type Value struct {
	V         interface{}
	Timestamp *time.Time
	Metadata  map[string]interface{}
}

// DecodeBSONPayload decodes a device `data` message payload. Accepted shapes:
//
//	{v, t: UTC, m: map}
//	{v, m: map}
//	{v, t: UTC}
//	{v}
//	bare map (legacy aggregated object)
//
// An empty payload decodes to a Value with a nil V (unset). A `{v: Bin(empty,
// subtype 0)}` document is also an explicit unset.
func DecodeBSONPayload(payload []byte) (Value, error) {
	if len(payload) == 0 {
		return Value{}, nil
	}

	var doc bson.M
	if err := bson.Unmarshal(payload, &doc); err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrUndecodableBSON, err)
	}

	rawV, hasV := doc["v"]
	if !hasV {
		// Bare aggregated-object legacy shape: the whole document is the value.
		return Value{V: normalizeValue(doc)}, nil
	}

	if isEmptyUnsetBinary(rawV) {
		rawV = nil
	}

	out := Value{V: normalizeValue(rawV)}

	if rawT, ok := doc["t"]; ok {
		dt, ok := rawT.(primitive.DateTime)
		if !ok {
			return Value{}, fmt.Errorf("%w: t field is not a UTC datetime", ErrUndecodableBSON)
		}
		t := dt.Time().UTC()
		out.Timestamp = &t
	}

	if rawM, ok := doc["m"]; ok {
		m, ok := rawM.(bson.M)
		if !ok {
			return Value{}, fmt.Errorf("%w: m field is not a document", ErrUndecodableBSON)
		}
		out.Metadata = map[string]interface{}(m)
	}

	return out, nil
}

// isEmptyUnsetBinary reports whether v is an empty primitive.Binary with
// subtype 0x00, the wire encoding for "explicit unset".
func isEmptyUnsetBinary(v interface{}) bool {
	bin, ok := v.(primitive.Binary)
	if !ok {
		return false
	}
	return bin.Subtype == 0x00 && len(bin.Data) == 0
}

// normalizeValue recursively converts bson.M documents (for object
// aggregation) and bson.A arrays into plain map[string]interface{} /
// []interface{}, leaving primitive.DateTime and primitive.Binary leaves
// untouched since they are valid value types per the spec.
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]interface{}, len(t))
		for k, vv := range t {
			out[k] = normalizeValue(vv)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(t))
		for i, vv := range t {
			out[i] = normalizeValue(vv)
		}
		return out
	default:
		return v
	}
}

// EncodeBSONPayload encodes a value back into the `{v: ...}` wire shape,
// used when re-publishing property values on /emptyCache and when
// bson-encoding old/new values for value_change triggers.
func EncodeBSONPayload(v Value) ([]byte, error) {
	doc := bson.M{}
	if v.V != nil {
		doc["v"] = v.V
	} else {
		doc["v"] = primitive.Binary{Subtype: 0x00, Data: []byte{}}
	}
	if v.Timestamp != nil {
		doc["t"] = primitive.NewDateTimeFromTime(*v.Timestamp)
	}
	if v.Metadata != nil {
		doc["m"] = v.Metadata
	}
	return bson.Marshal(doc)
}
