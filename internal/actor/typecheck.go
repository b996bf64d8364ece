package actor

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/astarte-platform/astra-data-updater/internal/schema"
)

// checkValueType implements spec.md §4.2.3 step 6 for a single (non-object)
// leaf: Bson.UTC and Bson.Bin are valid leaf types, any other mismatched
// struct is unexpected_value_type.
func checkValueType(vt schema.ValueType, v interface{}) error {
	if v == nil {
		return nil // unset, validity decided by allow_unset at the insert step
	}

	switch vt {
	case schema.ValueTypeDouble:
		if _, ok := v.(float64); ok {
			return nil
		}
	case schema.ValueTypeInteger:
		switch v.(type) {
		case int32, int:
			return nil
		}
	case schema.ValueTypeLongInteger:
		switch v.(type) {
		case int64, int32, int:
			return nil
		}
	case schema.ValueTypeBoolean:
		if _, ok := v.(bool); ok {
			return nil
		}
	case schema.ValueTypeString:
		if _, ok := v.(string); ok {
			return nil
		}
	case schema.ValueTypeBinaryBlob:
		if _, ok := v.(primitive.Binary); ok {
			return nil
		}
	case schema.ValueTypeDatetime:
		switch v.(type) {
		case primitive.DateTime:
			return nil
		}
	case schema.ValueTypeDoubleArray:
		return checkArray(v, schema.ValueTypeDouble)
	case schema.ValueTypeIntegerArray:
		return checkArray(v, schema.ValueTypeInteger)
	case schema.ValueTypeLongIntegerArray:
		return checkArray(v, schema.ValueTypeLongInteger)
	case schema.ValueTypeBooleanArray:
		return checkArray(v, schema.ValueTypeBoolean)
	case schema.ValueTypeStringArray:
		return checkArray(v, schema.ValueTypeString)
	case schema.ValueTypeBinaryBlobArray:
		return checkArray(v, schema.ValueTypeBinaryBlob)
	case schema.ValueTypeDatetimeArray:
		return checkArray(v, schema.ValueTypeDatetime)
	}
	return fmt.Errorf("%w: value %#v does not match declared type %v", ErrUnexpectedValueType, v, vt)
}

func checkArray(v interface{}, elem schema.ValueType) error {
	arr, ok := v.([]interface{})
	if !ok {
		return fmt.Errorf("%w: expected array, got %#v", ErrUnexpectedValueType, v)
	}
	for _, item := range arr {
		if err := checkValueType(elem, item); err != nil {
			return err
		}
	}
	return nil
}

// lastPathSegment returns the final '/'-separated segment of an endpoint
// template, used to map object-aggregation payload keys to mappings.
func lastPathSegment(s string) string {
	start := len(s)
	for start > 0 && s[start-1] != '/' {
		start--
	}
	return s[start:]
}
