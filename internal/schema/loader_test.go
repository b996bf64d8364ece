package schema

import "testing"

func TestParseValueTypeCoversAllWireNames(t *testing.T) {
	cases := map[string]ValueType{
		"double":           ValueTypeDouble,
		"integer":          ValueTypeInteger,
		"boolean":          ValueTypeBoolean,
		"longinteger":      ValueTypeLongInteger,
		"string":           ValueTypeString,
		"binaryblob":       ValueTypeBinaryBlob,
		"datetime":         ValueTypeDatetime,
		"doublearray":      ValueTypeDoubleArray,
		"integerarray":     ValueTypeIntegerArray,
		"booleanarray":     ValueTypeBooleanArray,
		"longintegerarray": ValueTypeLongIntegerArray,
		"stringarray":      ValueTypeStringArray,
		"binaryblobarray":  ValueTypeBinaryBlobArray,
		"datetimearray":    ValueTypeDatetimeArray,
	}
	for wire, want := range cases {
		got, err := parseValueType(wire)
		if err != nil {
			t.Errorf("parseValueType(%q): unexpected error %v", wire, err)
			continue
		}
		if got != want {
			t.Errorf("parseValueType(%q) = %v, want %v", wire, got, want)
		}
	}

	if _, err := parseValueType("not-a-type"); err == nil {
		t.Error("expected error for unknown value type")
	}
}

func TestParseReliabilityCollapsesToTwoLevels(t *testing.T) {
	if got := parseReliability("unreliable"); got != ReliabilityUnreliable {
		t.Errorf("expected ReliabilityUnreliable, got %v", got)
	}
	if got := parseReliability("guaranteed"); got != ReliabilityGuaranteed {
		t.Errorf("expected ReliabilityGuaranteed, got %v", got)
	}
	if got := parseReliability("unique"); got != ReliabilityGuaranteed {
		t.Errorf("expected unique to collapse to ReliabilityGuaranteed, got %v", got)
	}
}

func TestParseAggregationAndOwnership(t *testing.T) {
	if agg, err := parseAggregation("individual"); err != nil || agg != AggregationIndividual {
		t.Errorf("parseAggregation(individual) = %v, %v", agg, err)
	}
	if agg, err := parseAggregation("object"); err != nil || agg != AggregationObject {
		t.Errorf("parseAggregation(object) = %v, %v", agg, err)
	}
	if _, err := parseAggregation("bogus"); err == nil {
		t.Error("expected error for unknown aggregation")
	}

	if own, err := parseOwnership("device"); err != nil || own != OwnershipDevice {
		t.Errorf("parseOwnership(device) = %v, %v", own, err)
	}
	if own, err := parseOwnership("server"); err != nil || own != OwnershipServer {
		t.Errorf("parseOwnership(server) = %v, %v", own, err)
	}
}

func TestStorageTypeFor(t *testing.T) {
	if st := storageTypeFor(InterfaceTypeProperties, AggregationIndividual); st != StorageMultiInterfaceIndividualProperties {
		t.Errorf("expected properties storage, got %v", st)
	}
	if st := storageTypeFor(InterfaceTypeDatastream, AggregationObject); st != StorageOneObjectDatastream {
		t.Errorf("expected object datastream storage, got %v", st)
	}
	if st := storageTypeFor(InterfaceTypeDatastream, AggregationIndividual); st != StorageMultiInterfaceIndividualDatastream {
		t.Errorf("expected individual datastream storage, got %v", st)
	}
}
