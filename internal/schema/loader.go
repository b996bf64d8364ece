package schema

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// jsonMapping mirrors one entry of an Astarte interface document's
// "mappings" array, the wire shape the interfaces table's mappings column
// stores verbatim.
type jsonMapping struct {
	Endpoint          string `json:"endpoint"`
	Type              string `json:"type"`
	Reliability       string `json:"reliability"`
	Retention         string `json:"retention"`
	AllowUnset        bool   `json:"allow_unset"`
	ExplicitTimestamp bool   `json:"explicit_timestamp"`
}

// PGInterfaceLoader resolves interface descriptors and their compiled
// mappings from a pgx-backed interfaces table: one row per
// (realm, name, major_version), with mappings stored as the same JSON
// array an interface's source document carries. This is a concrete stand-in
// for the InterfaceQueries/Mappings/EndpointsAutomaton collaborators spec.md
// §1 declares out of scope — only their LoadInterface contract is required
// of us, but the worker needs a real implementation to run end to end.
type PGInterfaceLoader struct {
	pool *pgxpool.Pool
}

// NewPGInterfaceLoader constructs a PGInterfaceLoader over pool.
func NewPGInterfaceLoader(pool *pgxpool.Pool) *PGInterfaceLoader {
	return &PGInterfaceLoader{pool: pool}
}

// LoadInterface implements InterfaceLoader.
func (l *PGInterfaceLoader) LoadInterface(realm, name string, major int) (*InterfaceDescriptor, []Mapping, error) {
	const query = `
		SELECT minor_version, interface_type, ownership, aggregation, storage, mappings
		FROM interfaces
		WHERE realm = $1 AND name = $2 AND major_version = $3
	`
	var minor int
	var typeStr, ownershipStr, aggregationStr, storage string
	var mappingsJSON []byte

	err := l.pool.QueryRow(context.Background(), query, realm, name, major).Scan(
		&minor, &typeStr, &ownershipStr, &aggregationStr, &storage, &mappingsJSON,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("interface_loading_failed: %s v%d: %w", name, major, err)
	}

	var raw []jsonMapping
	if err := json.Unmarshal(mappingsJSON, &raw); err != nil {
		return nil, nil, fmt.Errorf("interface_loading_failed: decoding mappings for %s v%d: %w", name, major, err)
	}

	ifaceType, err := parseInterfaceType(typeStr)
	if err != nil {
		return nil, nil, fmt.Errorf("interface_loading_failed: %w", err)
	}
	aggregation, err := parseAggregation(aggregationStr)
	if err != nil {
		return nil, nil, fmt.Errorf("interface_loading_failed: %w", err)
	}
	ownership, err := parseOwnership(ownershipStr)
	if err != nil {
		return nil, nil, fmt.Errorf("interface_loading_failed: %w", err)
	}

	interfaceID := EndpointID(name, major, "")

	templates := make([]string, len(raw))
	mappings := make([]Mapping, len(raw))
	for i, m := range raw {
		vt, err := parseValueType(m.Type)
		if err != nil {
			return nil, nil, fmt.Errorf("interface_loading_failed: mapping %q: %w", m.Endpoint, err)
		}
		templates[i] = m.Endpoint
		mappings[i] = Mapping{
			EndpointID:        EndpointID(name, major, m.Endpoint),
			InterfaceID:       interfaceID,
			Endpoint:          m.Endpoint,
			ValueType:         vt,
			Reliability:       parseReliability(m.Reliability),
			Retention:         parseRetention(m.Retention),
			AllowUnset:        m.AllowUnset,
			ExplicitTimestamp: m.ExplicitTimestamp,
		}
	}

	desc := &InterfaceDescriptor{
		InterfaceID:  interfaceID,
		Name:         name,
		MajorVersion: major,
		MinorVersion: minor,
		Type:         ifaceType,
		Aggregation:  aggregation,
		Ownership:    ownership,
		Storage:      storage,
		StorageType:  storageTypeFor(ifaceType, aggregation),
		Automaton:    NewPrefixAutomaton(name, major, templates),
	}

	return desc, mappings, nil
}

func storageTypeFor(t InterfaceType, agg Aggregation) StorageType {
	if t == InterfaceTypeProperties {
		return StorageMultiInterfaceIndividualProperties
	}
	if agg == AggregationObject {
		return StorageOneObjectDatastream
	}
	return StorageMultiInterfaceIndividualDatastream
}

func parseInterfaceType(s string) (InterfaceType, error) {
	switch s {
	case "properties":
		return InterfaceTypeProperties, nil
	case "datastream":
		return InterfaceTypeDatastream, nil
	default:
		return 0, fmt.Errorf("unknown interface type %q", s)
	}
}

func parseAggregation(s string) (Aggregation, error) {
	switch s {
	case "individual":
		return AggregationIndividual, nil
	case "object":
		return AggregationObject, nil
	default:
		return 0, fmt.Errorf("unknown aggregation %q", s)
	}
}

func parseOwnership(s string) (Ownership, error) {
	switch s {
	case "device":
		return OwnershipDevice, nil
	case "server":
		return OwnershipServer, nil
	default:
		return 0, fmt.Errorf("unknown ownership %q", s)
	}
}

// parseReliability collapses Astarte's three reliability levels
// (unreliable, guaranteed, unique) onto this system's two-valued model: only
// "unreliable" changes the consistency-selection outcome (spec.md §4.2.3),
// so "guaranteed" and "unique" are indistinguishable for our purposes.
func parseReliability(s string) Reliability {
	if s == "unreliable" {
		return ReliabilityUnreliable
	}
	return ReliabilityGuaranteed
}

func parseRetention(s string) Retention {
	if s == "stored" {
		return RetentionStored
	}
	return RetentionDiscard
}

func parseValueType(s string) (ValueType, error) {
	switch s {
	case "double":
		return ValueTypeDouble, nil
	case "integer":
		return ValueTypeInteger, nil
	case "boolean":
		return ValueTypeBoolean, nil
	case "longinteger":
		return ValueTypeLongInteger, nil
	case "string":
		return ValueTypeString, nil
	case "binaryblob":
		return ValueTypeBinaryBlob, nil
	case "datetime":
		return ValueTypeDatetime, nil
	case "doublearray":
		return ValueTypeDoubleArray, nil
	case "integerarray":
		return ValueTypeIntegerArray, nil
	case "booleanarray":
		return ValueTypeBooleanArray, nil
	case "longintegerarray":
		return ValueTypeLongIntegerArray, nil
	case "stringarray":
		return ValueTypeStringArray, nil
	case "binaryblobarray":
		return ValueTypeBinaryBlobArray, nil
	case "datetimearray":
		return ValueTypeDatetimeArray, nil
	default:
		return 0, fmt.Errorf("unknown value type %q", s)
	}
}
