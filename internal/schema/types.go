// Package schema defines the interface/mapping contracts referenced but not
// owned by the data updater: InterfaceQueries, Mappings and
// EndpointsAutomaton are external schema-loading collaborators (out of
// scope per spec.md §1); this package models their shapes and provides the
// implementations the worker uses (PrefixAutomaton, PGInterfaceLoader).
package schema

import "github.com/google/uuid"

// InterfaceType distinguishes properties from datastream interfaces.
type InterfaceType int

const (
	InterfaceTypeProperties InterfaceType = iota
	InterfaceTypeDatastream
)

// Aggregation is individual (one row per endpoint) or object (one row per
// message, multiple columns).
type Aggregation int

const (
	AggregationIndividual Aggregation = iota
	AggregationObject
)

// Ownership says who is allowed to publish on an interface.
type Ownership int

const (
	OwnershipDevice Ownership = iota
	OwnershipServer
)

// StorageType selects the Queries-layer insertion strategy (§4.2.3 step 11).
type StorageType int

const (
	StorageMultiInterfaceIndividualProperties StorageType = iota
	StorageMultiInterfaceIndividualDatastream
	StorageOneObjectDatastream
)

// Reliability and Retention are per-mapping QoS-like knobs that feed the
// consistency-selection table in §4.2.3.
type Reliability int

const (
	ReliabilityUnreliable Reliability = iota
	ReliabilityGuaranteed
)

type Retention int

const (
	RetentionDiscard Retention = iota
	RetentionStored
)

// ValueType enumerates the BSON-compatible leaf types a mapping accepts.
type ValueType int

const (
	ValueTypeDouble ValueType = iota
	ValueTypeInteger
	ValueTypeBoolean
	ValueTypeLongInteger
	ValueTypeString
	ValueTypeBinaryBlob
	ValueTypeDatetime
	ValueTypeDoubleArray
	ValueTypeIntegerArray
	ValueTypeBooleanArray
	ValueTypeLongIntegerArray
	ValueTypeStringArray
	ValueTypeBinaryBlobArray
	ValueTypeDatetimeArray
)

// Mapping is a single compiled endpoint.
type Mapping struct {
	EndpointID        uuid.UUID
	InterfaceID       uuid.UUID
	Endpoint          string
	ValueType         ValueType
	Reliability       Reliability
	Retention         Retention
	AllowUnset        bool
	ExplicitTimestamp bool
}

// InterfaceDescriptor is the cached, resolved shape of one interface version.
type InterfaceDescriptor struct {
	InterfaceID  uuid.UUID
	Name         string
	MajorVersion int
	MinorVersion int
	Type         InterfaceType
	Aggregation  Aggregation
	Ownership    Ownership
	Storage      string
	StorageType  StorageType
	Automaton    EndpointsAutomaton
}

// ResolveResult is what EndpointsAutomaton.ResolvePath returns: either a
// single concrete endpoint id, or (for object aggregation) a "guessed" set
// of candidate endpoint ids sharing the matched prefix.
type ResolveResult struct {
	EndpointID      uuid.UUID
	Guessed         bool
	GuessedEndpoints []uuid.UUID
}

// EndpointsAutomaton is the external schema-path-matching collaborator
// (out of scope per spec.md §1). Only its contract is referenced here.
type EndpointsAutomaton interface {
	ResolvePath(path string) (ResolveResult, error)

	// ResolveObjectPrefix returns every endpoint template one segment deeper
	// than path whose leading segments match path (parametric segments
	// matching any concrete one), for object-aggregation endpoint
	// resolution (spec.md §4.2.3 step 4).
	ResolveObjectPrefix(path string) ([]uuid.UUID, error)
}

// InterfaceLoader is the external schema-loading collaborator standing in
// for InterfaceQueries/Mappings (out of scope per spec.md §1): given a
// name and a declared major version, it returns the resolved descriptor and
// its compiled mappings, or an interface_loading_failed error.
type InterfaceLoader interface {
	LoadInterface(realm, name string, major int) (*InterfaceDescriptor, []Mapping, error)
}

// Depth returns the number of '/'-separated non-empty segments in a path.
func Depth(path string) int {
	depth := 0
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				depth++
			}
			start = i + 1
		}
	}
	return depth
}
