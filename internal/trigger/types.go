// Package trigger implements the TriggerMatcher & DispatchTable (compiled
// trigger tables, path-token matching, value-match operators) and the
// TriggersHandler (event serialization + outbound publish).
package trigger

import "github.com/google/uuid"

// DataTriggerType enumerates the kinds of data-path triggers a device or
// interface can carry.
type DataTriggerType int

const (
	DataTriggerIncomingData DataTriggerType = iota
	DataTriggerValueChange
	DataTriggerValueChangeApplied
	DataTriggerPathCreated
	DataTriggerPathRemoved
)

func (t DataTriggerType) String() string {
	switch t {
	case DataTriggerIncomingData:
		return "incoming_data"
	case DataTriggerValueChange:
		return "value_change"
	case DataTriggerValueChangeApplied:
		return "value_change_applied"
	case DataTriggerPathCreated:
		return "path_created"
	case DataTriggerPathRemoved:
		return "path_removed"
	default:
		return "unknown"
	}
}

// ValueMatchOperator is the comparison a DataTrigger applies once its path
// matches.
type ValueMatchOperator int

const (
	MatchAlways ValueMatchOperator = iota
	MatchEqual
	MatchNotEqual
	MatchGreaterThan
	MatchGreaterOrEqual
	MatchLessThan
	MatchLessOrEqual
)

// AnyInterface and AnyEndpoint are the sentinel ids used for the
// (:any_interface) and (:any_endpoint) precedence levels in §4.2.3 step 7.
var (
	AnyInterface = uuid.Nil
	AnyEndpoint  = uuid.Nil
)

// TargetKind is the trigger-target transport. Only AMQP is modeled per
// spec.md's scope.
type TargetKind int

const (
	TargetAMQP TargetKind = iota
)

// Header is a single static header key/value pair attached to a trigger
// target.
type Header struct {
	Key   string
	Value string
}

// TriggerTarget is where a matched trigger's event gets published.
type TriggerTarget struct {
	Kind            TargetKind
	SimpleTriggerID uuid.UUID
	ParentTriggerID uuid.UUID
	RoutingKey      string
	StaticHeaders   []Header
}

// DataTrigger is a compiled trigger row. InterfaceID == AnyInterface means
// "any interface"; PathMatchTokens == nil with EndpointID == AnyEndpoint
// means "any endpoint".
type DataTrigger struct {
	Type               DataTriggerType
	InterfaceID        uuid.UUID
	EndpointID         uuid.UUID
	PathMatchTokens    []string // "" denotes a single-segment wildcard
	ValueMatchOperator ValueMatchOperator
	KnownValue         interface{}
	Targets            []TriggerTarget
}

// congruenceKey identifies the dedup/merge key from the invariants section:
// (data_trigger_type, interface_id, endpoint_id, match_path, value_match_operator, known_value).
type congruenceKey struct {
	triggerType DataTriggerType
	interfaceID uuid.UUID
	endpointID  uuid.UUID
	matchPath   string
	operator    ValueMatchOperator
	knownValue  interface{}
}

func (d *DataTrigger) key() congruenceKey {
	return congruenceKey{
		triggerType: d.Type,
		interfaceID: d.InterfaceID,
		endpointID:  d.EndpointID,
		matchPath:   joinTokens(d.PathMatchTokens),
		operator:    d.ValueMatchOperator,
		knownValue:  d.KnownValue,
	}
}

func joinTokens(tokens []string) string {
	out := ""
	for i, t := range tokens {
		if i > 0 {
			out += "/"
		}
		out += t
	}
	return out
}

// AreCongruent reports whether two DataTriggers would merge into a single
// dispatch-table entry (same trigger semantics, different targets).
func (d *DataTrigger) AreCongruent(other *DataTrigger) bool {
	return d.key() == other.key()
}

// DeviceTriggerType enumerates device-lifecycle trigger hooks.
type DeviceTriggerType int

const (
	DeviceTriggerOnConnect DeviceTriggerType = iota
	DeviceTriggerOnDisconnect
)

// DeviceTrigger fires on connection/disconnection events, with no path or
// value matching.
type DeviceTrigger struct {
	Type    DeviceTriggerType
	Targets []TriggerTarget
}

// IntrospectionTriggerType enumerates introspection-change trigger hooks.
type IntrospectionTriggerType int

const (
	IntrospectionTriggerInterfaceAdded IntrospectionTriggerType = iota
	IntrospectionTriggerInterfaceRemoved
	IntrospectionTriggerIncoming
)

// IntrospectionTrigger fires on introspection changes or raw introspection
// message arrival.
type IntrospectionTrigger struct {
	Type    IntrospectionTriggerType
	Targets []TriggerTarget
}
