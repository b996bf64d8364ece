package trigger

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// compiledPayload is the wire shape persisted in simple_triggers.trigger_data
// (spec.md §6). The compiler/installer side of the RPC surface that produces
// this blob is out of scope (spec.md §1); only its contract as consumed here
// is in scope.
type compiledPayload struct {
	Kind string `json:"kind"` // "data" | "device" | "introspection"

	DataTriggerType    string      `json:"data_trigger_type,omitempty"`
	MatchPath          string      `json:"match_path,omitempty"` // "" => any_endpoint
	ValueMatchOperator string      `json:"value_match_operator,omitempty"`
	KnownValue         interface{} `json:"known_value,omitempty"`

	DeviceTriggerType string `json:"device_trigger_type,omitempty"`

	IntrospectionTriggerType string `json:"introspection_trigger_type,omitempty"`
}

func parseDataTriggerType(s string) (DataTriggerType, error) {
	switch s {
	case "incoming_data":
		return DataTriggerIncomingData, nil
	case "value_change":
		return DataTriggerValueChange, nil
	case "value_change_applied":
		return DataTriggerValueChangeApplied, nil
	case "path_created":
		return DataTriggerPathCreated, nil
	case "path_removed":
		return DataTriggerPathRemoved, nil
	default:
		return 0, fmt.Errorf("unknown data_trigger_type %q", s)
	}
}

func parseValueMatchOperator(s string) (ValueMatchOperator, error) {
	switch s {
	case "", "always":
		return MatchAlways, nil
	case "=":
		return MatchEqual, nil
	case "!=":
		return MatchNotEqual, nil
	case ">":
		return MatchGreaterThan, nil
	case ">=":
		return MatchGreaterOrEqual, nil
	case "<":
		return MatchLessThan, nil
	case "<=":
		return MatchLessOrEqual, nil
	default:
		return 0, fmt.Errorf("unknown value_match_operator %q", s)
	}
}

func parseDeviceTriggerType(s string) (DeviceTriggerType, error) {
	switch s {
	case "on_device_connection":
		return DeviceTriggerOnConnect, nil
	case "on_device_disconnection":
		return DeviceTriggerOnDisconnect, nil
	default:
		return 0, fmt.Errorf("unknown device_trigger_type %q", s)
	}
}

func parseIntrospectionTriggerType(s string) (IntrospectionTriggerType, error) {
	switch s {
	case "interface_added":
		return IntrospectionTriggerInterfaceAdded, nil
	case "interface_removed":
		return IntrospectionTriggerInterfaceRemoved, nil
	case "incoming_introspection":
		return IntrospectionTriggerIncoming, nil
	default:
		return 0, fmt.Errorf("unknown introspection_trigger_type %q", s)
	}
}

// PeekCompiledTrigger extracts just the kind and (for data triggers) the raw
// match path, so the caller can resolve an endpoint id via its
// EndpointsAutomaton before calling DecodeSimpleTrigger.
func PeekCompiledTrigger(raw []byte) (kind string, matchPath string, err error) {
	var p compiledPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", "", fmt.Errorf("malformed compiled trigger payload: %w", err)
	}
	return p.Kind, p.MatchPath, nil
}

// DecodeSimpleTrigger turns one simple_triggers row into a compiled trigger
// keyed by (interfaceID, endpointID) for data triggers, ready for
// DispatchTable.AddDataTrigger/AddDeviceTrigger/AddIntrospectionTrigger. The
// endpoint id, when the match path is non-empty, must already be resolved
// by the caller (the actor, via its EndpointsAutomaton) since compiled.go
// has no schema access.
func DecodeSimpleTrigger(raw []byte, interfaceID uuid.UUID, endpointID uuid.UUID, target TriggerTarget) (dataTrigger *DataTrigger, deviceTrigger *DeviceTrigger, introspectionTrigger *IntrospectionTrigger, err error) {
	var p compiledPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil, nil, fmt.Errorf("malformed compiled trigger payload: %w", err)
	}

	switch p.Kind {
	case "data":
		dtype, err := parseDataTriggerType(p.DataTriggerType)
		if err != nil {
			return nil, nil, nil, err
		}
		op, err := parseValueMatchOperator(p.ValueMatchOperator)
		if err != nil {
			return nil, nil, nil, err
		}
		var tokens []string
		if p.MatchPath != "" {
			tokens = TokenizePath(p.MatchPath)
		} else {
			endpointID = AnyEndpoint
		}
		return &DataTrigger{
			Type:               dtype,
			InterfaceID:        interfaceID,
			EndpointID:         endpointID,
			PathMatchTokens:    tokens,
			ValueMatchOperator: op,
			KnownValue:         p.KnownValue,
			Targets:            []TriggerTarget{target},
		}, nil, nil, nil
	case "device":
		dtype, err := parseDeviceTriggerType(p.DeviceTriggerType)
		if err != nil {
			return nil, nil, nil, err
		}
		return nil, &DeviceTrigger{Type: dtype, Targets: []TriggerTarget{target}}, nil, nil
	case "introspection":
		itype, err := parseIntrospectionTriggerType(p.IntrospectionTriggerType)
		if err != nil {
			return nil, nil, nil, err
		}
		return nil, nil, &IntrospectionTrigger{Type: itype, Targets: []TriggerTarget{target}}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown compiled trigger kind %q", p.Kind)
	}
}

// EncodeSimpleTrigger is the inverse for data triggers.
func EncodeSimpleTrigger(dt *DataTrigger) ([]byte, error) {
	p := compiledPayload{
		Kind:            "data",
		DataTriggerType: dt.Type.String(),
		MatchPath:       joinTokens(dt.PathMatchTokens),
		KnownValue:      dt.KnownValue,
	}
	switch dt.ValueMatchOperator {
	case MatchEqual:
		p.ValueMatchOperator = "="
	case MatchNotEqual:
		p.ValueMatchOperator = "!="
	case MatchGreaterThan:
		p.ValueMatchOperator = ">"
	case MatchGreaterOrEqual:
		p.ValueMatchOperator = ">="
	case MatchLessThan:
		p.ValueMatchOperator = "<"
	case MatchLessOrEqual:
		p.ValueMatchOperator = "<="
	default:
		p.ValueMatchOperator = "always"
	}
	return json.Marshal(p)
}
