package trigger

import "github.com/google/uuid"

// DataTriggerKey identifies one bucket of the data-trigger dispatch table:
// a (type, interface, endpoint) triple. AnyInterface/AnyEndpoint sentinels
// model the "any interface"/"any endpoint" precedence levels.
type DataTriggerKey struct {
	Type        DataTriggerType
	InterfaceID uuid.UUID
	EndpointID  uuid.UUID
}

// DispatchTable holds all compiled triggers for one device actor: data
// triggers keyed by (type, interface, endpoint), device lifecycle triggers,
// and introspection triggers. It also tracks volatile (runtime-installed,
// non-persisted) triggers so they can be removed by target identity later.
type DispatchTable struct {
	DataTriggers          map[DataTriggerKey][]*DataTrigger
	DeviceTriggers        map[DeviceTriggerType][]*DeviceTrigger
	IntrospectionTriggers map[IntrospectionTriggerType][]*IntrospectionTrigger

	volatile map[uuid.UUID]volatileEntry
}

type volatileKind int

const (
	volatileData volatileKind = iota
	volatileDevice
	volatileIntrospection
)

type volatileEntry struct {
	kind DataTriggerKey
	vkind volatileKind
	dtype  DataTriggerType
	devType DeviceTriggerType
	introType IntrospectionTriggerType
}

// NewDispatchTable returns an empty table ready for interface/device
// trigger population.
func NewDispatchTable() *DispatchTable {
	return &DispatchTable{
		DataTriggers:          make(map[DataTriggerKey][]*DataTrigger),
		DeviceTriggers:        make(map[DeviceTriggerType][]*DeviceTrigger),
		IntrospectionTriggers: make(map[IntrospectionTriggerType][]*IntrospectionTrigger),
		volatile:              make(map[uuid.UUID]volatileEntry),
	}
}

// AddDataTrigger inserts a compiled data trigger, merging it into an
// existing congruent entry (union of targets, per the invariants section)
// instead of creating a duplicate row.
func (d *DispatchTable) AddDataTrigger(dt *DataTrigger) {
	key := DataTriggerKey{Type: dt.Type, InterfaceID: dt.InterfaceID, EndpointID: dt.EndpointID}
	bucket := d.DataTriggers[key]
	for _, existing := range bucket {
		if existing.AreCongruent(dt) {
			existing.Targets = append(existing.Targets, dt.Targets...)
			return
		}
	}
	d.DataTriggers[key] = append(bucket, dt)
}

// AddVolatileDataTrigger is AddDataTrigger plus bookkeeping so the trigger
// can later be removed with RemoveVolatileTrigger by its target's
// SimpleTriggerID.
func (d *DispatchTable) AddVolatileDataTrigger(dt *DataTrigger) {
	d.AddDataTrigger(dt)
	key := DataTriggerKey{Type: dt.Type, InterfaceID: dt.InterfaceID, EndpointID: dt.EndpointID}
	for _, target := range dt.Targets {
		d.volatile[target.SimpleTriggerID] = volatileEntry{vkind: volatileData, kind: key, dtype: dt.Type}
	}
}

// AddDeviceTrigger registers a connection/disconnection trigger.
func (d *DispatchTable) AddDeviceTrigger(dt *DeviceTrigger) {
	d.DeviceTriggers[dt.Type] = append(d.DeviceTriggers[dt.Type], dt)
}

// AddIntrospectionTrigger registers an interface_added/removed/incoming trigger.
func (d *DispatchTable) AddIntrospectionTrigger(it *IntrospectionTrigger) {
	d.IntrospectionTriggers[it.Type] = append(d.IntrospectionTriggers[it.Type], it)
}

// RemoveVolatileTrigger removes a previously-installed volatile trigger by
// the SimpleTriggerID of one of its targets.
func (d *DispatchTable) RemoveVolatileTrigger(simpleTriggerID uuid.UUID) {
	entry, ok := d.volatile[simpleTriggerID]
	if !ok {
		return
	}
	delete(d.volatile, simpleTriggerID)

	switch entry.vkind {
	case volatileData:
		bucket := d.DataTriggers[entry.kind]
		filtered := bucket[:0]
		for _, dt := range bucket {
			dt.Targets = removeTargetByID(dt.Targets, simpleTriggerID)
			if len(dt.Targets) > 0 {
				filtered = append(filtered, dt)
			}
		}
		d.DataTriggers[entry.kind] = filtered
	}
}

func removeTargetByID(targets []TriggerTarget, id uuid.UUID) []TriggerTarget {
	out := targets[:0]
	for _, t := range targets {
		if t.SimpleTriggerID != id {
			out = append(out, t)
		}
	}
	return out
}

// ForgetInterface drops every data trigger keyed by the given interface id,
// used when introspection removes an interface (invariants section).
func (d *DispatchTable) ForgetInterface(interfaceID uuid.UUID) {
	for key := range d.DataTriggers {
		if key.InterfaceID == interfaceID {
			delete(d.DataTriggers, key)
		}
	}
}

// MatchingDataTriggers returns every DataTrigger matching a concrete
// incoming value at (interfaceID, endpointID, path), across all three
// precedence levels. Order: any_interface -> any_endpoint -> specific, per
// spec.md §4.2.3 step 7 / §8.
func (d *DispatchTable) MatchingDataTriggers(triggerType DataTriggerType, interfaceID, endpointID uuid.UUID, path string, value interface{}) []*DataTrigger {
	var out []*DataTrigger

	for _, dt := range d.DataTriggers[DataTriggerKey{Type: triggerType, InterfaceID: AnyInterface, EndpointID: AnyEndpoint}] {
		out = append(out, dt)
	}
	for _, dt := range d.DataTriggers[DataTriggerKey{Type: triggerType, InterfaceID: interfaceID, EndpointID: AnyEndpoint}] {
		out = append(out, dt)
	}
	pathTokens := TokenizePath(path)
	for _, dt := range d.DataTriggers[DataTriggerKey{Type: triggerType, InterfaceID: interfaceID, EndpointID: endpointID}] {
		if !PathMatches(dt.PathMatchTokens, pathTokens) {
			continue
		}
		if !ValueMatches(dt.ValueMatchOperator, dt.KnownValue, value) {
			continue
		}
		out = append(out, dt)
	}

	return out
}
