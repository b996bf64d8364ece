package trigger

import (
	"testing"

	"github.com/google/uuid"
)

func TestPathMatchesWildcard(t *testing.T) {
	match := TokenizePath("/rooms/%{room}/temp")
	// "" wildcard tokens are produced by the caller; emulate directly.
	tokens := []string{"rooms", "", "temp"}
	_ = match
	if !PathMatches(tokens, TokenizePath("/rooms/kitchen/temp")) {
		t.Error("expected wildcard match")
	}
	if PathMatches(tokens, TokenizePath("/rooms/kitchen/humidity")) {
		t.Error("expected mismatch on trailing segment")
	}
	if PathMatches(tokens, TokenizePath("/rooms/a/b/temp")) {
		t.Error("expected length mismatch to fail")
	}
}

func TestValueMatchesOperators(t *testing.T) {
	cases := []struct {
		op       ValueMatchOperator
		known    interface{}
		incoming interface{}
		want     bool
	}{
		{MatchAlways, nil, 5, true},
		{MatchEqual, 5.0, 5.0, true},
		{MatchEqual, 5.0, 6.0, false},
		{MatchNotEqual, 5.0, 6.0, true},
		{MatchGreaterThan, 5.0, 6.0, true},
		{MatchGreaterThan, 5.0, 5.0, false},
		{MatchGreaterOrEqual, 5.0, 5.0, true},
		{MatchLessThan, 5.0, 4.0, true},
		{MatchLessOrEqual, 5.0, 5.0, true},
	}
	for _, c := range cases {
		if got := ValueMatches(c.op, c.known, c.incoming); got != c.want {
			t.Errorf("ValueMatches(%v, %v, %v) = %v, want %v", c.op, c.known, c.incoming, got, c.want)
		}
	}
}

func TestDispatchTable_CongruentTriggersMerge(t *testing.T) {
	dt := NewDispatchTable()
	ifaceID := uuid.New()
	epID := uuid.New()
	target1 := TriggerTarget{SimpleTriggerID: uuid.New(), RoutingKey: "k1"}
	target2 := TriggerTarget{SimpleTriggerID: uuid.New(), RoutingKey: "k2"}

	dt.AddDataTrigger(&DataTrigger{
		Type: DataTriggerIncomingData, InterfaceID: ifaceID, EndpointID: epID,
		PathMatchTokens: []string{"a"}, ValueMatchOperator: MatchAlways, Targets: []TriggerTarget{target1},
	})
	dt.AddDataTrigger(&DataTrigger{
		Type: DataTriggerIncomingData, InterfaceID: ifaceID, EndpointID: epID,
		PathMatchTokens: []string{"a"}, ValueMatchOperator: MatchAlways, Targets: []TriggerTarget{target2},
	})

	key := DataTriggerKey{Type: DataTriggerIncomingData, InterfaceID: ifaceID, EndpointID: epID}
	bucket := dt.DataTriggers[key]
	if len(bucket) != 1 {
		t.Fatalf("expected congruent triggers to merge into 1 entry, got %d", len(bucket))
	}
	if len(bucket[0].Targets) != 2 {
		t.Fatalf("expected 2 merged targets, got %d", len(bucket[0].Targets))
	}
}

func TestDispatchTable_MatchingDataTriggersPrecedenceOrder(t *testing.T) {
	dt := NewDispatchTable()
	ifaceID := uuid.New()
	epID := uuid.New()

	dt.AddDataTrigger(&DataTrigger{
		Type: DataTriggerIncomingData, InterfaceID: AnyInterface, EndpointID: AnyEndpoint,
		ValueMatchOperator: MatchAlways, Targets: []TriggerTarget{{RoutingKey: "any-iface"}},
	})
	dt.AddDataTrigger(&DataTrigger{
		Type: DataTriggerIncomingData, InterfaceID: ifaceID, EndpointID: AnyEndpoint,
		ValueMatchOperator: MatchAlways, Targets: []TriggerTarget{{RoutingKey: "any-endpoint"}},
	})
	dt.AddDataTrigger(&DataTrigger{
		Type: DataTriggerIncomingData, InterfaceID: ifaceID, EndpointID: epID,
		PathMatchTokens: []string{"a"}, ValueMatchOperator: MatchAlways, Targets: []TriggerTarget{{RoutingKey: "specific"}},
	})

	matches := dt.MatchingDataTriggers(DataTriggerIncomingData, ifaceID, epID, "/a", 1.0)
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	order := []string{matches[0].Targets[0].RoutingKey, matches[1].Targets[0].RoutingKey, matches[2].Targets[0].RoutingKey}
	want := []string{"any-iface", "any-endpoint", "specific"}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestDispatchTable_RemoveVolatileTrigger(t *testing.T) {
	dt := NewDispatchTable()
	ifaceID := uuid.New()
	epID := uuid.New()
	triggerID := uuid.New()

	dt.AddVolatileDataTrigger(&DataTrigger{
		Type: DataTriggerIncomingData, InterfaceID: ifaceID, EndpointID: epID,
		ValueMatchOperator: MatchAlways, Targets: []TriggerTarget{{SimpleTriggerID: triggerID, RoutingKey: "k"}},
	})
	key := DataTriggerKey{Type: DataTriggerIncomingData, InterfaceID: ifaceID, EndpointID: epID}
	if len(dt.DataTriggers[key]) != 1 {
		t.Fatalf("expected trigger installed")
	}

	dt.RemoveVolatileTrigger(triggerID)
	if len(dt.DataTriggers[key]) != 0 {
		t.Errorf("expected trigger removed, got %d", len(dt.DataTriggers[key]))
	}
}

func TestDispatchTable_ForgetInterface(t *testing.T) {
	dt := NewDispatchTable()
	ifaceID := uuid.New()
	dt.AddDataTrigger(&DataTrigger{
		Type: DataTriggerIncomingData, InterfaceID: ifaceID, EndpointID: uuid.New(),
		ValueMatchOperator: MatchAlways, Targets: []TriggerTarget{{RoutingKey: "k"}},
	})
	dt.ForgetInterface(ifaceID)
	for key := range dt.DataTriggers {
		if key.InterfaceID == ifaceID {
			t.Errorf("expected interface triggers forgotten, found %v", key)
		}
	}
}

func TestSimpleEventMarshal(t *testing.T) {
	e := SimpleEvent{
		Realm: "test", DeviceID: "abc", Type: EventDeviceConnected,
		Payload: DeviceConnectedPayload("1.2.3.4"),
	}
	body, err := e.Marshal()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(body) == 0 {
		t.Error("expected non-empty marshaled event")
	}
}
