package actor

import (
	"context"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/astarte-platform/astra-data-updater/internal/config"
	"github.com/astarte-platform/astra-data-updater/internal/ids"
	"github.com/astarte-platform/astra-data-updater/internal/repository"
	"github.com/astarte-platform/astra-data-updater/internal/timeutil"
	"github.com/astarte-platform/astra-data-updater/internal/tracker"
	"github.com/astarte-platform/astra-data-updater/internal/trigger"
	"github.com/astarte-platform/astra-data-updater/internal/vmqplugin"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []string // routing keys
}

func (f *fakePublisher) PublishRaw(ctx context.Context, routingKey string, headers amqp.Table, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, routingKey)
	return nil
}

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		InterfaceLifespan:      10 * time.Minute,
		DeviceTriggersLifespan: 10 * time.Minute,
		PathsCacheCapacity:     32,
		SafeInflateMaxBytes:    1024 * 1024,
		BaseBackoff:            time.Millisecond,
		RandomBackoff:          0,
	}
}

func testKey() ids.Key {
	var id ids.DeviceID
	id[0] = 1
	return ids.Key{Realm: "test-realm", DeviceID: id}
}

func newTestActor(t *testing.T, q *fakeQueries) (*Actor, *tracker.Tracker) {
	t.Helper()
	acker := &fakeAcker{}
	trk := tracker.New(acker, time.Millisecond, 0)
	if err := trk.RegisterDataUpdater(context.Background()); err != nil {
		t.Fatalf("register tracker: %v", err)
	}

	deps := Deps{
		Queries:  q,
		Loader:   nil,
		Triggers: trigger.NewHandler(&fakePublisher{}, zap.NewNop()),
		Plugin:   vmqplugin.NoopPlugin{},
		Cache:    testCacheConfig(),
		Logger:   zap.NewNop(),
	}

	a, err := New(context.Background(), testKey(), deps, trk)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, trk
}

// fakeAcker mirrors tracker_test.go's helper; redefined here since actor
// tests live in a different package.
type fakeAcker struct {
	mu        sync.Mutex
	acked     []tracker.DeliveryTag
	discarded []tracker.DeliveryTag
	requeued  []tracker.DeliveryTag
}

func (f *fakeAcker) Ack(tag tracker.DeliveryTag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAcker) Discard(tag tracker.DeliveryTag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, tag)
	return nil
}

func (f *fakeAcker) Requeue(tag tracker.DeliveryTag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, tag)
	return nil
}

func TestNewHydratesFromDevice(t *testing.T) {
	q := newFakeQueries()
	key := testKey()
	q.putDevice(key.Realm, key.DeviceID.UUID(), &repository.Device{
		DeviceID:           key.DeviceID.UUID(),
		Connected:          true,
		IntrospectionMajor: map[string]int{"org.example.Temp": 1},
		IntrospectionMinor: map[string]int{"org.example.Temp": 2},
	})

	a, _ := newTestActor(t, q)
	if !a.state.connected {
		t.Error("expected hydrated state.connected true")
	}
	if a.state.introspectionMajor["org.example.Temp"] != 1 {
		t.Errorf("expected hydrated introspection major 1, got %d", a.state.introspectionMajor["org.example.Temp"])
	}
}

func TestHandleConnectionMarksConnectedAndAcks(t *testing.T) {
	q := newFakeQueries()
	a, trk := newTestActor(t, q)

	mid := "conn-1"
	trk.TrackDelivery(mid, uint64(1))
	ok, err := trk.CanProcessMessage(context.Background(), mid)
	if err != nil || !ok {
		t.Fatalf("expected processable, got ok=%v err=%v", ok, err)
	}

	ts := timeutil.NowDecimicro()
	if err := a.HandleConnection(context.Background(), "203.0.113.5", mid, ts); err != nil {
		t.Fatalf("HandleConnection: %v", err)
	}
	if !a.state.connected {
		t.Error("expected state.connected true after HandleConnection")
	}

	d, err := q.GetDevice(context.Background(), testKey().Realm, testKey().DeviceID.UUID())
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if !d.Connected {
		t.Error("expected persisted device row to be connected")
	}
	if d.LastSeenIP != "203.0.113.5" {
		t.Errorf("expected last_seen_ip 203.0.113.5, got %q", d.LastSeenIP)
	}
}

func TestHandleDisconnectionMarksDisconnected(t *testing.T) {
	q := newFakeQueries()
	a, trk := newTestActor(t, q)

	mid := "disc-1"
	trk.TrackDelivery(mid, uint64(1))
	ok, err := trk.CanProcessMessage(context.Background(), mid)
	if err != nil || !ok {
		t.Fatalf("expected processable, got ok=%v err=%v", ok, err)
	}

	if err := a.HandleDisconnection(context.Background(), mid, timeutil.NowDecimicro()); err != nil {
		t.Fatalf("HandleDisconnection: %v", err)
	}
	if a.state.connected {
		t.Error("expected state.connected false after HandleDisconnection")
	}

	d, err := q.GetDevice(context.Background(), testKey().Realm, testKey().DeviceID.UUID())
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if d.Connected {
		t.Error("expected persisted device row to be disconnected")
	}
}
