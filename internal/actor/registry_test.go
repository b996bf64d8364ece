package actor

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/astarte-platform/astra-data-updater/internal/mq"
	"github.com/astarte-platform/astra-data-updater/internal/timeutil"
	"github.com/astarte-platform/astra-data-updater/internal/trigger"
	"github.com/astarte-platform/astra-data-updater/internal/vmqplugin"
)

func newTestRegistry(q *fakeQueries) *Registry {
	factory := func() Deps {
		return Deps{
			Queries:  q,
			Loader:   nil,
			Triggers: trigger.NewHandler(&fakePublisher{}, zap.NewNop()),
			Plugin:   vmqplugin.NoopPlugin{},
			Cache:    testCacheConfig(),
			Logger:   zap.NewNop(),
		}
	}
	return NewRegistry(factory, zap.NewNop())
}

func TestRegistryDispatchConnectionAcksAndPersists(t *testing.T) {
	q := newFakeQueries()
	r := newTestRegistry(q)
	key := testKey()
	acker := &fakeAcker{}

	msg := mq.InboundMessage{
		Key:          key,
		Type:         mq.MsgConnection,
		RemoteIP:     "198.51.100.7",
		MessageID:    "conn-1",
		TSDecimicro:  timeutil.NowDecimicro(),
		Tag:          uint64(1),
		Acknowledger: acker,
	}

	r.Dispatch(context.Background(), msg)

	deadline := time.After(time.Second)
	for {
		d, err := q.GetDevice(context.Background(), key.Realm, key.DeviceID.UUID())
		if err != nil {
			t.Fatalf("GetDevice: %v", err)
		}
		if d.Connected {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for connection to be persisted")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestRegistryTeardownOnInfraErrorRequeuesBacklog(t *testing.T) {
	q := newFakeQueries()
	r := newTestRegistry(q)
	key := testKey()
	acker := &fakeAcker{}

	// A data message referencing an interface the fake schema catalog
	// never registered a major version for: GetDeviceInterfaceMajor fails,
	// wrapped as ErrInterfaceLoadingFailed, which is not a payload
	// violation, so HandleData returns the raw error and the registry
	// must tear the actor down.
	dataMsg := mq.InboundMessage{
		Key:          key,
		Type:         mq.MsgData,
		Interface:    "org.example.Unregistered",
		Path:         "/value",
		Body:         []byte{},
		MessageID:    "data-1",
		TSDecimicro:  timeutil.NowDecimicro(),
		Tag:          uint64(1),
		Acknowledger: acker,
	}

	r.Dispatch(context.Background(), dataMsg)

	deadline := time.After(time.Second)
	for {
		r.mu.Lock()
		_, exists := r.entries[key]
		r.mu.Unlock()
		if !exists {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for crashed actor to be torn down")
		case <-time.After(time.Millisecond):
		}
	}

	// Entry removal and the tracker's bulk requeue both happen inside
	// teardown, but removal is observable slightly before the requeue
	// call returns; poll rather than check exactly once.
	deadline = time.After(time.Second)
	var requeued int
	for {
		acker.mu.Lock()
		requeued = len(acker.requeued)
		acker.mu.Unlock()
		if requeued >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the crashed message to be requeued")
		case <-time.After(time.Millisecond):
		}
	}
	if requeued != 1 {
		t.Errorf("expected the crashed message to be requeued exactly once, got %d", requeued)
	}

	// A fresh message for the same device re-registers a new actor.
	reconnect := mq.InboundMessage{
		Key:          key,
		Type:         mq.MsgConnection,
		RemoteIP:     "198.51.100.8",
		MessageID:    "conn-2",
		TSDecimicro:  timeutil.NowDecimicro(),
		Tag:          uint64(2),
		Acknowledger: acker,
	}
	r.Dispatch(context.Background(), reconnect)

	deadline = time.After(time.Second)
	for {
		d, err := q.GetDevice(context.Background(), key.Realm, key.DeviceID.UUID())
		if err != nil {
			t.Fatalf("GetDevice: %v", err)
		}
		if d.Connected {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for reconnection after crash recovery")
		case <-time.After(time.Millisecond):
		}
	}
}
