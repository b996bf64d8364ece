package tracker

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeAcker struct {
	mu        sync.Mutex
	acked     []DeliveryTag
	discarded []DeliveryTag
	requeued  []DeliveryTag
}

func (f *fakeAcker) Ack(tag DeliveryTag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAcker) Discard(tag DeliveryTag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, tag)
	return nil
}

func (f *fakeAcker) Requeue(tag DeliveryTag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, tag)
	return nil
}

func TestRegisterDataUpdaterFromNew(t *testing.T) {
	tr := New(&fakeAcker{}, time.Millisecond, 0)
	if err := tr.RegisterDataUpdater(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCanProcessMessageFIFOOrder(t *testing.T) {
	acker := &fakeAcker{}
	tr := New(acker, time.Millisecond, 0)
	if err := tr.RegisterDataUpdater(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}

	tr.TrackDelivery("m1", uint64(1))
	tr.TrackDelivery("m2", uint64(2))

	ctx := context.Background()
	ok, err := tr.CanProcessMessage(ctx, "m2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected m2 to not be processable before m1")
	}

	ok, err = tr.CanProcessMessage(ctx, "m1")
	if err != nil || !ok {
		t.Fatalf("expected m1 processable, got ok=%v err=%v", ok, err)
	}
	if err := tr.AckDelivery("m1"); err != nil {
		t.Fatalf("ack m1: %v", err)
	}

	ok, err = tr.CanProcessMessage(ctx, "m2")
	if err != nil || !ok {
		t.Fatalf("expected m2 processable after m1 acked, got ok=%v err=%v", ok, err)
	}
	if err := tr.AckDelivery("m2"); err != nil {
		t.Fatalf("ack m2: %v", err)
	}

	if len(acker.acked) != 2 {
		t.Errorf("expected 2 acks, got %d", len(acker.acked))
	}
}

func TestCanProcessMessageBlocksUntilDelivery(t *testing.T) {
	acker := &fakeAcker{}
	tr := New(acker, time.Millisecond, 0)
	if err := tr.RegisterDataUpdater(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}

	// m1 has not been delivered yet, so it is not at the queue head and
	// CanProcessMessage reports false at once rather than blocking.
	ok, err := tr.CanProcessMessage(context.Background(), "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected false: m1 was never enqueued")
	}

	// A crash requeues the delivered m1 and the data updater re-registers
	// before the broker redelivers it: m1 is at the head with a requeued
	// tag, so CanProcessMessage blocks until the redelivery is tracked.
	tr.TrackDelivery("m1", uint64(1))
	tr.OnCallerDown(context.Background())
	if err := tr.RegisterDataUpdater(context.Background()); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	done := make(chan struct{})
	var gotOK bool
	var gotErr error
	go func() {
		gotOK, gotErr = tr.CanProcessMessage(context.Background(), "m1")
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	tr.TrackDelivery("m1", uint64(2))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("CanProcessMessage did not unblock after TrackDelivery")
	}
	if gotErr != nil || !gotOK {
		t.Fatalf("expected unblocked true, got ok=%v err=%v", gotOK, gotErr)
	}
}

func TestOnCallerDownRequeuesAndResetsToNew(t *testing.T) {
	acker := &fakeAcker{}
	tr := New(acker, time.Millisecond, time.Millisecond)
	if err := tr.RegisterDataUpdater(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}

	tr.TrackDelivery("m1", uint64(1))
	tr.TrackDelivery("m2", uint64(2))

	tr.OnCallerDown(context.Background())

	if len(acker.requeued) != 2 {
		t.Fatalf("expected 2 requeues, got %d", len(acker.requeued))
	}

	// Tracker is back to New: a fresh registration must succeed immediately.
	if err := tr.RegisterDataUpdater(context.Background()); err != nil {
		t.Fatalf("re-register after crash: %v", err)
	}
}

func TestDiscardPopsHead(t *testing.T) {
	acker := &fakeAcker{}
	tr := New(acker, time.Millisecond, 0)
	if err := tr.RegisterDataUpdater(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	tr.TrackDelivery("m1", uint64(42))

	if err := tr.Discard("m1"); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if len(acker.discarded) != 1 || acker.discarded[0] != uint64(42) {
		t.Errorf("expected discard of tag 42, got %v", acker.discarded)
	}
	if tr.QueueLen() != 0 {
		t.Errorf("expected empty queue after discard, got %d", tr.QueueLen())
	}
}

func TestTrackInjectedSkipsBrokerAck(t *testing.T) {
	acker := &fakeAcker{}
	tr := New(acker, time.Millisecond, 0)
	if err := tr.RegisterDataUpdater(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	tr.TrackInjected("sync-1", "ref-1")

	ok, err := tr.CanProcessMessage(context.Background(), "sync-1")
	if err != nil || !ok {
		t.Fatalf("expected injected message processable immediately, got ok=%v err=%v", ok, err)
	}
	if err := tr.AckDelivery("sync-1"); err != nil {
		t.Fatalf("ack injected: %v", err)
	}
	if len(acker.acked) != 0 {
		t.Errorf("injected message should not reach the broker acknowledger, got %d acks", len(acker.acked))
	}
}
