// Package tracker implements the MessageTracker (spec.md §4.1): the
// per-device linearizer between the broker consumer, which can report
// delivery readiness out of order relative to the device actor's own
// processing progress, and the device actor, which must process messages
// strictly in broker order and may crash mid-message.
package tracker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// DeliveryTag is the broker-specific handle attached to a tracked message.
// It is opaque to the tracker; only the Acknowledger knows how to use it.
type DeliveryTag interface{}

// Acknowledger is the owning consumer: the only thing that can ack, reject
// (discard), or requeue a delivery tag. Implemented by the mq package's
// channel acknowledger, which mq.Consumer.Acknowledger returns.
type Acknowledger interface {
	Ack(tag DeliveryTag) error
	Discard(tag DeliveryTag) error
	Requeue(tag DeliveryTag) error
}

// requeuedTag wraps a tag that has already been requeued once, so a second
// crash before the data updater re-registers does not requeue it again.
type requeuedTag struct {
	original DeliveryTag
}

// state is the tagged union S from spec.md §4.1.
type state int

const (
	stateNew state = iota
	stateAccepting
	stateWaitingDelivery
	stateWaitingCleanup
)

// Tracker is one per-device MessageTracker.
type Tracker struct {
	mu   sync.Mutex
	cond *sync.Cond

	acknowledger Acknowledger
	baseBackoff  time.Duration
	randBackoff  time.Duration

	st state

	queue []string // FIFO of message-ids, by string key (e.g. base64 of raw id)
	ids   map[string]DeliveryTag

	waitingFor string // message-id the actor is WaitingDelivery on
	registered bool    // true once a caller has successfully registered

	// pendingRegistration is set while a second registration attempt waits
	// for an in-progress crash-cleanup to finish (stateWaitingCleanup).
	pendingRegistration chan struct{}
}

// New constructs a Tracker bound to its broker acknowledger.
func New(acknowledger Acknowledger, baseBackoff, randBackoff time.Duration) *Tracker {
	t := &Tracker{
		acknowledger: acknowledger,
		baseBackoff:  baseBackoff,
		randBackoff:  randBackoff,
		st:           stateNew,
		ids:          make(map[string]DeliveryTag),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// RegisterDataUpdater registers the calling data-updater actor as the
// tracker's consumer. If a crash-cleanup is in progress, the call blocks
// until cleanup completes (stateWaitingCleanup), matching the spec's
// "reply deferred" effect.
func (t *Tracker) RegisterDataUpdater(ctx context.Context) error {
	t.mu.Lock()
	if t.st == stateNew {
		t.st = stateAccepting
		t.registered = true
		t.mu.Unlock()
		return nil
	}

	// S != New: wait for cleanup (crash recovery) to finish.
	t.st = stateWaitingCleanup
	done := make(chan struct{})
	t.pendingRegistration = done
	t.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrackDelivery records that the broker consumer has delivered message mid
// with delivery tag `tag`. If the actor is WaitingDelivery on exactly this
// message and it isn't marked requeued, the wait is released.
func (t *Tracker) TrackDelivery(mid string, tag DeliveryTag) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.ids[mid]; ok {
		if _, isRequeued := existing.(requeuedTag); isRequeued {
			t.ids[mid] = tag
		}
		// Already tracked (and not requeued): leave the original tag, the
		// broker doesn't usually redeliver a still-unacked message, but if
		// it does we keep FIFO order by not re-enqueuing.
	} else {
		t.queue = append(t.queue, mid)
		t.ids[mid] = tag
	}

	if t.st == stateWaitingDelivery && t.waitingFor == mid {
		if _, isRequeued := t.ids[mid].(requeuedTag); !isRequeued {
			t.st = stateAccepting
			t.cond.Broadcast()
		}
	}
}

// CanProcessMessage reports whether mid is at the head of the FIFO and
// ready to process. If mid is at the head but its tag hasn't arrived yet
// (or was requeued), the call blocks (WaitingDelivery) until TrackDelivery
// resolves it or ctx is cancelled.
func (t *Tracker) CanProcessMessage(ctx context.Context, mid string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		if len(t.queue) == 0 || t.queue[0] != mid {
			return false, nil
		}

		tag, tracked := t.ids[mid]
		if tracked {
			if _, isRequeued := tag.(requeuedTag); !isRequeued {
				return true, nil
			}
		}

		t.st = stateWaitingDelivery
		t.waitingFor = mid

		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		waitDone := make(chan struct{})
		go func() {
			<-ctx.Done()
			t.cond.Broadcast()
			close(waitDone)
		}()
		t.cond.Wait()
		select {
		case <-waitDone:
		default:
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
	}
}

// AckDelivery dequeues the head message (which must be mid) and acks its
// delivery via the acknowledger.
func (t *Tracker) AckDelivery(mid string) error {
	t.mu.Lock()
	tag, err := t.popHead(mid)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if _, injected := tag.(injectedTag); injected {
		return nil
	}
	return t.acknowledger.Ack(unwrapTag(tag))
}

// Discard dequeues the head message (which must be mid) and rejects its
// delivery without requeue via the acknowledger.
func (t *Tracker) Discard(mid string) error {
	t.mu.Lock()
	tag, err := t.popHead(mid)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if _, injected := tag.(injectedTag); injected {
		return nil
	}
	return t.acknowledger.Discard(unwrapTag(tag))
}

// popHead removes mid from the queue/ids maps, requiring it to be the head.
func (t *Tracker) popHead(mid string) (DeliveryTag, error) {
	if len(t.queue) == 0 || t.queue[0] != mid {
		return nil, fmt.Errorf("message %s is not at the head of the tracker queue", mid)
	}
	tag := t.ids[mid]
	t.queue = t.queue[1:]
	delete(t.ids, mid)
	return tag, nil
}

// injectedTag marks bookkeeping-only messages (ids starting with
// {:injected_msg, ref} in the spec) that skip broker ack/requeue/discard.
type injectedTag struct {
	ref string
}

// TrackInjected records an injected, broker-less message in the FIFO.
func (t *Tracker) TrackInjected(mid, ref string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ids[mid]; ok {
		return
	}
	t.queue = append(t.queue, mid)
	t.ids[mid] = injectedTag{ref: ref}
}

func unwrapTag(tag DeliveryTag) DeliveryTag {
	if rq, ok := tag.(requeuedTag); ok {
		return rq.original
	}
	return tag
}

// OnCallerDown runs the crash-recovery procedure: every still-unacked
// message is requeued to the broker (unless already requeued or injected),
// marked requeued, then — after the jittered backoff — a deferred
// registration, if any, is released and the tracker returns to Accepting;
// otherwise it returns to New.
func (t *Tracker) OnCallerDown(ctx context.Context) {
	t.mu.Lock()
	pending := make([]string, len(t.queue))
	copy(pending, t.queue)

	anyRequeued := false
	for _, mid := range pending {
		tag := t.ids[mid]
		if _, injected := tag.(injectedTag); injected {
			continue
		}
		if _, already := tag.(requeuedTag); already {
			continue
		}
		anyRequeued = true
		if err := t.acknowledger.Requeue(tag); err == nil {
			t.ids[mid] = requeuedTag{original: tag}
		}
	}
	waitingRegistration := t.pendingRegistration
	t.mu.Unlock()

	if anyRequeued {
		sleepJittered(ctx, t.baseBackoff, t.randBackoff)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if waitingRegistration != nil {
		t.pendingRegistration = nil
		t.st = stateAccepting
		close(waitingRegistration)
		return
	}
	t.st = stateNew
	t.registered = false
}

func sleepJittered(ctx context.Context, base, random time.Duration) {
	jitter := time.Duration(0)
	if random > 0 {
		jitter = time.Duration(rand.Int63n(int64(random)))
	}
	wait := base + jitter
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// QueueLen reports the current in-flight depth, for metrics.
func (t *Tracker) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}
