package actor

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/astarte-platform/astra-data-updater/internal/ids"
	"github.com/astarte-platform/astra-data-updater/internal/metrics"
	"github.com/astarte-platform/astra-data-updater/internal/mq"
	"github.com/astarte-platform/astra-data-updater/internal/tracker"
)

// mailboxDepth bounds the per-device backlog the registry buffers ahead of
// an actor's own processing; the broker's prefetch already bounds how much
// is in flight overall.
const mailboxDepth = 64

// Factory constructs Deps shared by every actor the registry creates. Only
// the Plugin/Triggers/Cache/Logger fields are fixed; Queries and Loader are
// supplied the same way since this system has one of each per process.
type Factory func() Deps

// Registry is the per-device actor supervisor (spec.md §5, "parallel by
// device"): it looks up or creates the Actor for a {realm, device_id},
// gives it a FIFO mailbox goroutine, and on a crash (an infra error
// bubbling out of a handler) tears the actor down and lets the tracker's
// bulk-requeue hand the backlog to a freshly created replacement.
type Registry struct {
	mu      sync.Mutex
	entries map[ids.Key]*entry
	deps    Factory
	logger  *zap.Logger
}

type entry struct {
	actor   *Actor
	tracker *tracker.Tracker
	mailbox chan mq.InboundMessage
}

// NewRegistry constructs an empty Registry.
func NewRegistry(deps Factory, logger *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[ids.Key]*entry),
		deps:    deps,
		logger:  logger,
	}
}

// Dispatch implements mq.Dispatcher: it records the delivery with the
// device's tracker and hands the message to its mailbox goroutine,
// creating both on first contact.
func (r *Registry) Dispatch(ctx context.Context, msg mq.InboundMessage) {
	e, err := r.getOrCreate(ctx, msg.Key, msg.Acknowledger)
	if err != nil {
		r.logger.Error("failed to create device actor", zap.String("key", msg.Key.String()), zap.Error(err))
		if msg.Acknowledger != nil {
			_ = msg.Acknowledger.Requeue(msg.Tag)
		}
		return
	}

	e.tracker.TrackDelivery(msg.MessageID, msg.Tag)

	select {
	case e.mailbox <- msg:
	case <-ctx.Done():
	}
}

func (r *Registry) getOrCreate(ctx context.Context, key ids.Key, acknowledger tracker.Acknowledger) (*entry, error) {
	r.mu.Lock()
	if e, ok := r.entries[key]; ok {
		r.mu.Unlock()
		return e, nil
	}
	r.mu.Unlock()

	deps := r.deps()
	trk := tracker.New(acknowledger, deps.Cache.BaseBackoff, deps.Cache.RandomBackoff)
	if err := trk.RegisterDataUpdater(ctx); err != nil {
		return nil, err
	}

	a, err := New(ctx, key, deps, trk)
	if err != nil {
		return nil, err
	}

	e := &entry{actor: a, tracker: trk, mailbox: make(chan mq.InboundMessage, mailboxDepth)}

	r.mu.Lock()
	r.entries[key] = e
	r.mu.Unlock()

	metrics.ActiveDeviceActors.Inc()
	go r.run(key, e)

	return e, nil
}

// run is the device's dedicated processing goroutine: it drains the
// mailbox strictly in order, gating each message through the tracker
// before handing it to the actor. A handler error that survives the
// actor's own payload-violation handling is an infrastructure failure;
// the actor is torn down and its backlog requeued.
func (r *Registry) run(key ids.Key, e *entry) {
	ctx := context.Background()
	for msg := range e.mailbox {
		ready, err := e.tracker.CanProcessMessage(ctx, msg.MessageID)
		if err != nil || !ready {
			continue
		}

		if err := r.handle(ctx, e.actor, msg); err != nil {
			r.logger.Error("device actor crashed, requeuing backlog",
				zap.String("key", key.String()), zap.Error(err))
			r.teardown(key, e)
			metrics.TrackerRequeues.WithLabelValues(key.Realm).Inc()
			return
		}
	}
}

// teardown removes the crashed entry and triggers bulk requeue of
// everything still tracked unacked. Messages already buffered in the
// mailbox are drained without processing: the broker will redeliver them
// to whichever actor instance registers next.
func (r *Registry) teardown(key ids.Key, e *entry) {
	r.mu.Lock()
	if r.entries[key] == e {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	metrics.ActiveDeviceActors.Dec()

	e.tracker.OnCallerDown(context.Background())

	for {
		select {
		case <-e.mailbox:
		default:
			close(e.mailbox)
			return
		}
	}
}

func (r *Registry) handle(ctx context.Context, a *Actor, msg mq.InboundMessage) error {
	switch msg.Type {
	case mq.MsgConnection:
		return a.HandleConnection(ctx, msg.RemoteIP, msg.MessageID, msg.TSDecimicro)
	case mq.MsgDisconnection:
		return a.HandleDisconnection(ctx, msg.MessageID, msg.TSDecimicro)
	case mq.MsgIntrospection:
		return a.HandleIntrospection(ctx, msg.Body, msg.MessageID, msg.TSDecimicro)
	case mq.MsgData:
		return a.HandleData(ctx, msg.Interface, msg.Path, msg.Body, msg.MessageID, msg.TSDecimicro)
	case mq.MsgControl:
		return r.handleControl(ctx, a, msg)
	default:
		return a.tracker.Discard(msg.MessageID)
	}
}

func (r *Registry) handleControl(ctx context.Context, a *Actor, msg mq.InboundMessage) error {
	switch msg.ControlPath {
	case "/producer/properties":
		return a.HandleProducerProperties(ctx, msg.Body, msg.MessageID, msg.TSDecimicro)
	case "/emptyCache":
		return a.HandleEmptyCache(ctx, msg.MessageID, msg.TSDecimicro)
	default:
		r.logger.Warn("unknown control path, discarding", zap.String("control_path", msg.ControlPath))
		return a.tracker.Discard(msg.MessageID)
	}
}
