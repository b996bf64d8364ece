package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/astarte-platform/astra-data-updater/internal/ids"
	"github.com/astarte-platform/astra-data-updater/internal/metrics"
	"github.com/astarte-platform/astra-data-updater/internal/timeutil"
	"github.com/astarte-platform/astra-data-updater/internal/tracker"
)

// MsgType enumerates the AMQP message kinds routed to a device actor, per
// spec.md §4.4/§6.
type MsgType string

const (
	MsgConnection    MsgType = "connection"
	MsgDisconnection MsgType = "disconnection"
	MsgIntrospection MsgType = "introspection"
	MsgData          MsgType = "data"
	MsgControl       MsgType = "control"
)

// InboundMessage is one routed, header-decoded broker delivery handed to
// the device actor registry.
type InboundMessage struct {
	Key         ids.Key
	Type        MsgType
	RemoteIP    string
	Interface   string
	Path        string
	ControlPath string
	Body         []byte
	MessageID    string
	TSDecimicro  int64
	Tag          tracker.DeliveryTag
	Acknowledger tracker.Acknowledger
}

// Dispatcher routes a decoded inbound message to its per-device actor.
// Implemented by the actor Registry.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg InboundMessage)
}

// Consumer is one AMQPDataConsumer worker: a dedicated channel, prefetch,
// and header-based routing into the Dispatcher.
type Consumer struct {
	conn          *Connection
	channel       *amqp.Channel
	queue         string
	prefetchCount int
	logger        *zap.Logger
	dispatcher    Dispatcher
	acker         *channelAcknowledger
}

// ConsumerConfig configures one worker's queue and channel.
type ConsumerConfig struct {
	Connection    *Connection
	Queue         string
	PrefetchCount int
	Logger        *zap.Logger
	Dispatcher    Dispatcher
}

// NewConsumer declares the worker's queue and opens its dedicated channel.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	ch, err := cfg.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &Consumer{
		conn:          cfg.Connection,
		channel:       ch,
		queue:         cfg.Queue,
		prefetchCount: cfg.PrefetchCount,
		logger:        cfg.Logger,
		dispatcher:    cfg.Dispatcher,
		acker:         &channelAcknowledger{channel: ch, logger: cfg.Logger},
	}, nil
}

// Acknowledger exposes the worker's channel-level ack/reject/requeue
// implementation, for wiring into per-device MessageTrackers.
func (c *Consumer) Acknowledger() tracker.Acknowledger {
	return c.acker
}

// Start begins consuming and routing deliveries until ctx is cancelled or
// the channel goes down.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	closeNotify := c.channel.NotifyClose(make(chan *amqp.Error, 1))

	c.logger.Info("consumer started", zap.String("queue", c.queue), zap.Int("prefetch", c.prefetchCount))

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("consumer context cancelled, stopping")
				return
			case amqpErr, ok := <-closeNotify:
				// Channel DOWN: the actor (or broker) side failed. Per
				// spec.md §4.4 this stops the worker; crash recovery for
				// in-flight messages is the tracker's job on reconnect.
				if ok {
					c.logger.Error("consumer channel closed", zap.Error(amqpErr))
				}
				return
			case delivery, ok := <-msgs:
				if !ok {
					c.logger.Warn("message channel closed")
					return
				}
				c.route(ctx, delivery)
			}
		}
	}()

	return nil
}

// route decodes headers and dispatches, or discards on a missing required
// header per spec.md §6's per-msg_type table.
func (c *Consumer) route(ctx context.Context, d amqp.Delivery) {
	msgType, ok := headerString(d.Headers, "x_astarte_msg_type")
	if !ok {
		c.reject(d, "missing x_astarte_msg_type")
		return
	}

	realm, ok := headerString(d.Headers, "x_astarte_realm")
	if !ok {
		c.reject(d, "missing x_astarte_realm")
		return
	}
	rawDeviceID, ok := headerString(d.Headers, "x_astarte_device_id")
	if !ok {
		c.reject(d, "missing x_astarte_device_id")
		return
	}
	deviceID, err := ids.ParseDeviceID(rawDeviceID)
	if err != nil {
		c.reject(d, "invalid x_astarte_device_id")
		return
	}

	msg := InboundMessage{
		Key:          ids.Key{Realm: realm, DeviceID: deviceID},
		Type:         MsgType(msgType),
		Body:         d.Body,
		MessageID:    d.MessageId,
		TSDecimicro:  tsFromDelivery(d),
		Tag:          d.DeliveryTag,
		Acknowledger: c.acker,
	}

	switch msg.Type {
	case MsgConnection:
		ip, ok := headerString(d.Headers, "x_astarte_remote_ip")
		if !ok {
			c.reject(d, "missing x_astarte_remote_ip")
			return
		}
		msg.RemoteIP = ip
	case MsgDisconnection, MsgIntrospection:
		// No further required headers.
	case MsgData:
		iface, ok := headerString(d.Headers, "x_astarte_interface")
		if !ok {
			c.reject(d, "missing x_astarte_interface")
			return
		}
		path, ok := headerString(d.Headers, "x_astarte_path")
		if !ok {
			c.reject(d, "missing x_astarte_path")
			return
		}
		msg.Interface = iface
		msg.Path = path
	case MsgControl:
		controlPath, ok := headerString(d.Headers, "x_astarte_control_path")
		if !ok {
			c.reject(d, "missing x_astarte_control_path")
			return
		}
		msg.ControlPath = controlPath
	default:
		c.reject(d, "unknown x_astarte_msg_type")
		return
	}

	metrics.MessagesConsumed.WithLabelValues(string(msg.Type), "routed").Inc()
	c.dispatcher.Dispatch(ctx, msg)
}

func (c *Consumer) reject(d amqp.Delivery, reason string) {
	c.logger.Warn("discarding malformed delivery", zap.String("reason", reason))
	metrics.MessagesConsumed.WithLabelValues("unknown", "malformed").Inc()
	if err := d.Reject(false); err != nil {
		c.logger.Error("failed to reject malformed delivery", zap.Error(err))
	}
}

func headerString(headers amqp.Table, key string) (string, bool) {
	v, ok := headers[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// tsFromDelivery derives the decimicrosecond timestamp from AMQP meta,
// upconverting from millisecond precision when that's all the broker gives.
func tsFromDelivery(d amqp.Delivery) int64 {
	if d.Timestamp.IsZero() {
		return timeutil.NowDecimicro()
	}
	return timeutil.FromMillis(d.Timestamp.UnixMilli())
}

// Close closes the consumer's channel.
func (c *Consumer) Close() error {
	if c.channel != nil {
		return c.channel.Close()
	}
	return nil
}

// RegisterLifecycle wires the consumer into the fx app lifecycle.
func (c *Consumer) RegisterLifecycle(lc fx.Lifecycle, ctx context.Context) {
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			return c.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			return c.Close()
		},
	})
}

// channelAcknowledger adapts a raw AMQP channel delivery tag (uint64) into
// tracker.Acknowledger, used by every MessageTracker this worker owns.
type channelAcknowledger struct {
	channel *amqp.Channel
	logger  *zap.Logger
}

func (a *channelAcknowledger) tag(t tracker.DeliveryTag) (uint64, error) {
	dt, ok := t.(uint64)
	if !ok {
		return 0, fmt.Errorf("unexpected delivery tag type %T", t)
	}
	return dt, nil
}

func (a *channelAcknowledger) Ack(t tracker.DeliveryTag) error {
	dt, err := a.tag(t)
	if err != nil {
		return err
	}
	return a.channel.Ack(dt, false)
}

func (a *channelAcknowledger) Discard(t tracker.DeliveryTag) error {
	dt, err := a.tag(t)
	if err != nil {
		return err
	}
	return a.channel.Reject(dt, false)
}

func (a *channelAcknowledger) Requeue(t tracker.DeliveryTag) error {
	dt, err := a.tag(t)
	if err != nil {
		return err
	}
	return a.channel.Reject(dt, true)
}
