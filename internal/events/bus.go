// internal/events/bus.go
package events

import (
	"context"
	"time"

	"github.com/jason-s-yu/lobbyhub/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Broker is the cross-instance transport. Publish is best effort.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe follows exact channel names.
	Subscribe(ctx context.Context, channels ...string) (BrokerSubscription, error)
	// SubscribePattern follows glob patterns such as "lobby:*".
	SubscribePattern(ctx context.Context, patterns ...string) (BrokerSubscription, error)
}

// BrokerSubscription streams envelopes until Close.
type BrokerSubscription interface {
	Messages() <-chan Envelope
	Close() error
}

// Publisher is what domain services depend on.
type Publisher interface {
	Publish(ev Event)
}

// RelayPatterns cover every topic the service publishes.
var RelayPatterns = []string{"user:*", "lobby:*", "dm:*", string(BrowseTelemetry)}

const (
	outboundQueue  = 1024
	publishTimeout = 2 * time.Second
)

// Bus publishes to the local hub synchronously and hands a copy to a single
// background worker that republishes on the broker in order. The caller never
// waits on, or sees errors from, the broker.
type Bus struct {
	hub        *Hub
	broker     Broker
	instanceID string
	outbound   chan Envelope
	logger     *logrus.Logger
	metrics    *metrics.Metrics
}

func NewBus(hub *Hub, broker Broker, instanceID string, logger *logrus.Logger, m *metrics.Metrics) *Bus {
	return &Bus{
		hub:        hub,
		broker:     broker,
		instanceID: instanceID,
		outbound:   make(chan Envelope, outboundQueue),
		logger:     logger,
		metrics:    m,
	}
}

func (b *Bus) Hub() *Hub { return b.hub }

// Publish delivers ev locally and queues the broker republish.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, evicted := b.hub.Publish(ev)
	for i := 0; i < evicted; i++ {
		b.metrics.SubscriberEvicted(ev.Topic.Scope())
	}
	b.metrics.EventPublished(ev.Topic.Scope(), ev.Name)

	if b.broker == nil {
		return
	}
	select {
	case b.outbound <- envelopeOf(ev, b.instanceID):
	default:
		b.metrics.BrokerDropped()
		b.logger.WithFields(logrus.Fields{"topic": ev.Topic, "event": ev.Name}).Warn("broker queue full, dropping republish")
	}
}

// Subscribe attaches a local stream.
func (b *Bus) Subscribe(topic Topic, hostView bool) *Subscription {
	return b.hub.Subscribe(topic, hostView)
}

// Run drains the outbound queue until ctx is cancelled. Failures are logged and dropped.
func (b *Bus) Run(ctx context.Context) error {
	if b.broker == nil {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-b.outbound:
			b.send(ctx, env)
		}
	}
}

// Flush publishes everything already queued and returns once the queue is empty.
// It is meant for short lived processes that exit without running Run.
func (b *Bus) Flush(ctx context.Context) {
	if b.broker == nil {
		return
	}
	for {
		select {
		case env := <-b.outbound:
			b.send(ctx, env)
		default:
			return
		}
	}
}

func (b *Bus) send(ctx context.Context, env Envelope) {
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	err := b.broker.Publish(pctx, env)
	cancel()
	if err != nil {
		b.metrics.BrokerFailure()
		b.logger.WithFields(logrus.Fields{
			"channel": env.Channel,
			"event":   env.Name,
			"error":   err,
		}).Warn("broker publish failed")
	}
}

// Relay feeds events published by other instances into the local hub, so streams
// attached here see them too. Envelopes from this instance are skipped because
// they were already delivered locally.
func (b *Bus) Relay(ctx context.Context) error {
	if b.broker == nil {
		<-ctx.Done()
		return nil
	}
	sub, err := b.broker.SubscribePattern(ctx, RelayPatterns...)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			if env.Origin == b.instanceID {
				continue
			}
			b.hub.Publish(env.Event())
			b.metrics.Relayed()
		}
	}
}
