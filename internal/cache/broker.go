// internal/cache/broker.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jason-s-yu/lobbyhub/internal/events"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Broker is the cross-instance fan-out over Redis Pub/Sub. Envelopes travel as
// JSON on a channel named after their topic.
type Broker struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

func NewBroker(rdb *redis.Client, logger *logrus.Logger) *Broker {
	return &Broker{rdb: rdb, logger: logger}
}

func (b *Broker) Publish(ctx context.Context, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, env.Channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", env.Channel, err)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, channels ...string) (events.BrokerSubscription, error) {
	return b.start(ctx, b.rdb.Subscribe(ctx, channels...))
}

func (b *Broker) SubscribePattern(ctx context.Context, patterns ...string) (events.BrokerSubscription, error) {
	return b.start(ctx, b.rdb.PSubscribe(ctx, patterns...))
}

// start waits for the subscription confirmation so that callers know messages
// published afterwards will be seen.
func (b *Broker) start(ctx context.Context, ps *redis.PubSub) (events.BrokerSubscription, error) {
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	s := &subscription{ps: ps, out: make(chan events.Envelope, 64), done: make(chan struct{})}
	go s.pump(b.logger)
	return s, nil
}

type subscription struct {
	ps   *redis.PubSub
	out  chan events.Envelope
	done chan struct{}
	once sync.Once
}

func (s *subscription) pump(logger *logrus.Logger) {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		var env events.Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			logger.WithFields(logrus.Fields{"channel": msg.Channel, "error": err}).Warn("dropping malformed envelope")
			continue
		}
		env.Channel = msg.Channel
		select {
		case s.out <- env:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Messages() <-chan events.Envelope { return s.out }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
