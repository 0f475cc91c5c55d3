package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// ChannelBus is the in-process event bus of the community tier. Each
// subscription owns a buffered channel drained by its own goroutine.
//
// Topics in domain.WorkTopics are delivered to one subscriber per message,
// rotating between subscribers, which mirrors a NATS queue group.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	topics     map[string]*topicSubs
	closed     bool
}

type topicSubs struct {
	subs []*channelSubscription
	next int
}

type channelSubscription struct {
	id      string
	topic   string
	handler domain.MessageHandler
	inbox   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a bus whose subscriptions buffer bufferSize messages.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		topics:     make(map[string]*topicSubs),
	}
}

// Publish hands payload to the topic's subscribers. A subscriber whose buffer
// is full misses the message; on a work topic the next subscriber is tried.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	t := b.topics[topic]
	if t == nil {
		return nil
	}

	msg := newMessage(topic, payload)
	if domain.WorkTopics[topic] {
		for i := range t.subs {
			sub := t.subs[(t.next+i)%len(t.subs)]
			if sub.offer(msg) {
				t.next = (t.next + i + 1) % len(t.subs)
				return nil
			}
		}
		slog.Warn("work message dropped, all subscribers busy", "topic", topic, "message_id", msg.ID)
		return nil
	}

	for _, sub := range t.subs {
		if !sub.offer(msg) {
			slog.Warn("event dropped, subscriber buffer full",
				"topic", topic,
				"subscription_id", sub.id,
			)
		}
	}
	return nil
}

// Subscribe registers handler for topic. The handler runs on the
// subscription's goroutine with a context cancelled by Unsubscribe or Close.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.NewString(),
		topic:   topic,
		handler: handler,
		inbox:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}

	t := b.topics[topic]
	if t == nil {
		t = &topicSubs{}
		b.topics[topic] = t
	}
	t.subs = append(t.subs, sub)

	go sub.run()
	return sub, nil
}

// Ping reports ErrClosed once the bus is closed.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription. Buffered messages are discarded.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, t := range b.topics {
		for _, sub := range t.subs {
			sub.cancel()
			close(sub.inbox)
		}
	}
	b.topics = make(map[string]*topicSubs)
	return nil
}

func (b *ChannelBus) detach(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topics[sub.topic]
	if t == nil {
		return
	}
	for i, s := range t.subs {
		if s == sub {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			break
		}
	}
	if len(t.subs) == 0 {
		delete(b.topics, sub.topic)
	} else {
		t.next %= len(t.subs)
	}
}

// offer enqueues msg without blocking. Callers hold the bus lock, so the
// inbox cannot be closed underneath it.
func (s *channelSubscription) offer(msg *domain.Message) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.inbox <- msg:
		return true
	default:
		return false
	}
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-s.inbox:
			if !ok {
				return
			}
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("handler error",
					"topic", msg.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Unsubscribe stops delivery to this subscription.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.detach(s)
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
