package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/opensource-finance/commission/internal/domain"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// ChannelBus implements EventBus using Go channels.
// Used as the Community tier event bus. Publish blocks while a
// subscriber's buffer is full rather than dropping audit records.
type ChannelBus struct {
	mu            sync.RWMutex
	bufferSize    int
	subscriptions map[string][]*channelSubscription
	closed        bool
	wg            sync.WaitGroup
}

type channelSubscription struct {
	id      string
	topic   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus

	mu      sync.RWMutex
	stopped bool
}

// NewChannelBus creates a new channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize:    bufferSize,
		subscriptions: make(map[string][]*channelSubscription),
	}
}

// Publish delivers a message to every subscriber of topic.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := append([]*channelSubscription(nil), b.subscriptions[topic]...)
	b.mu.RUnlock()

	msg := newMessage(topic, payload)
	for _, sub := range subs {
		if err := sub.deliver(ctx, msg); err != nil {
			return err
		}
	}

	return nil
}

// Subscribe registers a handler for a topic. Messages for one subscription
// are handled in publish order on a single goroutine.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.New().String(),
		topic:   topic,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}

	b.wg.Add(1)
	go b.handleMessages(sub)

	b.subscriptions[topic] = append(b.subscriptions[topic], sub)
	return sub, nil
}

func (b *ChannelBus) handleMessages(sub *channelSubscription) {
	defer b.wg.Done()
	for {
		select {
		case <-sub.ctx.Done():
			sub.stop()
			b.drain(sub)
			return
		case msg := <-sub.msgCh:
			b.dispatch(sub, msg)
		}
	}
}

// drain hands already-buffered messages to the handler after cancellation.
func (b *ChannelBus) drain(sub *channelSubscription) {
	for {
		select {
		case msg := <-sub.msgCh:
			b.dispatch(sub, msg)
		default:
			return
		}
	}
}

func (b *ChannelBus) dispatch(sub *channelSubscription, msg *domain.Message) {
	// the subscription context is already cancelled while draining
	if err := sub.handler(context.WithoutCancel(sub.ctx), msg); err != nil {
		slog.Error("handler error",
			"topic", msg.Topic,
			"message_id", msg.ID,
			"error", err,
		)
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription and waits for buffered messages to be
// handled.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.subscriptions = make(map[string][]*channelSubscription)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[sub.topic]
	for i, s := range subs {
		if s.id == sub.id {
			b.subscriptions[sub.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscriptions[sub.topic]) == 0 {
		delete(b.subscriptions, sub.topic)
	}
}

// deliver buffers msg for the handler. Every send that succeeds happens
// before stop, so drain hands it to the handler. A subscription stopped by
// Close reports ErrClosed; one stopped by Unsubscribe is skipped.
func (s *channelSubscription) deliver(ctx context.Context, msg *domain.Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return s.stoppedErr()
	}
	select {
	case s.msgCh <- msg:
		return nil
	case <-s.ctx.Done():
		return s.stoppedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *channelSubscription) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *channelSubscription) stoppedErr() error {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	if s.bus.closed {
		return ErrClosed
	}
	return nil
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.bus.remove(s)
	s.cancel()
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
