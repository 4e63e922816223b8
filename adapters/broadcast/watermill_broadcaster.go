// Package broadcast implements named completion channels on Watermill.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/keychain/core"
	"github.com/layer-3/keychain/ports"
	"github.com/rs/zerolog"
)

// Broadcaster keeps at most one listener per channel name.
type Broadcaster struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     zerolog.Logger

	mu        sync.Mutex
	listeners map[string]*listener
}

var _ ports.Broadcaster = (*Broadcaster)(nil)

func New(publisher message.Publisher, subscriber message.Subscriber, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		publisher:  publisher,
		subscriber: subscriber,
		logger:     logger,
		listeners:  make(map[string]*listener),
	}
}

// Publish sends signal on channel.
func (b *Broadcaster) Publish(ctx context.Context, channel string, signal core.Signal) error {
	payload, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)
	if err := b.publisher.Publish(channel, msg); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", channel, err)
	}
	return nil
}

// Listen subscribes to channel and replaces any listener already on it. The
// subscription ends on first delivery, on Cancel, or when ctx is done.
func (b *Broadcaster) Listen(ctx context.Context, channel string) (ports.Pending, error) {
	subCtx, cancel := context.WithCancel(ctx)
	messages, err := b.subscriber.Subscribe(subCtx, channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	l := &listener{
		broadcaster: b,
		channel:     channel,
		messages:    messages,
		cancel:      cancel,
	}

	b.mu.Lock()
	prev := b.listeners[channel]
	b.listeners[channel] = l
	b.mu.Unlock()

	if prev != nil {
		b.logger.Debug().Str("channel", channel).Msg("replacing listener")
		prev.Cancel()
	}
	return l, nil
}

// Listeners returns the number of active listeners.
func (b *Broadcaster) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

func (b *Broadcaster) remove(l *listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners[l.channel] == l {
		delete(b.listeners, l.channel)
	}
}

type listener struct {
	broadcaster *Broadcaster
	channel     string
	messages    <-chan *message.Message
	cancel      context.CancelFunc
	once        sync.Once
}

func (l *listener) Wait(ctx context.Context) (core.Signal, error) {
	defer l.Cancel()

	select {
	case <-ctx.Done():
		return core.Signal{}, ctx.Err()
	case msg, ok := <-l.messages:
		if !ok {
			return core.Signal{}, fmt.Errorf("listener on %s closed: %w", l.channel, core.ErrCanceled)
		}
		msg.Ack()

		var signal core.Signal
		if err := json.Unmarshal(msg.Payload, &signal); err != nil {
			return core.Signal{}, fmt.Errorf("invalid signal on %s: %w", l.channel, err)
		}
		return signal, nil
	}
}

func (l *listener) Cancel() {
	l.once.Do(func() {
		l.cancel()
		l.broadcaster.remove(l)
	})
}
