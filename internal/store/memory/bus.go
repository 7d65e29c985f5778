package memory

import (
	"context"
	"sync"

	"github.com/ambjn/ostium-whop/internal/domain"
)

const busBuffer = 64

// SignalBus is an in-process pub/sub fan-out. Slow subscribers drop
// messages rather than block publishers.
type SignalBus struct {
	mu   sync.RWMutex
	subs map[string][]chan []byte
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[string][]chan []byte)}
}

// Publish delivers payload to every current subscriber of channel.
func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
			// Drop for slow consumers.
		}
	}
	return nil
}

// Subscribe returns a channel of payloads for the given bus channel. The
// subscription ends, and the channel closes, when ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, busBuffer)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
