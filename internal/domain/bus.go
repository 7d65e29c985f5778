package domain

import "context"

// Well-known bus channels. WebSocket clients subscribe to these to receive
// order outcomes and position updates as they happen.
const (
	ChannelOrders    = "orders"
	ChannelPositions = "positions"
)

// SignalBus provides ephemeral pub/sub fan-out of gateway events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
