package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/ambjn/ostium-whop/internal/domain"
	"github.com/ambjn/ostium-whop/internal/store/memory"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubStreamsBusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memory.NewSignalBus()
	hub := NewHub(bus, slog.New(slog.DiscardHandler), Config{Network: "arbitrum-sepolia"})
	go hub.Run(ctx)

	conn := dialHub(t, hub)

	// First frame is the connection status envelope.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, first, err := conn.ReadMessage()
	require.NoError(t, err)

	var status struct {
		Type    string `json:"type"`
		Payload struct {
			Network     string `json:"network"`
			WSConnected bool   `json:"ws_connected"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(first, &status))
	require.Equal(t, "gateway_status", status.Type)
	require.Equal(t, "arbitrum-sepolia", status.Payload.Network)
	require.True(t, status.Payload.WSConnected)

	// The hub's bus subscriptions come up asynchronously, so publish until
	// a frame makes it through.
	payload := []byte(`{"type":"order_settled","order_id":"abc"}`)
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bus.Publish(ctx, domain.ChannelOrders, payload)
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, got, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, string(payload), string(got))
}

func TestHubDropsUnsubscribedChannels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memory.NewSignalBus()
	hub := NewHub(bus, slog.New(slog.DiscardHandler), Config{})
	go hub.Run(ctx)

	conn := dialHub(t, hub)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage() // status envelope
	require.NoError(t, err)

	req, err := json.Marshal(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelPositions}})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, req))

	// Give the read pump a moment to apply the unsubscribe, then flood the
	// dropped channel and send one frame on the kept one.
	time.Sleep(100 * time.Millisecond)
	for range 5 {
		bus.Publish(ctx, domain.ChannelPositions, []byte(`{"type":"position_update"}`))
	}

	kept := []byte(`{"type":"order_settled"}`)
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bus.Publish(ctx, domain.ChannelOrders, kept)
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, got, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, string(kept), string(got))
}
