package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// PriceUpdate is one observed price for an outcome token, from either a
// trade print or a book midpoint.
type PriceUpdate struct {
	AssetID string
	Price   float64
}

// PriceHandler is called for every price update received on the feed.
type PriceHandler func(PriceUpdate)

// wsCommand is the subscribe/unsubscribe envelope for the CLOB market feed.
type wsCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Assets  []string `json:"assets_ids"`
}

// WSClient is a WebSocket client for the Polymarket CLOB market data feed.
// It reduces book snapshots, price changes, and trade prints to per-asset
// price updates for the registered handlers.
type WSClient struct {
	wsURL string

	mu   sync.Mutex
	conn *websocket.Conn

	handlerMu sync.RWMutex
	handlers  []PriceHandler
}

// NewWSClient creates a client for the given endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{wsURL: wsURL}
}

// OnPrice registers a handler invoked for every price update.
func (w *WSClient) OnPrice(h PriceHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Run connects, subscribes to the market channel for the given asset ids,
// and reads messages until the context is cancelled or the connection
// drops. One call handles one connection; the caller owns reconnects.
func (w *WSClient) Run(ctx context.Context, assetIDs []string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	cmd := wsCommand{Type: "subscribe", Channel: "market", Assets: assetIDs}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("polymarket/ws: marshal subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}

	go w.pingLoop(ctx, conn)

	// Close the connection when the context ends so ReadMessage unblocks.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("polymarket/ws: read: %w", err)
		}
		w.handleMessage(message)
	}
}

func (w *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw feed message and emits price updates.
// Unparseable messages are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.EventType {
	case "book":
		var book bookMessage
		if err := json.Unmarshal(raw, &book); err != nil {
			return
		}
		if price, ok := book.midpoint(); ok {
			w.emit(PriceUpdate{AssetID: book.AssetID, Price: price})
		}

	case "last_trade_price":
		var trade struct {
			AssetID string `json:"asset_id"`
			Price   string `json:"price"`
		}
		if err := json.Unmarshal(raw, &trade); err != nil {
			return
		}
		if price, err := strconv.ParseFloat(trade.Price, 64); err == nil {
			w.emit(PriceUpdate{AssetID: trade.AssetID, Price: price})
		}
	}
}

func (w *WSClient) emit(update PriceUpdate) {
	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(update)
	}
}

// bookMessage is a full orderbook snapshot from the "book" channel.
type bookMessage struct {
	AssetID string         `json:"asset_id"`
	Bids    []bookLevelMsg `json:"bids"`
	Asks    []bookLevelMsg `json:"asks"`
}

type bookLevelMsg struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// midpoint returns the mid of the best bid and best ask. Level ordering in
// snapshots is not guaranteed, so both sides are scanned.
func (b bookMessage) midpoint() (float64, bool) {
	bestBid, okBid := bestPrice(b.Bids, func(p, best float64) bool { return p > best })
	bestAsk, okAsk := bestPrice(b.Asks, func(p, best float64) bool { return p < best })
	if !okBid || !okAsk {
		return 0, false
	}
	return (bestBid + bestAsk) / 2, true
}

func bestPrice(levels []bookLevelMsg, better func(p, best float64) bool) (float64, bool) {
	var best float64
	found := false
	for _, lvl := range levels {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		if !found || better(p, best) {
			best = p
			found = true
		}
	}
	return best, found
}
