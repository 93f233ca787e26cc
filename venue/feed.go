package venue

import (
	"context"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quantfall/polyflow/market"
)

const defaultFeedURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

// Feed streams orderbook snapshots over the market websocket into a
// BookStore. It reconnects with exponential backoff and resubscribes after
// every drop; the store's sequence check keeps late frames from regressing
// the book.
type Feed struct {
	url    string
	tokens []string
	books  *market.BookStore
	log    zerolog.Logger

	seq uint64
}

func NewFeed(url string, tokens []string, books *market.BookStore, log zerolog.Logger) *Feed {
	if url == "" {
		url = defaultFeedURL
	}
	return &Feed{url: url, tokens: tokens, books: books, log: log}
}

// Run blocks until ctx is cancelled, maintaining the subscription across
// disconnects.
func (f *Feed) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := f.session(ctx)
		if err != nil && ctx.Err() == nil {
			wait := bo.NextBackOff()
			f.log.Warn().Err(err).Dur("retry_in", wait).Msg("market feed dropped")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		bo.Reset()
	}
}

func (f *Feed) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]any{"type": "market", "assets_ids": f.tokens}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	f.log.Info().Int("tokens", len(f.tokens)).Msg("market feed subscribed")

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handle(payload)
	}
}

// bookEvent is the feed's book message; the same string-typed levels as the
// REST book endpoint.
type bookEvent struct {
	EventType string      `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Bids      []clobLevel `json:"bids"`
	Asks      []clobLevel `json:"asks"`
	Timestamp string      `json:"timestamp"`
}

func (f *Feed) handle(payload []byte) {
	// Book events arrive both singly and batched in arrays.
	var events []bookEvent
	if err := json.Unmarshal(payload, &events); err != nil {
		var one bookEvent
		if err := json.Unmarshal(payload, &one); err != nil {
			f.log.Debug().Str("payload", string(payload)).Msg("unparseable feed frame")
			return
		}
		events = []bookEvent{one}
	}

	for _, ev := range events {
		if ev.EventType != "book" || ev.AssetID == "" {
			continue
		}
		f.seq++
		b := market.Book{TokenID: ev.AssetID, Seq: f.seq, Time: parseMillis(ev.Timestamp)}
		for _, lvl := range ev.Bids {
			b.Bids = append(b.Bids, lvl.toLevel())
		}
		for _, lvl := range ev.Asks {
			b.Asks = append(b.Asks, lvl.toLevel())
		}
		reverse(b.Bids)
		reverse(b.Asks)
		f.books.Set(b)
	}
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
