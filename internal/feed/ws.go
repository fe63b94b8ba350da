package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	handshakeTimeout  = 15 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// wsCommand is sent after connecting to select the prediction channel.
type wsCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Sports  []string `json:"sports,omitempty"`
}

// wsEnvelope wraps every server message. Snapshot messages carry an array of
// predictions in Data, prediction messages a single one.
type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WSFeed keeps a live snapshot of predictions pushed over a WebSocket. Run
// owns the connection and reconnects with backoff; Predictions serves reads
// from the snapshot.
type WSFeed struct {
	url    string
	sports []string
	snap   *Snapshot
	logger *slog.Logger
}

// NewWSFeed creates a WSFeed subscribing to the given sports (all when
// empty).
func NewWSFeed(url string, sports []string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:    url,
		sports: sports,
		snap:   NewSnapshot(),
		logger: logger.With(slog.String("component", "ws_feed")),
	}
}

// Predictions implements domain.PredictionFeed. Until the first message
// arrives the feed reports itself unavailable.
func (f *WSFeed) Predictions(_ context.Context, from, to time.Time) ([]domain.PredictionRecord, error) {
	if f.snap.UpdatedAt().IsZero() {
		return nil, fmt.Errorf("feed: ws %s: no predictions received yet", f.url)
	}
	return f.snap.Window(from, to), nil
}

// Run connects and consumes messages until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		started := time.Now()
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > maxReconnectDelay {
			delay = reconnectDelay
		}
		f.logger.WarnContext(ctx, "ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (f *WSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("feed: ws connect: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(messageType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(messageType, data)
	}

	cmd, err := json.Marshal(wsCommand{Type: "subscribe", Channel: "predictions", Sports: f.sports})
	if err != nil {
		return fmt.Errorf("feed: ws marshal subscribe: %w", err)
	}
	if err := write(websocket.TextMessage, cmd); err != nil {
		return fmt.Errorf("feed: ws subscribe: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	f.logger.InfoContext(ctx, "ws subscribed", slog.Any("sports", f.sports))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: ws read: %w", err)
		}
		f.handleMessage(ctx, msg)
	}
}

func (f *WSFeed) handleMessage(ctx context.Context, raw []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		f.logger.DebugContext(ctx, "drop unparseable ws message", slog.String("error", err.Error()))
		return
	}

	switch env.Type {
	case "snapshot":
		var items []json.RawMessage
		if err := json.Unmarshal(env.Data, &items); err != nil {
			f.logger.WarnContext(ctx, "bad ws snapshot", slog.String("error", err.Error()))
			return
		}
		recs := make([]domain.PredictionRecord, 0, len(items))
		for _, it := range items {
			if rec, err := DecodePrediction(it); err == nil {
				recs = append(recs, rec)
			}
		}
		f.snap.Upsert(time.Now(), recs...)
	case "prediction":
		rec, err := DecodePrediction(env.Data)
		if err != nil {
			f.logger.WarnContext(ctx, "bad ws prediction", slog.String("error", err.Error()))
			return
		}
		f.snap.Upsert(time.Now(), rec)
	default:
		// heartbeats and acks
	}
}

var _ domain.PredictionFeed = (*WSFeed)(nil)
