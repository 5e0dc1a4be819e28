package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/aristath/touchline/internal/domain"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute
)

// streamMessage covers the status and trade events Polygon pushes.
type streamMessage struct {
	Event     string  `json:"ev"`
	Status    string  `json:"status,omitempty"`
	Message   string  `json:"message,omitempty"`
	Symbol    string  `json:"sym,omitempty"`
	Price     float64 `json:"p,omitempty"`
	Size      float64 `json:"s,omitempty"`
	Timestamp int64   `json:"t,omitempty"` // milliseconds
}

type streamAction struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

// Stream keeps the last trade per symbol from the Polygon websocket feed.
// It reconnects with exponential backoff until the context passed to Start is done.
type Stream struct {
	url     string
	apiKey  string
	symbols []string
	log     zerolog.Logger

	mu        sync.RWMutex
	connected bool
	trades    map[string]domain.Quote
	now       func() time.Time
}

// NewStream creates a stream for symbols. Nothing connects until Start.
func NewStream(url, apiKey string, symbols []string, log zerolog.Logger) *Stream {
	upper := make([]string, 0, len(symbols))
	for _, s := range symbols {
		upper = append(upper, strings.ToUpper(s))
	}
	return &Stream{
		url:     url,
		apiKey:  apiKey,
		symbols: upper,
		log:     log.With().Str("component", "polygon_stream").Logger(),
		trades:  make(map[string]domain.Quote),
		now:     time.Now,
	}
}

// Start runs the connection loop in the background.
func (s *Stream) Start(ctx context.Context) {
	s.log.Info().Strs("symbols", s.symbols).Msg("Starting Polygon stream")
	go s.run(ctx)
}

func (s *Stream) run(ctx context.Context) {
	attempt := 0
	for {
		err := s.session(ctx)
		s.setConnected(false)
		if ctx.Err() != nil {
			s.log.Info().Msg("Polygon stream stopped")
			return
		}

		attempt++
		delay := reconnectDelay(attempt)
		s.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Polygon stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// session dials, authenticates, subscribes and reads until the connection fails.
func (s *Stream) session(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to dial Polygon stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := s.send(ctx, conn, streamAction{Action: "auth", Params: s.apiKey}); err != nil {
		return err
	}
	params := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		params = append(params, "T."+sym)
	}
	if err := s.send(ctx, conn, streamAction{Action: "subscribe", Params: strings.Join(params, ",")}); err != nil {
		return err
	}

	s.setConnected(true)
	s.log.Info().Msg("Connected to Polygon stream")

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return fmt.Errorf("stream closed with status %d", status)
			}
			return fmt.Errorf("stream read failed: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		if err := s.handleMessage(data); err != nil {
			s.log.Debug().Err(err).Msg("Ignoring malformed stream message")
		}
	}
}

func (s *Stream) send(ctx context.Context, conn *websocket.Conn, action streamAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", action.Action, err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send %s message: %w", action.Action, err)
	}
	return nil
}

// handleMessage applies one frame, which is a JSON array of events.
func (s *Stream) handleMessage(data []byte) error {
	var msgs []streamMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return fmt.Errorf("failed to parse stream frame: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		switch m.Event {
		case "T":
			if m.Price <= 0 || m.Symbol == "" {
				continue
			}
			ts := s.now()
			if m.Timestamp > 0 {
				ts = time.UnixMilli(m.Timestamp)
			}
			s.trades[m.Symbol] = domain.Quote{
				Symbol:    m.Symbol,
				Price:     m.Price,
				Volume:    m.Size,
				Timestamp: ts,
				Source:    "polygon_stream",
			}
		case "status":
			if m.Status == "auth_failed" {
				s.log.Error().Str("message", m.Message).Msg("Polygon stream authentication failed")
			}
		}
	}
	return nil
}

// Latest returns the last streamed trade for symbol if it is younger than maxAge.
func (s *Stream) Latest(symbol string, maxAge time.Duration) (*domain.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.trades[strings.ToUpper(symbol)]
	if !ok {
		return nil, false
	}
	if maxAge > 0 && s.now().Sub(q.Timestamp) > maxAge {
		return nil, false
	}
	return &q, true
}

// IsConnected reports whether a session is currently authenticated and reading.
func (s *Stream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Stream) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func reconnectDelay(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
