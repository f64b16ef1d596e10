package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"smc-engine/internal/events"
	"smc-engine/internal/logging"
	"smc-engine/internal/market"
)

// DefaultStreamURL is the Binance combined stream endpoint
const DefaultStreamURL = "wss://stream.binance.com:9443/stream"

// StreamOptions configures a KlineStream
type StreamOptions struct {
	Bus             *events.EventBus
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Dialer          *websocket.Dialer
}

// KlineStream subscribes to the combined kline stream of every instrument and
// forwards each closed kline as a bar. Open (in-progress) klines are ignored.
type KlineStream struct {
	baseURL     string
	instruments map[string]market.Instrument
	sink        BarSink
	opts        StreamOptions
	logger      *logging.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	connects   int
	lastOpenMs map[string]int64
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type klineEvent struct {
	EventType string       `json:"e"`
	EventTime int64        `json:"E"`
	Symbol    string       `json:"s"`
	Kline     market.Kline `json:"k"`
}

// NewKlineStream creates a stream for the given instruments
func NewKlineStream(baseURL string, instruments []market.Instrument, sink BarSink, opts StreamOptions) (*KlineStream, error) {
	if len(instruments) == 0 {
		return nil, errors.New("kline stream needs at least one instrument")
	}
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = time.Second
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = time.Minute
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	insts := make(map[string]market.Instrument, len(instruments))
	for _, inst := range instruments {
		insts[StreamName(inst)] = inst
	}

	s := &KlineStream{
		baseURL:     baseURL,
		instruments: insts,
		sink:        sink,
		opts:        opts,
		lastOpenMs:  make(map[string]int64),
	}
	s.logger = logging.FeedContext("stream", s.URL())
	return s, nil
}

// StreamName returns the kline stream name of an instrument, e.g. btcusdt@kline_1m
func StreamName(inst market.Instrument) string {
	return fmt.Sprintf("%s@kline_%s", strings.ToLower(inst.Symbol), inst.Timeframe)
}

// URL returns the combined stream URL
func (s *KlineStream) URL() string {
	names := make([]string, 0, len(s.instruments))
	for name := range s.instruments {
		names = append(names, name)
	}
	sort.Strings(names)
	return s.baseURL + "?streams=" + strings.Join(names, "/")
}

// Connects returns how many connections have been established
func (s *KlineStream) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Run connects and reads until ctx is cancelled, reconnecting with
// exponential backoff. It returns nil on cancellation.
func (s *KlineStream) Run(ctx context.Context) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.opts.InitialInterval
	exp.MaxInterval = s.opts.MaxInterval
	exp.MaxElapsedTime = 0

	// Close the connection on cancel so a blocked read returns.
	stop := context.AfterFunc(ctx, s.closeConn)
	defer stop()

	operation := func() error {
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		exp.Reset()

		err = s.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		s.logger.Warn("Kline stream interrupted, reconnecting", "error", err, "retry_in", wait.String())
		if s.opts.Bus != nil {
			s.opts.Bus.PublishFeedState("stream", false, err)
		}
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(exp, ctx), notify)
	if ctx.Err() != nil {
		s.logger.Info("Kline stream stopped")
		return nil
	}
	return err
}

func (s *KlineStream) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.opts.Dialer.DialContext(ctx, s.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial kline stream: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connects++
	s.mu.Unlock()

	s.logger.Info("Kline stream connected", "streams", len(s.instruments))
	if s.opts.Bus != nil {
		s.opts.Bus.PublishFeedState("stream", true, nil)
	}
	return conn, nil
}

func (s *KlineStream) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *KlineStream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	defer s.closeConn()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("kline stream closed by server")
			}
			return fmt.Errorf("read kline stream: %w", err)
		}

		if err := s.handleMessage(ctx, message); err != nil {
			if ctx.Err() != nil {
				return err
			}
			s.logger.Error("Failed to handle kline message", "error", err)
		}
	}
}

// handleMessage decodes one combined-stream message and submits the bar if
// its kline is closed.
func (s *KlineStream) handleMessage(ctx context.Context, message []byte) error {
	var env streamEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	inst, ok := s.instruments[env.Stream]
	if !ok {
		return nil
	}

	var ev klineEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return fmt.Errorf("decode kline: %w", err)
	}
	if ev.EventType != "" && ev.EventType != "kline" {
		return nil
	}
	if !ev.Kline.IsClosed {
		return nil
	}

	// A reconnect can replay the last closed kline.
	s.mu.Lock()
	last, seen := s.lastOpenMs[env.Stream]
	if seen && ev.Kline.OpenTime <= last {
		s.mu.Unlock()
		return nil
	}
	s.lastOpenMs[env.Stream] = ev.Kline.OpenTime
	s.mu.Unlock()

	return s.sink.Submit(ctx, inst, ev.Kline.ToBar())
}
