// Package ws owns the realtime websocket connection of one logged-in session.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"chat-client/internal/models"
	"chat-client/internal/observable"
	"chat-client/internal/observability"
)

var (
	ErrNotConnected    = errors.New("realtime connection is not established")
	ErrInvalidEndpoint = errors.New("invalid realtime endpoint")
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 8 << 20
)

// Config controls dialing and reconnection.
type Config struct {
	URL               string
	ReconnectDelay    time.Duration
	ReconnectAttempts uint64
	ChannelBuffer     int
	SendBuffer        int
	HandshakeTimeout  time.Duration
	PingPeriod        time.Duration
	PongWait          time.Duration
	// EventsRoutingKey is where connection lifecycle events are published.
	EventsRoutingKey string
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.EventsRoutingKey == "" {
		c.EventsRoutingKey = observability.RoutingKeyWSEvents
	}
	if c.ChannelBuffer <= 0 {
		c.ChannelBuffer = 64
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = pongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	return c
}

// ValidateEndpoint checks that raw is an absolute ws or wss URL.
func ValidateEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, raw)
	}
	return u, nil
}

// Manager maintains a single realtime connection, routes inbound frames to
// one channel per event category and reconnects after unexpected drops.
type Manager struct {
	cfg    Config
	dialer *websocket.Dialer
	state  *observable.Value[models.ConnectionState]

	mu       sync.Mutex
	status   models.ConnStatus
	creds    models.Credentials
	send     chan []byte
	connDone <-chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	info     ConnInfo

	chMu     sync.RWMutex
	channels map[models.EventCategory]chan models.Frame
}

// NewManager builds a disconnected manager.
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:      cfg,
		dialer:   &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: cfg.HandshakeTimeout},
		state:    observable.New(models.ConnectionState{Status: models.ConnDisconnected}),
		status:   models.ConnDisconnected,
		channels: make(map[models.EventCategory]chan models.Frame),
	}
}

// State exposes the connection state for display.
func (m *Manager) State() *observable.Value[models.ConnectionState] {
	return m.state
}

// Info describes the current connection.
func (m *Manager) Info() ConnInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// Connected reports whether frames can be emitted right now.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == models.ConnConnected
}

// Subscribe returns the channel that receives frames of category. The
// channel is closed by Disconnect; subscribing again afterwards yields a new
// one.
func (m *Manager) Subscribe(category models.EventCategory) <-chan models.Frame {
	m.chMu.Lock()
	defer m.chMu.Unlock()
	ch, ok := m.channels[category]
	if !ok {
		ch = make(chan models.Frame, m.cfg.ChannelBuffer)
		m.channels[category] = ch
	}
	return ch
}

// Connect dials the endpoint and starts the session. Calling it while a
// session is active is a no-op.
func (m *Manager) Connect(ctx context.Context, creds models.Credentials) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	if _, err := ValidateEndpoint(m.cfg.URL); err != nil {
		m.mu.Unlock()
		m.setState(models.ConnFailed, err)
		return err
	}
	sess, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.creds = creds
	m.status = models.ConnConnecting
	done := m.done
	m.mu.Unlock()
	m.setState(models.ConnConnecting, nil)

	ctx, span := otel.Tracer("chat-client/ws").Start(ctx, "ws.connect")
	defer span.End()
	span.SetAttributes(attribute.String("ws.endpoint", m.cfg.URL))

	conn, err := m.dial(ctx, creds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		cancel()
		m.mu.Lock()
		m.cancel = nil
		m.status = models.ConnFailed
		m.mu.Unlock()
		close(done)
		m.setState(models.ConnFailed, err)
		m.publishWSEvent("ws_error", ConnInfo{UserID: creds.UserID, Endpoint: m.cfg.URL}, err.Error())
		return fmt.Errorf("connect realtime: %w", err)
	}

	info := newConnInfo(creds.UserID, m.cfg.URL, span.SpanContext().TraceID().String())
	go m.run(sess, conn, info, done)
	return nil
}

// Disconnect ends the session and closes every category channel, so no
// consumer observes frames afterwards.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	m.chMu.Lock()
	for category, ch := range m.channels {
		close(ch)
		delete(m.channels, category)
	}
	m.chMu.Unlock()

	m.mu.Lock()
	m.status = models.ConnDisconnected
	m.send = nil
	m.connDone = nil
	m.mu.Unlock()
	m.setState(models.ConnDisconnected, nil)
}

// Emit queues one frame for the writer.
func (m *Manager) Emit(ctx context.Context, event string, payload any) error {
	frame := models.Frame{Event: event}
	if payload != nil {
		data, err := jsoniter.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s: %w", event, err)
		}
		frame.Data = data
	}
	body, err := jsoniter.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	m.mu.Lock()
	send, connDone, status := m.send, m.connDone, m.status
	m.mu.Unlock()
	if status != models.ConnConnected || send == nil {
		return ErrNotConnected
	}

	select {
	case send <- body:
		observability.IncWSFrame("out", event)
		return nil
	case <-connDone:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) dial(ctx context.Context, creds models.Credentials) (*websocket.Conn, error) {
	header := http.Header{}
	if creds.Token != "" {
		header.Set("Authorization", "Bearer "+creds.Token)
	}
	conn, resp, err := m.dialer.DialContext(ctx, m.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", m.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", m.cfg.URL, err)
	}
	return conn, nil
}

// run serves connections until the session ends or reconnection gives up.
func (m *Manager) run(sess context.Context, conn *websocket.Conn, info ConnInfo, done chan struct{}) {
	defer close(done)
	for {
		reason := m.serve(sess, conn, info)
		if sess.Err() != nil {
			m.publishWSEvent("ws_disconnect", info, "client disconnect")
			return
		}

		log.Warn().Str("conn_id", info.ConnID).Str("reason", reason).Msg("realtime connection dropped")
		m.publishWSEvent("ws_error", info, reason)
		m.setStatus(models.ConnReconnecting, errors.New(reason))
		m.dispatch(sess, models.Frame{Event: models.EventDisconnect})

		next, err := m.reconnect(sess)
		if err != nil {
			if sess.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("realtime reconnect gave up")
			m.mu.Lock()
			cancel := m.cancel
			m.cancel = nil
			m.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			m.setStatus(models.ConnFailed, err)
			m.publishWSEvent("ws_error", info, err.Error())
			return
		}
		conn = next
		info = newConnInfo(info.UserID, info.Endpoint, info.TraceID)
	}
}

func (m *Manager) reconnect(sess context.Context) (*websocket.Conn, error) {
	m.mu.Lock()
	creds := m.creds
	m.mu.Unlock()

	var policy backoff.BackOff = backoff.NewConstantBackOff(m.cfg.ReconnectDelay)
	if m.cfg.ReconnectAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, m.cfg.ReconnectAttempts-1)
	}
	policy = backoff.WithContext(policy, sess)

	// first attempt waits one delay like every later one
	timer := time.NewTimer(m.cfg.ReconnectDelay)
	select {
	case <-timer.C:
	case <-sess.Done():
		timer.Stop()
		return nil, sess.Err()
	}

	return backoff.RetryNotifyWithData(func() (*websocket.Conn, error) {
		return m.dial(sess, creds)
	}, policy, func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("realtime reconnect failed")
	})
}

// serve pumps one connection and returns why it ended.
func (m *Manager) serve(sess context.Context, conn *websocket.Conn, info ConnInfo) string {
	connCtx, stop := context.WithCancel(sess)
	send := make(chan []byte, m.cfg.SendBuffer)

	m.mu.Lock()
	m.send = send
	m.connDone = connCtx.Done()
	m.info = info
	m.status = models.ConnConnected
	m.mu.Unlock()
	m.setState(models.ConnConnected, nil)

	observability.IncWSActive()
	m.publishWSEvent("ws_connect", info, "")
	log.Info().Str("conn_id", info.ConnID).Str("endpoint", info.Endpoint).Msg("realtime connected")
	m.dispatch(sess, models.Frame{Event: models.EventConnect})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.writePump(connCtx, conn, send)
	}()

	reason := m.readPump(sess, conn)
	stop()
	wg.Wait()
	_ = conn.Close()

	m.mu.Lock()
	if m.send == send {
		m.send = nil
	}
	m.mu.Unlock()
	observability.DecWSActive()
	return reason
}

func (m *Manager) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(m.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Warn().Err(err).Msg("realtime write failed")
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}
	}
}

func (m *Manager) readPump(sess context.Context, conn *websocket.Conn) string {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err.Error()
		}
		_ = conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))

		var frame models.Frame
		if err := jsoniter.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			observability.IncDecodeError("ws_frame")
			log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed realtime frame")
			continue
		}
		observability.IncWSFrame("in", frame.Event)
		m.dispatch(sess, frame)
	}
}

// dispatch hands a frame to its category channel. It gives up when the
// session ends so Disconnect never waits on a stalled consumer.
func (m *Manager) dispatch(sess context.Context, frame models.Frame) {
	category, ok := models.CategoryOf(frame.Event)
	if !ok {
		log.Debug().Str("event", frame.Event).Msg("ignoring unrouted realtime event")
		return
	}
	m.chMu.RLock()
	defer m.chMu.RUnlock()
	ch, ok := m.channels[category]
	if !ok {
		return
	}
	select {
	case ch <- frame:
	case <-sess.Done():
	}
}

func (m *Manager) setStatus(status models.ConnStatus, err error) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
	m.setState(status, err)
}

func (m *Manager) setState(status models.ConnStatus, err error) {
	state := models.ConnectionState{Status: status}
	if err != nil {
		state.Err = err.Error()
	}
	m.state.Set(state)
}

func (m *Manager) publishWSEvent(event string, info ConnInfo, reason string) {
	var duration int64
	if !info.ConnectedAt.IsZero() {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	headers := observability.BuildHeaders("", info.TraceID)
	_ = observability.PublishEvent(context.Background(), m.cfg.EventsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   observability.WSPayload(event, info.ConnID, info.UserID, info.Endpoint, reason, duration),
	}, headers)
	observability.IncWSEvent(event)
}
