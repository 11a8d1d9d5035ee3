package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"duckrace/server/internal/logging"
	"duckrace/server/internal/relay"
)

const (
	spectatorBuffer = 64
	writeWait       = 10 * time.Second
)

// Client is one connected spectator socket.
type Client struct {
	conn      *websocket.Conn
	sub       *relay.Subscription
	id        string
	anonymous bool
	done      chan struct{}
	log       *logging.Logger
}

// BrokerStats summarises relay deliveries and connected spectators.
type BrokerStats struct {
	Broadcasts int `json:"broadcasts"`
	Clients    int `json:"clients"`
}

// spectatorMessage is the JSON frame written to spectators.
type spectatorMessage struct {
	Type       string          `json:"type"`
	Subscriber string          `json:"subscriber,omitempty"`
	Sequence   uint64          `json:"sequence,omitempty"`
	Kind       string          `json:"kind,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// clientMessage is the JSON frame spectators send back.
type clientMessage struct {
	Type     string `json:"type"`
	Sequence uint64 `json:"sequence"`
}

// Broker fans relay announcements out to WebSocket spectators and collects their acks.
type Broker struct {
	stream          *relay.Stream
	log             *logging.Logger
	upgrader        websocket.Upgrader
	allowedOrigins  []string
	maxPayloadBytes int64
	pingInterval    time.Duration
	maxClients      int
	wsAuthenticator websocketAuthenticator
	now             func() time.Time
	startedAt       time.Time

	lock       sync.Mutex
	clients    map[*Client]struct{}
	pending    int
	broadcasts int
	startupErr error
}

// BrokerOption customises a Broker.
type BrokerOption func(*Broker)

// WithAllowedOrigins restricts which browser origins may open spectator sockets.
func WithAllowedOrigins(origins []string) BrokerOption {
	return func(b *Broker) {
		b.allowedOrigins = append([]string(nil), origins...)
	}
}

// WithClientLimits configures payload, keepalive and connection caps.
func WithClientLimits(maxPayloadBytes int64, pingInterval time.Duration, maxClients int) BrokerOption {
	return func(b *Broker) {
		if maxPayloadBytes > 0 {
			b.maxPayloadBytes = maxPayloadBytes
		}
		if pingInterval > 0 {
			b.pingInterval = pingInterval
		}
		if maxClients >= 0 {
			b.maxClients = maxClients
		}
	}
}

// WithBrokerLogger overrides the broker logger.
func WithBrokerLogger(logger *logging.Logger) BrokerOption {
	return func(b *Broker) {
		if logger != nil {
			b.log = logger
		}
	}
}

// WithBrokerClock injects the time source used for uptime.
func WithBrokerClock(clock func() time.Time) BrokerOption {
	return func(b *Broker) {
		if clock != nil {
			b.now = clock
		}
	}
}

// NewBroker builds a broker on top of the relay stream.
func NewBroker(stream *relay.Stream, opts ...BrokerOption) *Broker {
	b := &Broker{
		stream:          stream,
		log:             logging.L(),
		maxPayloadBytes: 1 << 20,
		pingInterval:    30 * time.Second,
		wsAuthenticator: allowAllAuthenticator{},
		now:             time.Now,
		clients:         make(map[*Client]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.startedAt = b.now()
	b.upgrader = websocket.Upgrader{CheckOrigin: b.checkOrigin}
	return b
}

func (b *Broker) checkOrigin(r *http.Request) bool {
	if len(b.allowedOrigins) == 0 {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, allowed := range b.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Stats reports relay deliveries and connected spectators.
func (b *Broker) Stats() BrokerStats {
	b.lock.Lock()
	defer b.lock.Unlock()
	return BrokerStats{Broadcasts: b.broadcasts, Clients: len(b.clients)}
}

// SnapshotClientCounts reports connected spectators and handshakes in flight.
func (b *Broker) SnapshotClientCounts() (clients, pending int) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.clients), b.pending
}

// SetStartupError records a failure that should turn readiness red.
func (b *Broker) SetStartupError(err error) {
	b.lock.Lock()
	b.startupErr = err
	b.lock.Unlock()
}

// StartupError returns the recorded startup failure, if any.
func (b *Broker) StartupError() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.startupErr
}

// Uptime reports how long the broker has been running.
func (b *Broker) Uptime() time.Duration {
	return b.now().Sub(b.startedAt)
}

// serveWS upgrades a spectator, replays its unacknowledged announcements and streams new ones.
func (b *Broker) serveWS(w http.ResponseWriter, r *http.Request) {
	logger := logging.LoggerFromContext(r.Context()).With(logging.String("remote_addr", r.RemoteAddr))

	//1.- Authenticate before spending a connection slot.
	subject, err := b.wsAuthenticator.Authenticate(r)
	if err != nil {
		logger.Warn("spectator rejected", logging.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	//2.- Reserve a slot so concurrent handshakes cannot exceed the cap.
	b.lock.Lock()
	if b.maxClients > 0 && len(b.clients)+b.pending >= b.maxClients {
		b.lock.Unlock()
		logger.Warn("spectator rejected: capacity reached", logging.Int("max_clients", b.maxClients))
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}
	b.pending++
	b.lock.Unlock()

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.lock.Lock()
		b.pending--
		b.lock.Unlock()
		logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}

	//3.- Resolve the subscriber identity; anonymous spectators are forgotten on disconnect.
	id, anonymous := subscriberID(subject, r)
	sub, err := b.stream.Subscribe(id, spectatorBuffer)
	if err != nil {
		b.lock.Lock()
		b.pending--
		b.lock.Unlock()
		logger.Error("relay subscribe failed", logging.Error(err))
		_ = conn.Close()
		return
	}

	client := &Client{
		conn:      conn,
		sub:       sub,
		id:        id,
		anonymous: anonymous,
		done:      make(chan struct{}),
		log:       logger.With(logging.Subscriber(id)),
	}
	b.lock.Lock()
	b.pending--
	b.clients[client] = struct{}{}
	b.lock.Unlock()
	client.log.Info("spectator connected", logging.Bool("anonymous", anonymous))

	go b.writePump(client)
	go b.readPump(client)
}

func subscriberID(subject string, r *http.Request) (string, bool) {
	if subject = strings.TrimSpace(subject); subject != "" {
		return subject, false
	}
	if requested := strings.TrimSpace(r.URL.Query().Get("subscriber")); requested != "" {
		return requested, false
	}
	return "anon-" + uuid.NewString(), true
}

func (b *Broker) writePump(client *Client) {
	ticker := time.NewTicker(b.pingInterval)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	if err := b.write(client, spectatorMessage{Type: "welcome", Subscriber: client.id}); err != nil {
		return
	}
	for {
		select {
		case env, ok := <-client.sub.Events():
			if !ok {
				_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			msg := spectatorMessage{Type: "race", Sequence: env.Sequence, Kind: env.Kind, Payload: env.Payload}
			if err := b.write(client, msg); err != nil {
				client.log.Debug("spectator write failed", logging.Error(err))
				return
			}
			b.lock.Lock()
			b.broadcasts++
			b.lock.Unlock()
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}

func (b *Broker) write(client *Client, msg spectatorMessage) error {
	_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return client.conn.WriteJSON(msg)
}

func (b *Broker) readPump(client *Client) {
	defer b.disconnect(client)

	client.conn.SetReadLimit(b.maxPayloadBytes)
	deadline := 2 * b.pingInterval
	_ = client.conn.SetReadDeadline(time.Now().Add(deadline))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				client.log.Debug("spectator read failed", logging.Error(err))
			}
			return
		}
		_ = client.conn.SetReadDeadline(time.Now().Add(deadline))
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			client.log.Debug("ignoring malformed spectator frame", logging.Error(err))
			continue
		}
		if msg.Type != "ack" {
			continue
		}
		if err := client.sub.Ack(msg.Sequence); err != nil {
			level := client.log.Warn
			if errors.Is(err, relay.ErrClosed) {
				level = client.log.Debug
			}
			level("spectator ack rejected", logging.Int64("sequence", int64(msg.Sequence)), logging.Error(err))
		}
	}
}

func (b *Broker) disconnect(client *Client) {
	b.lock.Lock()
	delete(b.clients, client)
	b.lock.Unlock()
	close(client.done)
	if client.anonymous {
		client.sub.Release()
	} else {
		client.sub.Close()
	}
	_ = client.conn.Close()
	client.log.Info("spectator disconnected")
}

type statsProvider interface {
	Stats() BrokerStats
}

func statsHandler(provider statsProvider) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats := provider.Stats()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			logging.LoggerFromContext(r.Context()).Warn("failed to encode broker stats", logging.Error(err))
		}
	})
}
