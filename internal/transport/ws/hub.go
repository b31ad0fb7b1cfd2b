// Package ws serves the live websocket view of the simulation. Clients send
// CMD messages that go straight into the ingress queue and receive STATE
// frames from a broadcaster that polls the snapshot store.
package ws

import (
	"context"
	"io"
	"log"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"skirmish.io/internal/protocol"
	"skirmish.io/internal/sim/ingress"
	"skirmish.io/internal/sim/store"
)

type Config struct {
	ClientQueue       int
	BroadcastInterval time.Duration
	CommandsPerSecond float64
	CommandBurst      int
}

func (c *Config) normalize() {
	if c.ClientQueue <= 0 {
		c.ClientQueue = 8
	}
	if c.BroadcastInterval <= 0 {
		c.BroadcastInterval = 100 * time.Millisecond
	}
	if c.CommandBurst <= 0 {
		c.CommandBurst = 40
	}
}

type Registration struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Stats struct {
	Registered       int    `json:"registered"`
	Connected        int    `json:"connected"`
	Broadcasts       uint64 `json:"broadcasts"`
	FramesDropped    uint64 `json:"frames_dropped"`
	CommandsAccepted uint64 `json:"commands_accepted"`
	CommandsRejected uint64 `json:"commands_rejected"`
}

type frame struct {
	msgType int
	data    []byte
}

type client struct {
	id      string
	enc     protocol.Encoding
	state   chan frame
	reply   chan frame
	limiter *rate.Limiter

	kickOnce sync.Once
	kick     chan struct{}
}

func (c *client) disconnect() {
	c.kickOnce.Do(func() { close(c.kick) })
}

// Hub owns client registrations and live connections. It never touches the
// engine; it only reads the store and writes the queue.
type Hub struct {
	queue *ingress.Queue
	store *store.Store
	cfg   Config
	log   *log.Logger

	upgrader websocket.Upgrader

	mu         sync.RWMutex
	registered map[string]Registration
	clients    map[string]*client

	broadcasts       atomic.Uint64
	framesDropped    atomic.Uint64
	commandsAccepted atomic.Uint64
	commandsRejected atomic.Uint64
}

func NewHub(q *ingress.Queue, s *store.Store, cfg Config, logger *log.Logger) *Hub {
	cfg.normalize()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Hub{
		queue: q,
		store: s,
		cfg:   cfg,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		registered: map[string]Registration{},
		clients:    map[string]*client{},
	}
}

// Register issues a new client id for userID.
func (h *Hub) Register(userID int64) Registration {
	reg := Registration{ID: uuid.NewString(), UserID: userID, CreatedAt: time.Now().UTC()}
	h.mu.Lock()
	h.registered[reg.ID] = reg
	h.mu.Unlock()
	return reg
}

// Unregister forgets id and drops its live connection, if any.
func (h *Hub) Unregister(id string) bool {
	h.mu.Lock()
	_, ok := h.registered[id]
	delete(h.registered, id)
	c := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if c != nil {
		c.disconnect()
	}
	return ok
}

func (h *Hub) Registered(id string) bool {
	h.mu.RLock()
	_, ok := h.registered[id]
	h.mu.RUnlock()
	return ok
}

func (h *Hub) Registrations() []Registration {
	h.mu.RLock()
	out := make([]Registration, 0, len(h.registered))
	for _, r := range h.registered {
		out = append(out, r)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	st := Stats{Registered: len(h.registered), Connected: len(h.clients)}
	h.mu.RUnlock()
	st.Broadcasts = h.broadcasts.Load()
	st.FramesDropped = h.framesDropped.Load()
	st.CommandsAccepted = h.commandsAccepted.Load()
	st.CommandsRejected = h.commandsRejected.Load()
	return st
}

// Close drops every live connection. Registrations are kept.
func (h *Hub) Close() {
	h.mu.Lock()
	cs := make([]*client, 0, len(h.clients))
	for id, c := range h.clients {
		cs = append(cs, c)
		delete(h.clients, id)
	}
	h.mu.Unlock()
	for _, c := range cs {
		c.disconnect()
	}
}

// attach replaces any previous connection for the same id.
func (h *Hub) attach(c *client) bool {
	h.mu.Lock()
	if _, ok := h.registered[c.id]; !ok {
		h.mu.Unlock()
		return false
	}
	prev := h.clients[c.id]
	h.clients[c.id] = c
	h.mu.Unlock()
	if prev != nil {
		prev.disconnect()
	}
	return true
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
}

// Run broadcasts every newly published snapshot until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.cfg.BroadcastInterval)
	defer t.Stop()
	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if n := h.store.Published(); n != last {
			last = n
			h.BroadcastLatest()
		}
	}
}

// BroadcastLatest encodes the current snapshot once per encoding in use and
// queues it to every client, dropping the oldest pending frame when a client
// is behind.
func (h *Hub) BroadcastLatest() {
	h.mu.RLock()
	cs := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		cs = append(cs, c)
	}
	h.mu.RUnlock()
	if len(cs) == 0 {
		return
	}

	msg := protocol.NewState(h.store.Read())
	frames := map[protocol.Encoding]frame{}
	for _, c := range cs {
		f, ok := frames[c.enc]
		if !ok {
			b, err := protocol.EncodeState(msg, c.enc)
			if err != nil {
				h.log.Printf("ws: encode state (%s): %v", c.enc, err)
				continue
			}
			f = frame{msgType: messageType(c.enc), data: b}
			frames[c.enc] = f
		}
		if !h.sendLatest(c.state, f) {
			h.framesDropped.Add(1)
		}
	}
	h.broadcasts.Add(1)
}

// sendLatest reports false when an older frame had to be dropped.
func (h *Hub) sendLatest(ch chan frame, f frame) bool {
	select {
	case ch <- f:
		return true
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- f:
	default:
	}
	return false
}

func messageType(enc protocol.Encoding) int {
	if enc == protocol.EncodingMsgpack {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
