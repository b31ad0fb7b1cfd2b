// Package api is the REST surface of the server. Handlers only read the
// snapshot store and write the ingress queue.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"skirmish.io/internal/persistence/indexdb"
	"skirmish.io/internal/protocol"
	"skirmish.io/internal/sim/engine"
	"skirmish.io/internal/sim/ingress"
	"skirmish.io/internal/sim/store"
	"skirmish.io/internal/sim/tick"
	"skirmish.io/internal/transport/ws"
)

const (
	maxBody = 16 * 1024

	// Per-host limiters unused for this long are dropped on the next sweep.
	limiterIdle = 10 * time.Minute
)

type MetricsSource interface {
	Metrics() tick.Metrics
}

type TickIndex interface {
	RecentTicks(ctx context.Context, limit int) ([]indexdb.TickRow, error)
	Stats() indexdb.Stats
}

type TickLog interface {
	Lines() uint64
	Errors() uint64
}

type Config struct {
	Queue  *ingress.Queue
	Store  *store.Store
	Hub    *ws.Hub
	Driver MetricsSource

	// Optional operational records.
	Index   TickIndex
	TickLog TickLog

	// PublicURL is the externally visible base (e.g. https://host). When empty
	// the websocket URL is derived from the request.
	PublicURL string

	CommandsPerSecond float64
	CommandBurst      int
	EnableAdmin       bool

	Logger *log.Logger
}

type Server struct {
	cfg Config
	log *log.Logger

	limitMu   sync.Mutex
	limiters  map[string]*hostLimiter
	lastSweep time.Time
	now       func() time.Time
}

type hostLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = 40
	}
	return &Server{cfg: cfg, log: logger, limiters: map[string]*hostLimiter{}, now: time.Now}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /game", s.handleGame)
	mux.HandleFunc("GET /reset", s.handleReset)
	mux.HandleFunc("POST /reset", s.handleReset)
	mux.HandleFunc("POST /command", s.handleCommand)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("DELETE /register/{id}", s.handleUnregister)
	mux.Handle("GET /ws/{id}", s.cfg.Hub.Handler())
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /schemas/command", s.handleCommandSchema)
	if s.cfg.EnableAdmin {
		mux.HandleFunc("GET /admin/v1/ticks", s.handleAdminTicks)
		mux.HandleFunc("GET /admin/v1/clients", s.handleAdminClients)
	}
	return cors(mux)
}

// cors allows any origin; preflight requests are answered directly.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		h := rw.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE")
		h.Set("Access-Control-Allow-Headers", "Access-Control-Request-Headers, Content-Type, Accept")
		if r.Method == http.MethodOptions {
			rw.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("ok"))
}

func (s *Server) handleCommandSchema(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/schema+json")
	_, _ = rw.Write([]byte(protocol.CommandSchema()))
}

func (s *Server) handleGame(rw http.ResponseWriter, r *http.Request) {
	enc := protocol.EncodingForAccept(r.Header.Get("Accept"))
	b, err := protocol.EncodeState(protocol.NewState(s.cfg.Store.Read()), enc)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	rw.Header().Set("Content-Type", enc.ContentType())
	_, _ = rw.Write(b)
}

func (s *Server) handleReset(rw http.ResponseWriter, r *http.Request) {
	if !s.enqueue(rw, "", engine.Reset()) {
		return
	}
	writeJSON(rw, http.StatusAccepted, protocol.NewAck("", protocol.KindReset, "", s.cfg.Store.Tick()))
}

func (s *Server) handleCommand(rw http.ResponseWriter, r *http.Request) {
	if !s.limiter(remoteHost(r.RemoteAddr)).Allow() {
		writeError(rw, http.StatusTooManyRequests, protocol.ErrRateLimit, "too many commands")
		return
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	if len(b) > maxBody {
		writeError(rw, http.StatusRequestEntityTooLarge, protocol.ErrProtoBadRequest, "body too large")
		return
	}
	m, err := protocol.ParseCmd(b)
	if err != nil {
		writeProtoError(rw, "", err)
		return
	}
	cmd, unitID, err := protocol.ToCommand(m.Cmd)
	if err != nil {
		writeProtoError(rw, m.CmdID, err)
		return
	}
	if !s.enqueue(rw, m.CmdID, cmd) {
		return
	}
	writeJSON(rw, http.StatusAccepted, protocol.NewAck(m.CmdID, m.Cmd.Kind, unitID, s.cfg.Store.Tick()))
}

// enqueue writes the error response itself and reports whether cmd was queued.
func (s *Server) enqueue(rw http.ResponseWriter, cmdID string, cmd engine.Command) bool {
	err := s.cfg.Queue.TrySend(cmd)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ingress.ErrBackpressure):
		rw.Header().Set("Retry-After", "1")
		writeJSON(rw, http.StatusServiceUnavailable, protocol.NewError(cmdID, protocol.ErrBackpressure, "command queue full, retry later"))
	case errors.Is(err, ingress.ErrClosed):
		writeJSON(rw, http.StatusServiceUnavailable, protocol.NewError(cmdID, protocol.ErrInternal, "shutting down"))
	default:
		s.log.Printf("api: enqueue: %v", err)
		writeJSON(rw, http.StatusInternalServerError, protocol.NewError(cmdID, protocol.ErrInternal, err.Error()))
	}
	return false
}

type registerRequest struct {
	UserID int64 `json:"user_id"`
}

type registerResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (s *Server) handleRegister(rw http.ResponseWriter, r *http.Request) {
	var req registerRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, "bad json: "+err.Error())
		return
	}
	reg := s.cfg.Hub.Register(req.UserID)
	s.log.Printf("register user=%d id=%s", req.UserID, reg.ID)
	writeJSON(rw, http.StatusOK, registerResponse{ID: reg.ID, URL: s.wsURL(r, reg.ID)})
}

func (s *Server) handleUnregister(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.cfg.Hub.Unregister(id) {
		writeError(rw, http.StatusNotFound, protocol.ErrNotFound, "unknown client id")
		return
	}
	s.log.Printf("unregister id=%s", id)
	rw.WriteHeader(http.StatusOK)
}

func (s *Server) wsURL(r *http.Request, id string) string {
	base := strings.TrimRight(s.cfg.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/" + id
}

func (s *Server) handleAdminTicks(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	if s.cfg.Index == nil {
		writeError(rw, http.StatusNotFound, protocol.ErrNotFound, "tick index disabled")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	rows, err := s.cfg.Index.RecentTicks(ctx, limit)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ticks": rows})
}

func (s *Server) handleAdminClients(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"clients": s.cfg.Hub.Registrations(),
		"stats":   s.cfg.Hub.Stats(),
	})
}

func (s *Server) limiter(host string) *rate.Limiter {
	s.limitMu.Lock()
	defer s.limitMu.Unlock()
	now := s.now()
	if now.Sub(s.lastSweep) >= limiterIdle {
		s.sweepLimitersLocked(now)
	}
	hl, ok := s.limiters[host]
	if !ok {
		limit := rate.Inf
		if s.cfg.CommandsPerSecond > 0 {
			limit = rate.Limit(s.cfg.CommandsPerSecond)
		}
		hl = &hostLimiter{lim: rate.NewLimiter(limit, s.cfg.CommandBurst)}
		s.limiters[host] = hl
	}
	hl.lastSeen = now
	return hl.lim
}

func (s *Server) sweepLimitersLocked(now time.Time) {
	for host, hl := range s.limiters {
		if now.Sub(hl.lastSeen) >= limiterIdle {
			delete(s.limiters, host)
		}
	}
	s.lastSweep = now
}

func (s *Server) limiterCount() int {
	s.limitMu.Lock()
	defer s.limitMu.Unlock()
	return len(s.limiters)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, message string) {
	writeJSON(rw, status, protocol.NewError("", code, message))
}

func writeProtoError(rw http.ResponseWriter, cmdID string, err error) {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		writeJSON(rw, http.StatusBadRequest, protocol.NewError(cmdID, pe.Code, pe.Message))
		return
	}
	writeJSON(rw, http.StatusInternalServerError, protocol.NewError(cmdID, protocol.ErrInternal, err.Error()))
}

func remoteHost(remoteAddr string) string {
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return h
	}
	return remoteAddr
}

func isLoopbackRemote(remoteAddr string) bool {
	host := strings.TrimSuffix(strings.TrimPrefix(remoteHost(remoteAddr), "["), "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
