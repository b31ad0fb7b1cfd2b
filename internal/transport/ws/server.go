package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"skirmish.io/internal/protocol"
	"skirmish.io/internal/sim/ingress"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 2 / 5
	maxMessage = 16 * 1024
	replyQueue = 64
)

// Handler serves GET /ws/{id}. The id must come from Register; the optional
// ?encoding=json|msgpack query picks the STATE frame format.
func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !h.Registered(id) {
			writeHTTPError(rw, http.StatusNotFound, protocol.ErrNotFound, "unknown client id")
			return
		}
		enc, err := protocol.ParseEncoding(r.URL.Query().Get("encoding"))
		if err != nil {
			writeHTTPError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
			return
		}

		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxMessage)

		c := &client{
			id:      id,
			enc:     enc,
			state:   make(chan frame, h.cfg.ClientQueue),
			reply:   make(chan frame, replyQueue),
			limiter: rate.NewLimiter(h.commandLimit(), h.cfg.CommandBurst),
			kick:    make(chan struct{}),
		}
		if !h.attach(c) {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown client id"), time.Now().Add(time.Second))
			return
		}
		defer h.detach(c)

		// Initial view so the client does not wait for the next tick.
		if b, err := protocol.EncodeState(protocol.NewState(h.store.Read()), enc); err == nil {
			h.sendLatest(c.state, frame{msgType: messageType(enc), data: b})
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			h.writeLoop(ctx, cancel, conn, c)
		}()

		// Reader loop.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			if mt != websocket.TextMessage {
				h.replyError(c, "", protocol.ErrProtoBadRequest, "commands must be JSON text frames")
				continue
			}
			h.handleCommand(c, msg)
		}
		cancel()
		<-done
	}
}

func (h *Hub) commandLimit() rate.Limit {
	if h.cfg.CommandsPerSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(h.cfg.CommandsPerSecond)
}

func (h *Hub) handleCommand(c *client, msg []byte) {
	if !c.limiter.Allow() {
		h.replyError(c, "", protocol.ErrRateLimit, "too many commands")
		return
	}
	m, err := protocol.ParseCmd(msg)
	if err != nil {
		h.replyProtoError(c, "", err)
		return
	}
	cmd, unitID, err := protocol.ToCommand(m.Cmd)
	if err != nil {
		h.replyProtoError(c, m.CmdID, err)
		return
	}
	if err := h.queue.TrySend(cmd); err != nil {
		switch {
		case errors.Is(err, ingress.ErrBackpressure):
			h.replyError(c, m.CmdID, protocol.ErrBackpressure, "command queue full, retry later")
		default:
			h.replyError(c, m.CmdID, protocol.ErrInternal, err.Error())
		}
		return
	}
	h.commandsAccepted.Add(1)
	h.reply(c, protocol.NewAck(m.CmdID, m.Cmd.Kind, unitID, h.store.Tick()))
}

func (h *Hub) replyProtoError(c *client, cmdID string, err error) {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		h.replyError(c, cmdID, pe.Code, pe.Message)
		return
	}
	h.replyError(c, cmdID, protocol.ErrInternal, err.Error())
}

func (h *Hub) replyError(c *client, cmdID, code, message string) {
	h.commandsRejected.Add(1)
	h.reply(c, protocol.NewError(cmdID, code, message))
}

func (h *Hub) reply(c *client, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Printf("ws: marshal reply: %v", err)
		return
	}
	select {
	case c.reply <- frame{msgType: websocket.TextMessage, data: b}:
	default:
		h.framesDropped.Add(1)
	}
}

func (h *Hub) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, c *client) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	write := func(f frame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(f.msgType, f.data); err != nil {
			cancel()
			return false
		}
		return true
	}
	for {
		// Replies first so ACK/ERROR are not starved by state frames.
		select {
		case f := <-c.reply:
			if !write(f) {
				return
			}
			continue
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-c.kick:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "disconnected"), time.Now().Add(time.Second))
			_ = conn.Close()
			cancel()
			return
		case f := <-c.reply:
			if !write(f) {
				return
			}
		case f := <-c.state:
			if !write(f) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				cancel()
				return
			}
		}
	}
}

func writeHTTPError(rw http.ResponseWriter, status int, code, message string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(protocol.NewError("", code, message))
}
