package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"skirmish.io/internal/protocol"
)

func main() {
	var (
		server   = flag.String("server", "http://localhost:8080", "server base url")
		userID   = flag.Int64("user", 1, "user id sent to /register")
		encoding = flag.String("encoding", "json", "state encoding: json|msgpack")
		every    = flag.Int("move_every", 3, "issue a MOVE every N states")
		spread   = flag.Float64("spread", 20, "random destinations fall within [-spread, spread]")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	url, err := register(*server, *userID)
	if err != nil {
		logger.Fatalf("register: %v", err)
	}
	if *encoding != "" && *encoding != "json" {
		url += "?encoding=" + *encoding
	}
	enc, err := protocol.ParseEncoding(*encoding)
	if err != nil {
		logger.Fatalf("encoding: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	spawn := protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		CmdID:           "spawn",
		Cmd:             protocol.Cmd{Kind: protocol.KindSpawn, Position: randomPoint(r, *spread)},
	}
	if err := conn.WriteJSON(spawn); err != nil {
		logger.Fatalf("send SPAWN: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	var unitID string
	states := 0
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt == websocket.BinaryMessage {
			st, err := protocol.DecodeState(msg, enc)
			if err != nil {
				continue
			}
			states++
			handleState(conn, logger, r, &st, unitID, states, *every, *spread)
			continue
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err != nil {
				continue
			}
			if ack.Kind == protocol.KindSpawn {
				unitID = ack.UnitID
				logger.Printf("spawned unit=%s at tick=%d", unitID, ack.ServerTick)
			}

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Printf("ERROR cmd=%s code=%s: %s", e.CmdID, e.Code, e.Message)

		case protocol.TypeState:
			var st protocol.StateMsg
			if err := json.Unmarshal(msg, &st); err != nil {
				continue
			}
			states++
			handleState(conn, logger, r, &st, unitID, states, *every, *spread)
		}
	}
}

func handleState(conn *websocket.Conn, logger *log.Logger, r *rand.Rand, st *protocol.StateMsg, unitID string, n, every int, spread float64) {
	if unitID == "" {
		return
	}
	u, ok := st.Units[unitID]
	if !ok {
		// Someone reset the world; our unit is gone.
		logger.Printf("tick=%d unit %s missing (units=%d)", st.Tick, unitID, len(st.Units))
		return
	}
	if every <= 0 || n%every != 0 {
		return
	}
	dst := randomPoint(r, spread)
	logger.Printf("tick=%d pos=%v -> %v", st.Tick, u.Position, *dst)
	_ = conn.WriteJSON(protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		CmdID:           fmt.Sprintf("move_%d", st.Tick),
		Cmd:             protocol.Cmd{Kind: protocol.KindMove, ID: unitID, Destination: dst},
	})
}

func randomPoint(r *rand.Rand, spread float64) *protocol.Vec {
	return &protocol.Vec{(r.Float64()*2 - 1) * spread, (r.Float64()*2 - 1) * spread}
}

func register(server string, userID int64) (string, error) {
	body, _ := json.Marshal(map[string]int64{"user_id": userID})
	resp, err := http.Post(strings.TrimRight(server, "/")+"/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %s", resp.Status)
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.URL, nil
}
