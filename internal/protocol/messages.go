package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"skirmish.io/internal/sim/engine"
	"skirmish.io/internal/sim/systems"
)

// Vec is a point on the wire: [x, y].
type Vec [2]float64

func (v Vec) Vec2() engine.Vec2 { return engine.Vec2{X: v[0], Y: v[1]} }

func FromVec2(v engine.Vec2) Vec { return Vec{v.X, v.Y} }

// CMD (client -> server)
type CmdMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	CmdID           string `json:"cmd_id,omitempty"`
	Cmd             Cmd    `json:"cmd"`
}

type Cmd struct {
	Kind        string `json:"kind"`
	ID          string `json:"id,omitempty"`
	Position    *Vec   `json:"position,omitempty"`
	Destination *Vec   `json:"destination,omitempty"`
}

// STATE (server -> client)
type StateMsg struct {
	Type            string              `json:"type" msgpack:"type"`
	ProtocolVersion string              `json:"protocol_version" msgpack:"protocol_version"`
	Tick            uint64              `json:"tick" msgpack:"tick"`
	Units           map[string]UnitView `json:"units" msgpack:"units"`
}

type UnitView struct {
	ID          string `json:"id" msgpack:"id"`
	Position    Vec    `json:"position" msgpack:"position"`
	Destination Vec    `json:"destination" msgpack:"destination"`
}

// ACK (server -> client)
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CmdID           string `json:"cmd_id,omitempty"`
	Kind            string `json:"kind"`
	UnitID          string `json:"unit_id,omitempty"`
	// ServerTick is the last published tick when the command was queued.
	ServerTick uint64 `json:"server_tick"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CmdID           string `json:"cmd_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

// ParseCmd validates b against the command schema and decodes it.
// Failures are *Error with code E_PROTO_BAD_REQUEST.
func ParseCmd(b []byte) (CmdMsg, error) {
	var m CmdMsg
	if err := validateCommand(b); err != nil {
		return m, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&m); err != nil {
		return m, badRequest("bad json: " + err.Error())
	}
	if m.ProtocolVersion != "" && m.ProtocolVersion != Version {
		return m, badRequest(fmt.Sprintf("unsupported protocol_version %q", m.ProtocolVersion))
	}
	return m, nil
}

// ToCommand converts a parsed CMD into an engine command. Spawns without an
// id get a fresh uuid; the returned id is the unit the command targets.
func ToCommand(c Cmd) (engine.Command, string, error) {
	switch c.Kind {
	case KindReset:
		return engine.Reset(), "", nil
	case KindSpawn:
		if c.Position == nil {
			return engine.Command{}, "", badRequest("SPAWN requires position")
		}
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		p := systems.SpawnUnit{ID: id, Position: c.Position.Vec2()}
		if c.Destination != nil {
			p.Destination = c.Destination.Vec2()
			p.HasDestination = true
		}
		return engine.Mutate(p), id, nil
	case KindMove:
		if c.ID == "" || c.Destination == nil {
			return engine.Command{}, "", badRequest("MOVE requires id and destination")
		}
		return engine.Mutate(systems.MoveUnit{ID: c.ID, Destination: c.Destination.Vec2()}), c.ID, nil
	case KindDespawn:
		if c.ID == "" {
			return engine.Command{}, "", badRequest("DESPAWN requires id")
		}
		return engine.Mutate(systems.DespawnUnit{ID: c.ID}), c.ID, nil
	default:
		return engine.Command{}, "", badRequest(fmt.Sprintf("unknown kind %q", c.Kind))
	}
}

func NewAck(cmdID, kind, unitID string, tick uint64) AckMsg {
	return AckMsg{Type: TypeAck, ProtocolVersion: Version, CmdID: cmdID, Kind: kind, UnitID: unitID, ServerTick: tick}
}

func NewError(cmdID, code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, CmdID: cmdID, Code: code, Message: message}
}

func NewState(snap engine.Snapshot) StateMsg {
	units := make(map[string]UnitView, snap.Len())
	snap.Each(func(u engine.Unit) {
		units[u.ID] = UnitView{ID: u.ID, Position: FromVec2(u.Position), Destination: FromVec2(u.Destination)}
	})
	return StateMsg{Type: TypeState, ProtocolVersion: Version, Tick: snap.Tick(), Units: units}
}

// SortedIDs is a convenience for clients printing a state.
func (m StateMsg) SortedIDs() []string {
	ids := make([]string, 0, len(m.Units))
	for id := range m.Units {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
