package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeCmd   = "CMD"
	TypeState = "STATE"
	TypeAck   = "ACK"
	TypeError = "ERROR"
)

// Command kinds carried by CMD.
const (
	KindSpawn   = "SPAWN"
	KindMove    = "MOVE"
	KindDespawn = "DESPAWN"
	KindReset   = "RESET"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
