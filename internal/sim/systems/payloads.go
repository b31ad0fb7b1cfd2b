package systems

import "skirmish.io/internal/sim/engine"

// Mutation payloads understood by CommandSystem. They travel inside
// engine.Mutate commands.

type SpawnUnit struct {
	ID             string      `json:"id"`
	Position       engine.Vec2 `json:"position"`
	Destination    engine.Vec2 `json:"destination"`
	HasDestination bool        `json:"has_destination,omitempty"`
}

type MoveUnit struct {
	ID          string      `json:"id"`
	Destination engine.Vec2 `json:"destination"`
}

type DespawnUnit struct {
	ID string `json:"id"`
}

// PayloadName is the stable label used in tick logs.
func PayloadName(p any) string {
	switch p.(type) {
	case SpawnUnit:
		return "SPAWN"
	case MoveUnit:
		return "MOVE"
	case DespawnUnit:
		return "DESPAWN"
	default:
		return "UNKNOWN"
	}
}

// PayloadUnitID returns the unit a payload targets, or "".
func PayloadUnitID(p any) string {
	switch v := p.(type) {
	case SpawnUnit:
		return v.ID
	case MoveUnit:
		return v.ID
	case DespawnUnit:
		return v.ID
	default:
		return ""
	}
}
