package engine

import "fmt"

type CommandKind uint8

const (
	KindMutate CommandKind = iota + 1
	KindReset
)

func (k CommandKind) String() string {
	switch k {
	case KindMutate:
		return "MUTATE"
	case KindReset:
		return "RESET"
	default:
		return fmt.Sprintf("KIND_%d", uint8(k))
	}
}

// Command is a request from the network side. The engine never looks inside
// Payload; pipeline systems type-switch on it.
type Command struct {
	Kind    CommandKind
	Payload any
}

func Reset() Command { return Command{Kind: KindReset} }

func Mutate(payload any) Command { return Command{Kind: KindMutate, Payload: payload} }

func (c Command) IsReset() bool { return c.Kind == KindReset }
