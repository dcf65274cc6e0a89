package generator

import "fmt"

// State is the lifecycle position of a run.
type State int

const (
	Idle State = iota
	Preparing
	AwaitingSolver
	MaterializingVariants
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case AwaitingSolver:
		return "awaiting-solver"
	case MaterializingVariants:
		return "materializing-variants"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transitions lists the legal successors of each state. A materializing
// run fails only when it is cancelled.
var transitions = map[State][]State{
	Idle:                  {Preparing},
	Preparing:             {AwaitingSolver, Failed},
	AwaitingSolver:        {MaterializingVariants, Failed},
	MaterializingVariants: {Done, Failed},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
