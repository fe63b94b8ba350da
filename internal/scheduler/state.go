package scheduler

// State is the scheduler's position in its daily loop.
type State int32

const (
	StateIdle State = iota
	StateEvaluating
	StatePlacing
	StateWaiting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEvaluating:
		return "evaluating"
	case StatePlacing:
		return "placing"
	case StateWaiting:
		return "waiting"
	default:
		return "unknown"
	}
}
