package queue

const (
	ActionIncrement = "increment"
	ActionDecrement = "decrement"
)

var actionDeltas = map[string]int{
	ActionIncrement: 1,
	ActionDecrement: -1,
}

// ParseAction maps an admin action name to a counter delta.
func ParseAction(action string) (int, error) {
	delta, ok := actionDeltas[action]
	if !ok {
		return 0, ErrInvalidAction
	}
	return delta, nil
}

func validDelta(delta int) bool {
	return delta == 1 || delta == -1
}
