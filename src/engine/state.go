package engine

// State captures the lifecycle of an engine: Init, Running, Draining, or Done.
type State uint32

const (
	// Init is the state of an engine that has not started.
	Init State = iota
	// Running engines dispatch events.
	Running
	// Draining engines have stopped dispatching and run final controls.
	Draining
	// Done is terminal.
	Done
)

// String ...
func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case Running:
		return "Running"
	case Draining:
		return "Draining"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}
