package pipeline

import "k8s.io/klog/v2"

// State is a step of a run.
type State int

const (
	Configured State = iota
	ModelBuilt
	Compiled
	Training
	EarlyStopped
	EpochsExhausted
	Predicting
	Saved
	ModelLoaded
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Configured:
		return "Configured"
	case ModelBuilt:
		return "ModelBuilt"
	case Compiled:
		return "Compiled"
	case Training:
		return "Training"
	case EarlyStopped:
		return "EarlyStopped"
	case EpochsExhausted:
		return "EpochsExhausted"
	case Predicting:
		return "Predicting"
	case Saved:
		return "Saved"
	case ModelLoaded:
		return "ModelLoaded"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// transitions lists the legal successors of each state. Any state may move
// to Failed.
var transitions = map[State][]State{
	Configured:      {ModelBuilt, ModelLoaded},
	ModelBuilt:      {Compiled},
	Compiled:        {Training},
	Training:        {EarlyStopped, EpochsExhausted},
	EarlyStopped:    {Predicting},
	EpochsExhausted: {Predicting},
	Predicting:      {Saved, Done},
	ModelLoaded:     {Predicting},
}

// machine tracks the current state and the path taken.
type machine struct {
	state State
	path  []State
}

func newMachine() *machine {
	return &machine{state: Configured, path: []State{Configured}}
}

// to moves to next. An illegal move panics since it can only come from a
// programming error in this package.
func (m *machine) to(next State) {
	if next != Failed && !allowed(m.state, next) {
		panic("pipeline: illegal transition " + m.state.String() + " -> " + next.String())
	}
	klog.V(1).Infof("state %s -> %s", m.state, next)
	m.state = next
	m.path = append(m.path, next)
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
