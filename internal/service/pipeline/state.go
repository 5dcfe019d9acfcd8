package pipeline

// State is a step of the detect request state machine.
type State int

const (
	Received State = iota
	Validated
	Decoded
	Inferred
	Annotated
	Stored
	Responded
	Errored
)

var stateNames = [...]string{
	Received:  "received",
	Validated: "validated",
	Decoded:   "decoded",
	Inferred:  "inferred",
	Annotated: "annotated",
	Stored:    "stored",
	Responded: "responded",
	Errored:   "errored",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Responded || s == Errored
}
