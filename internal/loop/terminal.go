package loop

import "time"

// Terminal is the state a loop run ended in.
type Terminal int

const (
	Halted    Terminal = iota // decision function returned Halt
	Exhausted                 // MaxIterations sessions ran
	Cancelled                 // context cancelled (e.g. SIGINT)
)

func (t Terminal) String() string {
	switch t {
	case Halted:
		return "halted"
	case Exhausted:
		return "exhausted"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ExitCode returns a distinct process exit code for each terminal state.
// 1 is left for fatal errors.
func (t Terminal) ExitCode() int {
	switch t {
	case Halted:
		return 0
	case Exhausted:
		return 2
	case Cancelled:
		return 5
	default:
		return 1
	}
}

// ParseTerminal is the inverse of Terminal.String.
func ParseTerminal(s string) (Terminal, error) {
	switch s {
	case "halted":
		return Halted, nil
	case "exhausted":
		return Exhausted, nil
	case "cancelled":
		return Cancelled, nil
	}
	return 0, parseEnumError("Terminal", s)
}

func (t Terminal) MarshalJSON() ([]byte, error) {
	return marshalEnumJSON(t)
}

func (t *Terminal) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnumJSON(data, ParseTerminal)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Result summarises a finished run.
type Result struct {
	RunID    string   `json:"run_id"`
	Terminal Terminal `json:"terminal"`
	// Reason is the Halt reason, or a short description of why the run
	// stopped otherwise.
	Reason       string        `json:"reason"`
	Iterations   int           `json:"iterations"`
	Sessions     int           `json:"sessions"`
	Supervisions int           `json:"supervisions"`
	Pushes       int           `json:"pushes"`
	Commits      int           `json:"commits"`
	TimedOut     int           `json:"timed_out"`
	Failed       int           `json:"failed"`
	Duration     time.Duration `json:"duration_ns"`
	// Err is set when the run aborted before reaching a terminal state.
	Err error `json:"-"`
}

// Outcome is the terminal state name, or "aborted" when Err is set.
func (r *Result) Outcome() string {
	if r.Err != nil {
		return "aborted"
	}
	return r.Terminal.String()
}
