// Package tap models the IEEE 1149.1 TAP controller state machine.
//
// The host keeps its own copy of the TAP state so it can mirror what the
// debug probe's firmware does on the other side of the USB link. The state
// numbering used here is the same one the probe speaks in its GOTO_STATE and
// GET_STATE vendor requests, so a State value can travel on the wire as-is.
package tap

import (
	"fmt"
	"strings"
)

// State represents one of the 16 defined IEEE 1149.1 TAP controller states.
// The numeric values match the debug probe's wire encoding.
type State uint8

const (
	StateTestLogicReset State = iota
	StateRunTestIdle
	StateSelectDRScan
	StateCaptureDR
	StateShiftDR
	StateExit1DR
	StatePauseDR
	StateExit2DR
	StateUpdateDR
	StateSelectIRScan
	StateCaptureIR
	StateShiftIR
	StateExit1IR
	StatePauseIR
	StateExit2IR
	StateUpdateIR

	numStates = 16
)

var stateNames = map[State]string{
	StateTestLogicReset: "TestLogicReset",
	StateRunTestIdle:    "RunTestIdle",
	StateSelectDRScan:   "SelectDRScan",
	StateCaptureDR:      "CaptureDR",
	StateShiftDR:        "ShiftDR",
	StateExit1DR:        "Exit1DR",
	StatePauseDR:        "PauseDR",
	StateExit2DR:        "Exit2DR",
	StateUpdateDR:       "UpdateDR",
	StateSelectIRScan:   "SelectIRScan",
	StateCaptureIR:      "CaptureIR",
	StateShiftIR:        "ShiftIR",
	StateExit1IR:        "Exit1IR",
	StatePauseIR:        "PauseIR",
	StateExit2IR:        "Exit2IR",
	StateUpdateIR:       "UpdateIR",
}

// stateAliases maps the short names used by SVF-style pattern files and the
// command line onto states, in addition to the canonical names above.
var stateAliases = map[string]State{
	"RESET":     StateTestLogicReset,
	"IDLE":      StateRunTestIdle,
	"DRSELECT":  StateSelectDRScan,
	"DRCAPTURE": StateCaptureDR,
	"DRSHIFT":   StateShiftDR,
	"DREXIT1":   StateExit1DR,
	"DRPAUSE":   StatePauseDR,
	"DREXIT2":   StateExit2DR,
	"DRUPDATE":  StateUpdateDR,
	"IRSELECT":  StateSelectIRScan,
	"IRCAPTURE": StateCaptureIR,
	"IRSHIFT":   StateShiftIR,
	"IREXIT1":   StateExit1IR,
	"IRPAUSE":   StatePauseIR,
	"IREXIT2":   StateExit2IR,
	"IRUPDATE":  StateUpdateIR,
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", s)
}

// Code returns the state's wire encoding for GOTO_STATE requests.
func (s State) Code() uint16 {
	return uint16(s)
}

// Valid reports whether s is one of the 16 defined TAP states.
func (s State) Valid() bool {
	return s < numStates
}

// FromCode converts a wire-encoded state number (as returned by GET_STATE)
// back into a State.
func FromCode(code uint16) (State, error) {
	s := State(code)
	if !s.Valid() {
		return 0, fmt.Errorf("tap: state code %d out of range", code)
	}
	return s, nil
}

// ParseState resolves a state name. Both the canonical names (ShiftDR) and
// the short aliases used by pattern files (DRSHIFT, IDLE, RESET) are
// accepted, case-insensitively.
func ParseState(name string) (State, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if s, ok := stateAliases[upper]; ok {
		return s, nil
	}
	for s, canonical := range stateNames {
		if strings.EqualFold(name, canonical) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("tap: unknown state name %q", name)
}

// Sequence captures a TMS drive pattern together with the states the TAP
// controller passes through while it is applied. States[0] is the state
// before the first TCK edge, so len(States) == len(TMS)+1.
type Sequence struct {
	TMS    []bool
	States []State
}

type stateTransitions struct {
	onZero State
	onOne  State
}

var transitions = map[State]stateTransitions{
	StateTestLogicReset: {onZero: StateRunTestIdle, onOne: StateTestLogicReset},
	StateRunTestIdle:    {onZero: StateRunTestIdle, onOne: StateSelectDRScan},
	StateSelectDRScan:   {onZero: StateCaptureDR, onOne: StateSelectIRScan},
	StateCaptureDR:      {onZero: StateShiftDR, onOne: StateExit1DR},
	StateShiftDR:        {onZero: StateShiftDR, onOne: StateExit1DR},
	StateExit1DR:        {onZero: StatePauseDR, onOne: StateUpdateDR},
	StatePauseDR:        {onZero: StatePauseDR, onOne: StateExit2DR},
	StateExit2DR:        {onZero: StateShiftDR, onOne: StateUpdateDR},
	StateUpdateDR:       {onZero: StateRunTestIdle, onOne: StateSelectDRScan},
	StateSelectIRScan:   {onZero: StateCaptureIR, onOne: StateTestLogicReset},
	StateCaptureIR:      {onZero: StateShiftIR, onOne: StateExit1IR},
	StateShiftIR:        {onZero: StateShiftIR, onOne: StateExit1IR},
	StateExit1IR:        {onZero: StatePauseIR, onOne: StateUpdateIR},
	StatePauseIR:        {onZero: StatePauseIR, onOne: StateExit2IR},
	StateExit2IR:        {onZero: StateShiftIR, onOne: StateUpdateIR},
	StateUpdateIR:       {onZero: StateRunTestIdle, onOne: StateSelectDRScan},
}

// NextState returns the TAP state reached by clocking TCK once with the given
// TMS value. It panics on an undefined state, which cannot happen through the
// exported API.
func NextState(current State, tms bool) State {
	row, ok := transitions[current]
	if !ok {
		panic(fmt.Sprintf("tap: unhandled state %d", current))
	}
	if tms {
		return row.onOne
	}
	return row.onZero
}

// StateMachine tracks the TAP controller state locally. It performs no I/O;
// the scan-chain layer applies the same transitions it asks the probe for, so
// host and firmware stay in lockstep.
type StateMachine struct {
	state State
}

// NewStateMachine creates a TAP state machine initialized to Test-Logic-Reset.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateTestLogicReset}
}

// State reports the current TAP state tracked by the machine.
func (m *StateMachine) State() State {
	return m.state
}

// SetState forces the tracked state, used when the probe reports its actual
// state after an interface restart.
func (m *StateMachine) SetState(s State) {
	m.state = s
}

// Clock advances the machine one TCK cycle with the provided TMS bit and
// returns the new state.
func (m *StateMachine) Clock(tms bool) State {
	next := NextState(m.state, tms)
	m.state = next
	return next
}

// Reset applies the IEEE recommendation of clocking five consecutive TMS=1
// cycles, which reaches Test-Logic-Reset from any state. The sequence is
// returned so it can be forwarded to hardware.
func (m *StateMachine) Reset() Sequence {
	seq := Sequence{
		TMS:    make([]bool, 5),
		States: make([]State, 6),
	}
	seq.States[0] = m.state
	for i := 0; i < 5; i++ {
		seq.TMS[i] = true
		seq.States[i+1] = m.Clock(true)
	}
	return seq
}

// GoTo computes the minimal sequence of TMS values needed to reach the target
// state from the current state. It updates the machine as a side effect and
// returns the generated sequence, whose intermediate states matter: passing
// through Update-DR latches a pending data register, while a route through
// Pause does not.
func (m *StateMachine) GoTo(target State) (Sequence, error) {
	path, err := computePath(m.state, target)
	if err != nil {
		return Sequence{}, err
	}
	for _, bit := range path.TMS {
		m.Clock(bit)
	}
	return path, nil
}

// computePath uses BFS across the TAP state diagram to find the shortest set
// of transitions between two states.
func computePath(from, to State) (Sequence, error) {
	if _, ok := transitions[from]; !ok {
		return Sequence{}, fmt.Errorf("tap: invalid start state %d", from)
	}
	if _, ok := transitions[to]; !ok {
		return Sequence{}, fmt.Errorf("tap: invalid target state %d", to)
	}
	if from == to {
		return Sequence{States: []State{from}}, nil
	}

	type node struct {
		state  State
		tms    []bool
		states []State
	}

	queue := []node{{
		state:  from,
		tms:    nil,
		states: []State{from},
	}}
	visited := map[State]struct{}{from: {}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		nextStates := []struct {
			bit  bool
			next State
		}{
			{bit: false, next: NextState(current.state, false)},
			{bit: true, next: NextState(current.state, true)},
		}

		for _, candidate := range nextStates {
			if _, seen := visited[candidate.next]; seen {
				continue
			}

			newTMS := append(append([]bool{}, current.tms...), candidate.bit)
			newStates := append(append([]State{}, current.states...), candidate.next)

			if candidate.next == to {
				return Sequence{
					TMS:    newTMS,
					States: newStates,
				}, nil
			}

			visited[candidate.next] = struct{}{}
			queue = append(queue, node{
				state:  candidate.next,
				tms:    newTMS,
				states: newStates,
			})
		}
	}

	return Sequence{}, fmt.Errorf("tap: no path from %s to %s", from, to)
}
