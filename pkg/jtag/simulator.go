package jtag

import (
	"fmt"
	"time"

	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/tap"
)

// TAPModel is the device side of a simulated scan chain. The simulator calls
// the Capture/Update hooks as its TAP passes through the matching states and
// the Shift hooks once per TCK cycle inside a shift state.
//
// A Shift call presents the register's head bit as TDO, shifts the register
// one position toward TDO and inserts tdi at the tail, mirroring what a real
// device does on a TCK rising edge.
type TAPModel interface {
	Reset()
	CaptureIR()
	ShiftIR(tdi bool) (tdo bool)
	UpdateIR()
	CaptureDR()
	ShiftDR(tdi bool) (tdo bool)
	UpdateDR()
}

// SimTransport emulates the probe firmware well enough to exercise every
// chain operation without hardware: scan buffers, the TAP state machine and
// the full JTAG vendor request set, wired to a pluggable device model.
// Without a model, TDO loops back TDI.
type SimTransport struct {
	Model TAPModel

	// OnRequest, when set, runs before each request and can inject
	// failures.
	OnRequest func(request uint8, value, index uint16) error

	sm     *tap.StateMachine
	outBuf []byte
	inBuf  []byte

	started      int
	stopped      int
	scans        int
	bitbangScans int
	clocked      int
	indicators   []uint16
}

// NewSimTransport builds a simulated probe around the given device model
// (which may be nil for pure loopback).
func NewSimTransport(model TAPModel) *SimTransport {
	return &SimTransport{Model: model, sm: tap.NewStateMachine()}
}

// TAPState exposes the simulated TAP state for assertions.
func (s *SimTransport) TAPState() tap.State { return s.sm.State() }

// Counters for test assertions.
func (s *SimTransport) Started() int { return s.started }

func (s *SimTransport) Stopped() int { return s.stopped }

func (s *SimTransport) Scans() int { return s.scans }

func (s *SimTransport) BitbangScans() int { return s.bitbangScans }

func (s *SimTransport) ClockedCycles() int { return s.clocked }

func (s *SimTransport) Indicators() []uint16 { return append([]uint16(nil), s.indicators...) }

func (s *SimTransport) SetIndicator(pattern uint16) {
	s.indicators = append(s.indicators, pattern)
}

func (s *SimTransport) OutRequest(request uint8, value, index uint16, data []byte, _ time.Duration) error {
	if s.OnRequest != nil {
		if err := s.OnRequest(request, value, index); err != nil {
			return err
		}
	}
	switch request {
	case requestStart:
		s.started++
		return nil
	case requestStop:
		s.stopped++
		return nil
	case requestClearOutBuffer:
		s.outBuf = nil
		return nil
	case requestSetOutBuffer:
		if len(data) > bufferBytes {
			return fmt.Errorf("simulator: scan buffer overflow (%d bytes)", len(data))
		}
		s.outBuf = append([]byte(nil), data...)
		return nil
	case requestScan:
		return s.scan(int(value), index)
	case requestRunClock:
		return s.runClock(int(value))
	case requestGotoState:
		target, err := tap.FromCode(value)
		if err != nil {
			return err
		}
		return s.gotoState(target)
	default:
		return fmt.Errorf("simulator: unhandled OUT request 0x%02X", request)
	}
}

func (s *SimTransport) InRequest(request uint8, value, index uint16, length int, _ time.Duration) ([]byte, error) {
	if s.OnRequest != nil {
		if err := s.OnRequest(request, value, index); err != nil {
			return nil, err
		}
	}
	switch request {
	case requestGetInBuffer:
		n := length
		if n > len(s.inBuf) {
			n = len(s.inBuf)
		}
		return append([]byte(nil), s.inBuf[:n]...), nil
	case requestGetState:
		return []byte{byte(s.sm.State().Code())}, nil
	default:
		return nil, fmt.Errorf("simulator: unhandled IN request 0x%02X", request)
	}
}

// gotoState walks the simulated TAP through every intermediate state so the
// model sees the same capture and update edges real hardware would generate.
func (s *SimTransport) gotoState(target tap.State) error {
	seq, err := s.sm.GoTo(target)
	if err != nil {
		return err
	}
	for i, st := range seq.States {
		if i == 0 {
			continue // starting state, already entered
		}
		s.enterState(st)
	}
	return nil
}

func (s *SimTransport) enterState(st tap.State) {
	if s.Model == nil {
		return
	}
	switch st {
	case tap.StateTestLogicReset:
		s.Model.Reset()
	case tap.StateCaptureIR:
		s.Model.CaptureIR()
	case tap.StateCaptureDR:
		s.Model.CaptureDR()
	case tap.StateUpdateIR:
		s.Model.UpdateIR()
	case tap.StateUpdateDR:
		s.Model.UpdateDR()
	}
}

func (s *SimTransport) scan(bits int, flags uint16) error {
	if bits <= 0 {
		return fmt.Errorf("simulator: scan of %d bits", bits)
	}
	if (bits+7)/8 > len(s.outBuf) {
		return fmt.Errorf("simulator: scan of %d bits exceeds %d-byte out buffer", bits, len(s.outBuf))
	}
	state := s.sm.State()
	isIR := state == tap.StateShiftIR
	if !isIR && state != tap.StateShiftDR {
		return fmt.Errorf("simulator: scan outside a shift state (%s)", state)
	}

	in := make([]byte, (bits+7)/8)
	for i := 0; i < bits; i++ {
		tdi := s.outBuf[i/8]&(1<<(uint(i)%8)) != 0
		tdo := tdi // loopback without a model
		if s.Model != nil {
			if isIR {
				tdo = s.Model.ShiftIR(tdi)
			} else {
				tdo = s.Model.ShiftDR(tdi)
			}
		}
		if tdo {
			in[i/8] |= 1 << (uint(i) % 8)
		}
		if i == bits-1 && flags&scanFlagAdvanceState != 0 {
			s.sm.Clock(true) // Shift -> Exit1, no model edge
		}
	}
	s.inBuf = in

	s.scans++
	if flags&scanFlagForceBitbang != 0 {
		s.bitbangScans++
	}
	return nil
}

// runClock pulses TCK in the current state. The engine only does this from
// Run-Test/Idle, where the state self-loops with TMS low.
func (s *SimTransport) runClock(cycles int) error {
	if s.sm.State() != tap.StateRunTestIdle {
		return fmt.Errorf("simulator: run-clock in %s", s.sm.State())
	}
	s.clocked += cycles
	return nil
}
