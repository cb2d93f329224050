// Package jtag drives the debug probe's JTAG engine: a 256-byte scan buffer,
// a TAP state port and a clock runner, all reached through vendor control
// requests.
//
// The probe moves its own TAP state machine when asked to scan or change
// state; the Chain mirrors every transition locally (pkg/tap) so both sides
// agree on the current state without extra round trips.
package jtag

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/bitvec"
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/idcode"
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/tap"
)

// Transport is the vendor-request channel the chain drives. debugger.Device
// implements it; tests substitute a simulated probe.
type Transport interface {
	OutRequest(request uint8, value, index uint16, data []byte, timeout time.Duration) error
	InRequest(request uint8, value, index uint16, length int, timeout time.Duration) ([]byte, error)
	SetIndicator(pattern uint16)
}

// Vendor requests implemented by the probe's JTAG engine.
const (
	requestClearOutBuffer = 0xB0
	requestSetOutBuffer   = 0xB1
	requestGetInBuffer    = 0xB2
	requestScan           = 0xB3
	requestRunClock       = 0xB4
	requestGotoState      = 0xB5
	requestGetState       = 0xB6
	requestStop           = 0xBE
	requestStart          = 0xBF
)

// Scan request flags, carried in wIndex.
const (
	scanFlagAdvanceState = 1 << 0
	scanFlagForceBitbang = 1 << 1
)

// bufferBytes is the size of the firmware's scan buffers. Longer shifts are
// split into chunks of this many bytes.
const bufferBytes = 256

// maxChainDevices bounds enumeration so a stuck TDO line cannot spin us
// forever.
const maxChainDevices = 32

const defaultTimeout = 500 * time.Millisecond

// ErrChainUnresponsive reports a scan chain that only ever returns zeros,
// which usually means the target is unpowered or TDO is stuck.
var ErrChainUnresponsive = errors.New("jtag: scan chain reads all zeros")

// Chain is a TAP controller multiplexed over a debug probe. It is not safe
// for concurrent use; callers serialize access by holding the session
// returned from Acquire.
type Chain struct {
	t       Transport
	sm      *tap.StateMachine
	bitbang bool
}

// NewChain wraps a transport in a chain controller. The TAP state is assumed
// unknown until the first Acquire resets it.
func NewChain(t Transport) *Chain {
	return &Chain{t: t, sm: tap.NewStateMachine()}
}

// Transport returns the underlying control channel, for layers that need
// probe requests outside the JTAG engine (status LEDs, SPI tunneling).
func (c *Chain) Transport() Transport {
	return c.t
}

// State reports the TAP state the chain believes the hardware is in.
func (c *Chain) State() tap.State {
	return c.sm.State()
}

// Acquire starts the probe's JTAG engine and synchronizes the TAP to
// Test-Logic-Reset. The returned release function stops the engine and
// clears any forced bit-bang mode; it must run on every exit path so mode
// state cannot leak into the next session.
func (c *Chain) Acquire() (release func(), err error) {
	if err := c.t.OutRequest(requestStart, 0, 0, nil, defaultTimeout); err != nil {
		return nil, fmt.Errorf("jtag: failed to start interface: %w", err)
	}
	if err := c.MoveToState(tap.StateTestLogicReset); err != nil {
		c.stop()
		return nil, err
	}
	return func() {
		c.bitbang = false
		c.stop()
	}, nil
}

func (c *Chain) stop() {
	if err := c.t.OutRequest(requestStop, 0, 0, nil, defaultTimeout); err != nil {
		log.Debugf("failed to stop JTAG interface: %v", err)
	}
}

// ForceBitbang switches subsequent scans between the probe's accelerated
// shift engine and bit-banged I/O. Some FPGA-internal registers drop bits at
// accelerated speeds, so their users force bit-bang for the duration of a
// transfer.
func (c *Chain) ForceBitbang(enabled bool) {
	c.bitbang = enabled
}

// MoveToState walks the TAP to the target state along the standard
// transition graph, keeping the local mirror and the probe in lockstep.
func (c *Chain) MoveToState(target tap.State) error {
	if !target.Valid() {
		return fmt.Errorf("jtag: invalid TAP state %d", target)
	}
	if err := c.t.OutRequest(requestGotoState, target.Code(), 0, nil, defaultTimeout); err != nil {
		return fmt.Errorf("jtag: failed to enter %s: %w", target, err)
	}
	if _, err := c.sm.GoTo(target); err != nil {
		return err
	}
	log.Tracef("TAP now in %s", target)
	return nil
}

// HardwareState asks the probe which TAP state its engine is in. Useful for
// diagnosing a desynchronized chain.
func (c *Chain) HardwareState() (tap.State, error) {
	raw, err := c.t.InRequest(requestGetState, 0, 0, 1, defaultTimeout)
	if err != nil {
		return 0, fmt.Errorf("jtag: failed to read TAP state: %w", err)
	}
	if len(raw) < 1 {
		return 0, errors.New("jtag: empty TAP state response")
	}
	return tap.FromCode(uint16(raw[0]))
}

// RunTest parks the TAP in Run-Test/Idle and clocks TCK the requested number
// of cycles, which many configuration commands need to make progress.
func (c *Chain) RunTest(cycles int) error {
	if err := c.MoveToState(tap.StateRunTestIdle); err != nil {
		return err
	}
	for cycles > 0 {
		chunk := cycles
		if chunk > 0xFFFF {
			chunk = 0xFFFF
		}
		if err := c.t.OutRequest(requestRunClock, uint16(chunk), 0, nil, defaultTimeout); err != nil {
			return fmt.Errorf("jtag: run-clock failed: %w", err)
		}
		cycles -= chunk
	}
	return nil
}

// ShiftInstruction clocks the opcode vector through the instruction register
// and returns the bits captured from TDO. The TAP ends in stateAfter.
func (c *Chain) ShiftInstruction(opcode *bitvec.Vector, stateAfter tap.State) (*bitvec.Vector, error) {
	return c.shift(tap.StateShiftIR, opcode, stateAfter)
}

// ShiftData clocks the tdi vector through the data register and returns the
// bits captured from TDO. The TAP ends in stateAfter.
func (c *Chain) ShiftData(tdi *bitvec.Vector, stateAfter tap.State) (*bitvec.Vector, error) {
	return c.shift(tap.StateShiftDR, tdi, stateAfter)
}

// ShiftDataOnes shifts all-ones through the data register, which leaves
// BYPASS registers transparent and suits register-width probing.
func (c *Chain) ShiftDataOnes(bits int, stateAfter tap.State) (*bitvec.Vector, error) {
	return c.shift(tap.StateShiftDR, bitvec.Ones(bits), stateAfter)
}

// shift runs one scan through the given shift state, chunked to the probe's
// buffer size. Every chunk is a load/scan/readback triple; the final chunk
// raises TMS on its last bit so the TAP leaves the shift state.
func (c *Chain) shift(shiftState tap.State, tdi *bitvec.Vector, stateAfter tap.State) (*bitvec.Vector, error) {
	total := tdi.Len()
	if total == 0 {
		return bitvec.New(0), nil
	}
	if err := c.MoveToState(shiftState); err != nil {
		return nil, err
	}

	data := tdi.Bytes(bitvec.Little)
	captured := make([]byte, 0, len(data))

	offset := 0 // byte offset into data
	remaining := total
	for remaining > 0 {
		chunkBits := remaining
		if chunkBits > bufferBytes*8 {
			chunkBits = bufferBytes * 8
		}
		chunkBytes := (chunkBits + 7) / 8
		last := chunkBits == remaining

		if err := c.t.OutRequest(requestSetOutBuffer, 0, 0, data[offset:offset+chunkBytes], defaultTimeout); err != nil {
			return nil, fmt.Errorf("jtag: failed to load scan buffer: %w", err)
		}

		flags := uint16(0)
		if last {
			flags |= scanFlagAdvanceState
		}
		if c.bitbang {
			flags |= scanFlagForceBitbang
		}
		if err := c.t.OutRequest(requestScan, uint16(chunkBits), flags, nil, defaultTimeout); err != nil {
			return nil, fmt.Errorf("jtag: scan of %d bits failed: %w", chunkBits, err)
		}

		in, err := c.t.InRequest(requestGetInBuffer, 0, 0, chunkBytes, defaultTimeout)
		if err != nil {
			return nil, fmt.Errorf("jtag: failed to read scan buffer: %w", err)
		}
		if len(in) < chunkBytes {
			return nil, fmt.Errorf("jtag: short scan readback (%d of %d bytes)", len(in), chunkBytes)
		}
		captured = append(captured, in[:chunkBytes]...)

		offset += chunkBytes
		remaining -= chunkBits
	}

	// The advance flag clocked the final bit with TMS high.
	c.sm.Clock(true)

	if err := c.MoveToState(stateAfter); err != nil {
		return nil, err
	}
	return bitvec.FromBytes(captured, bitvec.Little).Slice(0, total), nil
}

// Enumerate resets the chain and reads the identification codes the devices
// preload into their data registers. Devices without an IDCODE power up in
// BYPASS and appear as placeholder entries. An empty chain yields an empty
// slice.
func (c *Chain) Enumerate() ([]Device, error) {
	if err := c.MoveToState(tap.StateTestLogicReset); err != nil {
		return nil, err
	}

	var devices []Device
	zeros := 0
	for len(devices) < maxChainDevices {
		// IEEE 1149.1 tags IDCODE words with a 1 in the first bit; a 0
		// is a single BYPASS bit from an IDCODE-less device.
		marker, err := c.ShiftDataOnes(1, tap.StatePauseDR)
		if err != nil {
			return nil, err
		}
		if !marker.Bit(0) {
			zeros++
			if zeros >= maxChainDevices {
				return nil, ErrChainUnresponsive
			}
			devices = append(devices, Device{Index: len(devices)})
			continue
		}
		zeros = 0

		rest, err := c.ShiftDataOnes(31, tap.StatePauseDR)
		if err != nil {
			return nil, err
		}
		word := rest.Uint32()<<1 | 1
		if word == 0xFFFFFFFF {
			// Our own ones came back: no more devices.
			break
		}
		log.Debugf("found device %d: IDCODE 0x%08X", len(devices), word)
		devices = append(devices, Device{
			Index:  len(devices),
			IDCode: word,
			Info:   idcode.Lookup(word),
		})
	}

	if err := c.MoveToState(tap.StateRunTestIdle); err != nil {
		return nil, err
	}
	return devices, nil
}
