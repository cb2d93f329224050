// Package ecp5 configures and flashes Lattice ECP5 FPGAs over a JTAG chain.
//
// The engine drives the ECP5's configuration logic with the slave-JTAG
// command set: opcodes shifted through the instruction register, operands
// and responses through the data register, progress tracked with
// LSC_CHECK_BUSY and LSC_READ_STATUS. On top of that sit three access paths
// into a running board: background SPI transfers into the configuration
// flash, the gateware's meta-JTAG register file, and a tunnel for the debug
// SPI protocol through the ER1 register.
//
// Callers hold the chain acquisition for the duration of any operation;
// nothing here acquires or releases the chain itself.
package ecp5

import (
	"encoding/binary"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/bitvec"
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/debugger"
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/idcode"
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/jtag"
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/tap"
)

// Programmer is the capability surface shared by ECP5 configuration
// backends. JTAGProgrammer implements it over a scan chain; slave SPI and
// master serial backends would implement the same surface over their own
// links.
type Programmer interface {
	ReadID() (uint32, error)
	ReadStatus() (Status, error)
	PartName() (string, error)
	Configure(bitstream []byte) error
	Unconfigure() error
	TriggerReconfiguration() error
}

// FlashAccess is the optional capability of programmers that can reach the
// configuration flash behind the FPGA.
type FlashAccess interface {
	ReadFlashID() (FlashID, error)
	EraseFlash() error
	Flash(bitstream []byte, opts ...FlashOption) error
	ReadFlash(length int, opts ...FlashOption) ([]byte, error)
}

// Busy-poll defaults. Ordinary commands settle in well under a second;
// full-chip flash erases are specified up to two minutes.
const (
	DefaultCommandTimeout = 1 * time.Second
	DefaultFlashTimeout   = 1 * time.Second
	DefaultEraseTimeout   = 120 * time.Second
)

const (
	busyPollInterval  = 10 * time.Millisecond
	flashPollInterval = 100 * time.Microsecond

	// TN1260 recommends 50ms after REFRESH for SRAM clearing.
	refreshSettleTime = 50 * time.Millisecond
)

// JTAGProgrammer drives an ECP5 through its slave JTAG interface.
type JTAGProgrammer struct {
	chain *jtag.Chain

	commandTimeout time.Duration
	flashTimeout   time.Duration
	eraseTimeout   time.Duration
	flashReset     bool
	progress       func(done, total int)

	partID uint32
}

// Option adjusts programmer behavior.
type Option func(*JTAGProgrammer)

// WithCommandTimeout bounds the busy-poll after long-running configuration
// commands.
func WithCommandTimeout(d time.Duration) Option {
	return func(p *JTAGProgrammer) { p.commandTimeout = d }
}

// WithFlashTimeout bounds the busy-poll after flash page writes.
func WithFlashTimeout(d time.Duration) Option {
	return func(p *JTAGProgrammer) { p.flashTimeout = d }
}

// WithEraseTimeout bounds the busy-poll after a full-chip flash erase.
func WithEraseTimeout(d time.Duration) Option {
	return func(p *JTAGProgrammer) { p.eraseTimeout = d }
}

// WithProgress installs a callback invoked after every flash page
// transferred, with byte counts.
func WithProgress(fn func(done, total int)) Option {
	return func(p *JTAGProgrammer) { p.progress = fn }
}

// WithoutFlashReset skips the reset sequence normally sent to the flash
// when taking over its SPI bus.
func WithoutFlashReset() Option {
	return func(p *JTAGProgrammer) { p.flashReset = false }
}

// NewJTAGProgrammer builds a programmer on top of an acquired chain.
func NewJTAGProgrammer(chain *jtag.Chain, opts ...Option) *JTAGProgrammer {
	p := &JTAGProgrammer{
		chain:          chain,
		commandTimeout: DefaultCommandTimeout,
		flashTimeout:   DefaultFlashTimeout,
		eraseTimeout:   DefaultEraseTimeout,
		flashReset:     true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Chain exposes the underlying scan chain.
func (p *JTAGProgrammer) Chain() *jtag.Chain { return p.chain }

// command describes one configuration command: the opcode, an optional
// operand or response shift, and what bookkeeping follows.
type command struct {
	op      Opcode
	data    *bitvec.Vector // operand shifted into the data register
	receive int            // response bits clocked out instead
	wait    bool           // poll LSC_CHECK_BUSY until the device settles
	check   bool           // read and validate status afterwards
}

// execute issues one command. The opcode latches when the data shift (or
// the next state move) passes Update; operand and response travel through
// the data register in a single scan.
func (p *JTAGProgrammer) execute(cmd command) (*bitvec.Vector, error) {
	log.Tracef("executing %s", cmd.op)

	if _, err := p.chain.ShiftInstruction(bitvec.FromUint(uint64(cmd.op), 8), tap.StatePauseIR); err != nil {
		return nil, fmt.Errorf("ecp5: %s: %w", cmd.op, err)
	}

	var captured *bitvec.Vector
	var err error
	switch {
	case cmd.data != nil:
		_, err = p.chain.ShiftData(cmd.data, tap.StatePauseDR)
	case cmd.receive > 0:
		captured, err = p.chain.ShiftData(bitvec.New(cmd.receive), tap.StatePauseDR)
	default:
		// An opcode only takes effect once the TAP passes Update-IR.
		// With no data phase to carry it there, park in Run-Test/Idle;
		// otherwise a following instruction shift would resume through
		// Exit2-IR and overwrite the opcode before it ever latched.
		err = p.chain.MoveToState(tap.StateRunTestIdle)
	}
	if err != nil {
		return nil, fmt.Errorf("ecp5: %s: %w", cmd.op, err)
	}

	if cmd.wait {
		if err := p.waitForCompletion(cmd.op); err != nil {
			return nil, err
		}
	}
	if cmd.check {
		if err := p.checkStatus(statusExpectation{}); err != nil {
			return nil, err
		}
	}
	return captured, nil
}

// ReadID returns the identification code of the attached ECP5.
func (p *JTAGProgrammer) ReadID() (uint32, error) {
	captured, err := p.execute(command{op: OpReadID, receive: 32})
	if err != nil {
		return 0, err
	}
	return captured.Uint32(), nil
}

// PartName returns a descriptive name for the attached FPGA.
func (p *JTAGProgrammer) PartName() (string, error) {
	id, err := p.ReadID()
	if err != nil {
		return "", err
	}
	info := idcode.Lookup(id)
	if info.Family == "" {
		return fmt.Sprintf("Unrecognized FPGA (%08x)", id), nil
	}
	return info.Name, nil
}

// ReadStatus reads the configuration status register. The register shifts
// out high byte first.
func (p *JTAGProgrammer) ReadStatus() (Status, error) {
	captured, err := p.execute(command{op: OpLSCReadStatus, receive: 32})
	if err != nil {
		return 0, err
	}
	return Status(binary.BigEndian.Uint32(captured.Bytes(bitvec.Little))), nil
}

// ReadUsercode reads the 32-bit usercode of the configured design.
func (p *JTAGProgrammer) ReadUsercode() (uint32, error) {
	captured, err := p.execute(command{op: OpReadUsercode, receive: 32, check: true})
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(captured.Bytes(bitvec.Little)), nil
}

// busy asks the configuration logic whether it is still processing.
func (p *JTAGProgrammer) busy() (bool, error) {
	captured, err := p.execute(command{op: OpLSCCheckBusy, receive: 8})
	if err != nil {
		return false, err
	}
	return captured.Bit(0), nil
}

// waitForCompletion polls LSC_CHECK_BUSY until the device settles or the
// command timeout expires.
func (p *JTAGProgrammer) waitForCompletion(op Opcode) error {
	deadline := time.Now().Add(p.commandTimeout)
	for {
		busy, err := p.busy()
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
		if time.Now().After(deadline) {
			return &TimeoutError{Op: op.String(), Timeout: p.commandTimeout}
		}
		time.Sleep(busyPollInterval)
	}
}

// statusExpectation selects which status conditions count as failure.
type statusExpectation struct {
	expectDone     bool // configuration must have asserted DONE
	expectISC      bool // configuration mode must be active
	continueAnyway bool // log problems instead of failing
}

// checkStatus reads the status register and validates it.
func (p *JTAGProgrammer) checkStatus(expect statusExpectation) error {
	status, err := p.ReadStatus()
	if err != nil {
		return err
	}
	return validateStatus(status, expect)
}

func validateStatus(status Status, expect statusExpectation) error {
	report := func(reason string) error {
		err := &StatusError{Reason: reason, Status: status}
		if expect.continueAnyway {
			log.Warnf("%v (continuing)", err)
			return nil
		}
		return err
	}

	if status != 0 {
		log.Tracef("status: %s", status)
	}

	if status&StatusFail != 0 {
		if err := report("failed to execute last command"); err != nil {
			return err
		}
	}
	if status&StatusIDError != 0 {
		if err := report("failed to verify device IDCODE"); err != nil {
			return err
		}
	}
	if status&StatusInvalidCommand != 0 {
		if err := report("last command was invalid"); err != nil {
			return err
		}
	}
	if expect.expectDone && status&StatusDone == 0 {
		if err := report("configuration did not assert DONE"); err != nil {
			return err
		}
	}
	if expect.expectISC && status&StatusISCEnabled == 0 {
		if err := report("failed to enter configuration mode"); err != nil {
			return err
		}
	}
	return nil
}

// capturePartID reads and stores the part ID, rejecting the values a broken
// or absent connection produces.
func (p *JTAGProgrammer) capturePartID() error {
	id, err := p.ReadID()
	if err != nil {
		return err
	}
	if id == 0 || id == 0xFFFFFFFF {
		return &ProtocolError{
			Op:     "configure",
			Detail: fmt.Sprintf("could not detect a connected FPGA (ID %08x), check your wiring", id),
		}
	}
	p.partID = id
	log.Debugf("attached FPGA: %s", idcode.Lookup(id).Name)
	return nil
}

// restartConfiguration is the JTAG equivalent of strobing PROGRAMN: it
// issues LSC_REFRESH and gives the device time to clear its SRAM.
func (p *JTAGProgrammer) restartConfiguration() error {
	if _, err := p.execute(command{op: OpLSCRefresh, wait: true}); err != nil {
		return err
	}
	time.Sleep(refreshSettleTime)
	return nil
}

// allowConfigurationTime parks the TAP where the configuration logic can
// finish absorbing a burst.
func (p *JTAGProgrammer) allowConfigurationTime() error {
	if _, err := p.chain.ShiftInstruction(bitvec.FromUint(uint64(OpNoOp), 8), tap.StatePauseIR); err != nil {
		return err
	}
	return p.chain.RunTest(100)
}

// Configure loads a bitstream into the FPGA's SRAM and starts the design.
//
// The bitstream is sent through LSC_BITSTREAM_BURST with the whole vector
// reversed, which presents each byte MSB-first the way the configuration
// logic expects it in master SPI mode.
func (p *JTAGProgrammer) Configure(bitstream []byte) error {
	prepared := bitvec.FromBytes(bitstream, bitvec.Big).ReverseBits()

	t := p.chain.Transport()
	t.SetIndicator(debugger.LEDPatternUpload)
	defer t.SetIndicator(debugger.LEDPatternIdle)

	// Restarting configuration also clears out any previous bitstream.
	if err := p.restartConfiguration(); err != nil {
		return err
	}
	if err := p.capturePartID(); err != nil {
		return err
	}

	// Scrub the boundary register before touching configuration.
	if _, err := p.execute(command{op: OpPreload, data: bitvec.Ones(510)}); err != nil {
		return err
	}

	// Enable configuration mode.
	if _, err := p.execute(command{op: OpISCEnable, data: bitvec.FromUint(0x00, 8)}); err != nil {
		return err
	}
	if err := p.chain.RunTest(2); err != nil {
		return err
	}
	if err := p.checkStatus(statusExpectation{expectISC: true}); err != nil {
		return err
	}

	// Erase the device's SRAM.
	if _, err := p.execute(command{op: OpISCErase, data: bitvec.FromUint(0x01, 8), wait: true, check: true}); err != nil {
		return err
	}
	if err := p.chain.RunTest(2); err != nil {
		return err
	}
	if err := p.checkStatus(statusExpectation{continueAnyway: true}); err != nil {
		return err
	}

	if _, err := p.execute(command{op: OpLSCSetWorkingAddress, data: bitvec.FromUint(0x01, 8), check: true}); err != nil {
		return err
	}

	// The burst is essentially executing every command in the bitstream.
	if _, err := p.execute(command{op: OpLSCBitstreamBurst, data: prepared}); err != nil {
		return err
	}
	if err := p.allowConfigurationTime(); err != nil {
		return err
	}
	if err := p.checkStatus(statusExpectation{expectDone: true}); err != nil {
		return err
	}

	// Leave configuration mode and let the design start.
	if _, err := p.execute(command{op: OpISCDisable}); err != nil {
		return err
	}
	if err := p.chain.RunTest(2); err != nil {
		return err
	}
	return p.checkStatus(statusExpectation{expectDone: true})
}

// Unconfigure erases the FPGA's SRAM, returning the device to its
// unconfigured state.
func (p *JTAGProgrammer) Unconfigure() error {
	if err := p.restartConfiguration(); err != nil {
		return err
	}
	if _, err := p.execute(command{op: OpISCEnable, data: bitvec.FromUint(0x00, 8)}); err != nil {
		return err
	}
	if err := p.chain.RunTest(2); err != nil {
		return err
	}
	if _, err := p.execute(command{op: OpISCErase, data: bitvec.FromUint(0x01, 8), wait: true, check: true}); err != nil {
		return err
	}
	if err := p.chain.RunTest(2); err != nil {
		return err
	}
	if _, err := p.execute(command{op: OpISCDisable, check: true}); err != nil {
		return err
	}
	return p.chain.RunTest(2)
}

// TriggerReconfiguration asks the FPGA to reconfigure itself, typically
// from its flash.
func (p *JTAGProgrammer) TriggerReconfiguration() error {
	if err := p.restartConfiguration(); err != nil {
		return err
	}
	return p.chain.RunTest(2)
}
