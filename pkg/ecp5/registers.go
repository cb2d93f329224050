package ecp5

import (
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/bitvec"
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/jtag"
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/tap"
)

// maxRegisterWidth bounds the meta-JTAG width probe. Gateware registers are
// shorter than this; anything reported at the limit is treated as absent.
const maxRegisterWidth = 128

// registerSettleCycles is how long each shift idles afterwards so the
// gateware can act on it.
const registerSettleCycles = 32

// Registers speaks the addressed-register protocol some gateware exposes
// through the ECP5's ER1/ER2 JTAG paths: ER1 carries an address word with a
// write flag in its top bit, ER2 carries the value.
//
// Word widths are negotiated at first use. The registers power up holding
// all ones, so shifting zeros through each path and counting the ones that
// come back measures its width.
type Registers struct {
	chain *jtag.Chain

	instructionWidth int
	dataWidth        int
}

// NewRegisters builds a register bridge on top of an acquired chain.
func NewRegisters(chain *jtag.Chain) *Registers {
	return &Registers{chain: chain}
}

// InstructionWidth reports the negotiated address-word width, or zero before
// the first transaction.
func (r *Registers) InstructionWidth() int { return r.instructionWidth }

// DataWidth reports the negotiated value-word width, or zero before the
// first transaction.
func (r *Registers) DataWidth() int { return r.dataWidth }

// DetectWidths probes and validates both register widths. Transactions run
// it automatically on first use; calling it directly re-negotiates.
func (r *Registers) DetectWidths() error {
	if err := r.chain.MoveToState(tap.StateTestLogicReset); err != nil {
		return err
	}

	// Data width must be probed first: an instruction shift latches its
	// probe word as a pending instruction, and the data path then captures
	// register contents instead of the width preload.
	dataWidth, err := r.widthOf(OpER2)
	if err != nil {
		return err
	}
	instructionWidth, err := r.widthOf(OpER1)
	if err != nil {
		return err
	}

	if instructionWidth == 0 || instructionWidth >= maxRegisterWidth || instructionWidth%8 != 0 ||
		dataWidth == 0 || dataWidth >= maxRegisterWidth || dataWidth%8 != 0 {
		return &MismatchError{Detail: "failed to autonegotiate meta-JTAG address/register size"}
	}

	r.instructionWidth = instructionWidth
	r.dataWidth = dataWidth
	return nil
}

// widthOf counts the all-ones preload of one register path.
func (r *Registers) widthOf(op Opcode) (int, error) {
	if _, err := r.chain.ShiftInstruction(bitvec.FromUint(uint64(op), 8), tap.StatePauseIR); err != nil {
		return 0, err
	}
	captured, err := r.chain.ShiftData(bitvec.New(maxRegisterWidth), tap.StatePauseDR)
	if err != nil {
		return 0, err
	}
	return captured.LeadingOnes(), nil
}

func (r *Registers) ensureWidths() error {
	if r.instructionWidth != 0 && r.dataWidth != 0 {
		return nil
	}
	return r.DetectWidths()
}

// shiftWithOpcode targets the register path selected by op, exchanges one
// word through it, and idles so the gateware can process the result.
func (r *Registers) shiftWithOpcode(op Opcode, word *bitvec.Vector) (*bitvec.Vector, error) {
	if _, err := r.chain.ShiftInstruction(bitvec.FromUint(uint64(op), 8), tap.StatePauseIR); err != nil {
		return nil, err
	}
	captured, err := r.chain.ShiftData(word, tap.StatePauseDR)
	if err != nil {
		return nil, err
	}
	if err := r.chain.RunTest(registerSettleCycles); err != nil {
		return nil, err
	}
	return captured, nil
}

// Transaction performs one addressed register exchange. The value shifted
// out of the data path is returned: the register's contents on a read, its
// previous contents on a write.
func (r *Registers) Transaction(address uint8, value uint64, write bool) (uint64, error) {
	if err := r.ensureWidths(); err != nil {
		return 0, err
	}

	command := bitvec.New(r.instructionWidth)
	for i := 0; i < 8 && i < r.instructionWidth; i++ {
		command.SetBit(i, address&(1<<uint(i)) != 0)
	}
	if write {
		command.SetBit(r.instructionWidth-1, true)
	}

	word := bitvec.New(r.dataWidth)
	for i := 0; i < r.dataWidth && i < 64; i++ {
		word.SetBit(i, value&(1<<uint(i)) != 0)
	}

	if _, err := r.shiftWithOpcode(OpER1, command); err != nil {
		return 0, err
	}
	captured, err := r.shiftWithOpcode(OpER2, word)
	if err != nil {
		return 0, err
	}
	return captured.Uint(), nil
}

// Read returns the value of the addressed register.
func (r *Registers) Read(address uint8) (uint64, error) {
	return r.Transaction(address, 0, false)
}

// Write stores value into the addressed register and returns the register's
// previous contents.
func (r *Registers) Write(address uint8, value uint64) (uint64, error) {
	return r.Transaction(address, value, true)
}
