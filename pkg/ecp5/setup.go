package ecp5

import (
	"errors"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/jtag"
)

// ErrUnsupportedBoard reports hardware this driver carries no programming
// backend for.
var ErrUnsupportedBoard = errors.New("ecp5: board not supported")

// Board describes the debug controller hardware a session is talking to.
// debugger.Device satisfies it.
type Board interface {
	HardwareRevision() (major, minor uint8)
	IsExternalBoard() bool
	HasDedicatedDebugSPI() bool
}

// externalProgrammers maps an external board's minor revision to its
// programmer constructor. The set is closed: the firmware only ships on
// boards we know, so an unlisted minor means a driver too old for the
// hardware rather than something to guess at.
var externalProgrammers = map[uint8]func(*JTAGProgrammer) Programmer{
	// Daisho (minor 0) carries an Intel FPGA; no backend for it here.
	2: func(p *JTAGProgrammer) Programmer { return p }, // QT Py-driven ECP5
}

// CreateProgrammer selects the configuration backend for the board behind
// the chain. Cynthion-class hardware always carries an ECP5 on slave JTAG;
// external boards are looked up by their minor revision.
func CreateProgrammer(board Board, chain *jtag.Chain, opts ...Option) (Programmer, error) {
	base := NewJTAGProgrammer(chain, opts...)
	if !board.IsExternalBoard() {
		return base, nil
	}
	_, minor := board.HardwareRevision()
	build, ok := externalProgrammers[minor]
	if !ok {
		return nil, fmt.Errorf("%w: external board minor %d has no programming backend", ErrUnsupportedBoard, minor)
	}
	return build(base), nil
}

// CreateJTAGSPI builds the JTAG-tunneled debug SPI connection and meta-JTAG
// register bridge for boards that route debug SPI through the FPGA. Boards
// with a dedicated debug SPI bus (and external boards, whose gateware is
// unknown) return ok == false; their callers fall back to pkg/spi or do
// without.
func CreateJTAGSPI(board Board, chain *jtag.Chain) (conn *JTAGSPIConnection, regs *Registers, ok bool) {
	if board.IsExternalBoard() || board.HasDedicatedDebugSPI() {
		return nil, nil, false
	}
	return NewJTAGSPIConnection(chain), NewRegisters(chain), true
}
