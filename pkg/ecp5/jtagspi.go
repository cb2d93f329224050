package ecp5

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/bitvec"
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/jtag"
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/spi"
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/tap"
)

// JTAGSPIConnection tunnels the debug SPI protocol through one of the
// ECP5's escape registers, for boards whose gateware wires its debug SPI
// endpoint behind ER1 instead of a dedicated hardware link. It satisfies
// spi.Transferer, so the register framing is shared with pkg/spi.
type JTAGSPIConnection struct {
	chain  *jtag.Chain
	opcode Opcode
}

// JTAGSPIOption adjusts the tunnel.
type JTAGSPIOption func(*JTAGSPIConnection)

// WithEscapeOpcode selects which escape register carries the tunnel.
func WithEscapeOpcode(op Opcode) JTAGSPIOption {
	return func(c *JTAGSPIConnection) { c.opcode = op }
}

// NewJTAGSPIConnection builds a tunnel on top of an acquired chain.
func NewJTAGSPIConnection(chain *jtag.Chain, opts ...JTAGSPIOption) *JTAGSPIConnection {
	c := &JTAGSPIConnection{chain: chain, opcode: OpER1}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transfer exchanges one SPI frame through the escape register.
//
// The payload transform matches the background-SPI one: reverse the frame
// wholesale, then present each byte MSB-first. The shift itself runs
// bit-banged, since gateware SPI endpoints drop bits at the accelerated
// shift engine's clock rate.
func (c *JTAGSPIConnection) Transfer(data []byte) ([]byte, error) {
	if _, err := c.chain.ShiftInstruction(bitvec.FromUint(uint64(c.opcode), 8), tap.StatePauseIR); err != nil {
		return nil, fmt.Errorf("ecp5: SPI tunnel: %w", err)
	}

	c.chain.ForceBitbang(true)
	captured, err := c.chain.ShiftData(bitvec.FromBytes(data, bitvec.Big).ReverseBits(), tap.StatePauseDR)
	c.chain.ForceBitbang(false)
	if err != nil {
		return nil, fmt.Errorf("ecp5: SPI tunnel: %w", err)
	}
	return captured.ReverseBits().Bytes(bitvec.Big), nil
}

// RegisterRead reads one debug register through the tunnel.
func (c *JTAGSPIConnection) RegisterRead(address uint8) (uint32, error) {
	return spi.ReadRegister(c, address)
}

// RegisterWrite writes one debug register through the tunnel.
func (c *JTAGSPIConnection) RegisterWrite(address uint8, value uint32) error {
	return spi.WriteRegister(c, address, value)
}
