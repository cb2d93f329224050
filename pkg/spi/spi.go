// Package spi talks to gateware debug registers over the probe's SPI bridge.
//
// Two links carry the same register protocol: the dedicated debug SPI bus of
// early board revisions, handled here, and a tunnel through the FPGA's JTAG
// ER1 register for boards without one (pkg/ecp5). The framing helpers are
// shared so both speak identical frames.
package spi

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Transport is the vendor-request channel the connection drives.
// debugger.Device implements it.
type Transport interface {
	OutRequest(request uint8, value, index uint16, data []byte, timeout time.Duration) error
	InRequest(request uint8, value, index uint16, length int, timeout time.Duration) ([]byte, error)
}

// Vendor requests implemented by the probe's debug SPI engine.
const (
	requestSendSPI      = 0x50
	requestReadResponse = 0x51
)

// flagInvertCS, carried in wValue, asks the firmware to drive chip select
// active-high.
const flagInvertCS = 1 << 0

// Long transfers clock out at SPI speeds; give them room.
const transferTimeout = 3 * time.Second

// Transferer moves raw bytes over a full-duplex serial link, returning the
// bytes clocked back during the same transaction.
type Transferer interface {
	Transfer(data []byte) ([]byte, error)
}

// Connection is a debug SPI link through the probe. It is not safe for
// concurrent use.
type Connection struct {
	t        Transport
	invertCS bool
}

// Option adjusts connection behavior.
type Option func(*Connection)

// WithInvertedCS drives chip select active-high, which some gateware
// debug cores expect.
func WithInvertedCS() Option {
	return func(c *Connection) { c.invertCS = true }
}

// NewConnection wraps a transport in a debug SPI connection.
func NewConnection(t Transport, opts ...Option) *Connection {
	c := &Connection{t: t}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transfer clocks data out over the debug SPI bus and returns the bytes
// received in exchange.
func (c *Connection) Transfer(data []byte) ([]byte, error) {
	var flags uint16
	if c.invertCS {
		flags |= flagInvertCS
	}
	if err := c.t.OutRequest(requestSendSPI, flags, 0, data, transferTimeout); err != nil {
		return nil, fmt.Errorf("spi: transfer of %d bytes failed: %w", len(data), err)
	}
	resp, err := c.t.InRequest(requestReadResponse, 0, 0, len(data), transferTimeout)
	if err != nil {
		return nil, fmt.Errorf("spi: response read failed: %w", err)
	}
	if len(resp) < len(data) {
		return nil, fmt.Errorf("spi: short response (%d of %d bytes)", len(resp), len(data))
	}
	return resp, nil
}

// RegisterRead reads a gateware debug register.
func (c *Connection) RegisterRead(address uint8) (uint32, error) {
	return ReadRegister(c, address)
}

// RegisterWrite writes a gateware debug register.
func (c *Connection) RegisterWrite(address uint8, value uint32) error {
	return WriteRegister(c, address, value)
}

// Register frames are five bytes: a command byte holding the write flag and
// a 7-bit address, then a 32-bit big-endian value (ignored on reads). The
// gateware answers with the register value in the last four bytes.
const (
	registerWriteFlag  = 0x80
	registerAddressMax = 0x7F
)

// EncodeRegisterRead builds the frame that reads the given debug register.
func EncodeRegisterRead(address uint8) []byte {
	return []byte{address & registerAddressMax, 0, 0, 0, 0}
}

// EncodeRegisterWrite builds the frame that writes value to the given debug
// register.
func EncodeRegisterWrite(address uint8, value uint32) []byte {
	frame := make([]byte, 5)
	frame[0] = address&registerAddressMax | registerWriteFlag
	binary.BigEndian.PutUint32(frame[1:], value)
	return frame
}

// DecodeRegisterValue extracts the register value from a response frame.
func DecodeRegisterValue(resp []byte) (uint32, error) {
	if len(resp) < 4 {
		return 0, fmt.Errorf("spi: register response too short (%d bytes)", len(resp))
	}
	return binary.BigEndian.Uint32(resp[len(resp)-4:]), nil
}

// ReadRegister reads a debug register over any register-capable link.
func ReadRegister(link Transferer, address uint8) (uint32, error) {
	resp, err := link.Transfer(EncodeRegisterRead(address))
	if err != nil {
		return 0, err
	}
	return DecodeRegisterValue(resp)
}

// WriteRegister writes a debug register over any register-capable link.
func WriteRegister(link Transferer, address uint8, value uint32) error {
	_, err := link.Transfer(EncodeRegisterWrite(address, value))
	return err
}
