package ecp5

import (
	"encoding/binary"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/bitvec"
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/tap"
)

// spiUnlockCode is the data-register value that persuades the ECP5 to hand
// its configuration SPI bus over to JTAG.
const spiUnlockCode = 0x68FE

// FlashID identifies the configuration flash behind the FPGA, as reported
// by the JEDEC READ ID command.
type FlashID struct {
	Manufacturer uint8  // JEDEC manufacturer byte
	FullID       uint32 // manufacturer, memory type and capacity bytes
}

// Manufacturer names for the flash parts commonly found behind ECP5 boards.
var flashManufacturerNames = map[uint8]string{
	0x01: "Infineon",
	0x1F: "Renesas",
	0x20: "Micron",
	0x9D: "ISSI",
	0xBF: "Microchip",
	0xC2: "Macronix",
	0xC8: "GigaDevice",
	0xEF: "Winbond",
}

func (id FlashID) String() string {
	if name, ok := flashManufacturerNames[id.Manufacturer]; ok {
		return fmt.Sprintf("%s (%06x)", name, id.FullID)
	}
	return fmt.Sprintf("unknown manufacturer %02x (%06x)", id.Manufacturer, id.FullID)
}

// FlashOption adjusts a single flash operation.
type FlashOption func(*flashConfig)

type flashConfig struct {
	offset           uint32
	eraseFirst       bool
	clearProtections bool
}

// WithOffset starts the operation at the given byte address instead of the
// beginning of the flash.
func WithOffset(offset uint32) FlashOption {
	return func(c *flashConfig) { c.offset = offset }
}

// WithoutErase skips the chip erase normally performed before programming.
func WithoutErase() FlashOption {
	return func(c *flashConfig) { c.eraseFirst = false }
}

// WithProtectionsCleared clears the flash's block protection bits before
// programming.
func WithProtectionsCleared() FlashOption {
	return func(c *flashConfig) { c.clearProtections = true }
}

func newFlashConfig(opts []FlashOption) flashConfig {
	cfg := flashConfig{eraseFirst: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// enterBackgroundSPI hands the configuration SPI bus to JTAG. Unless the
// programmer was built with WithoutFlashReset, it then drags the flash out
// of whatever command it may have been left in.
func (p *JTAGProgrammer) enterBackgroundSPI() error {
	if _, err := p.chain.ShiftInstruction(bitvec.FromUint(uint64(OpLSCEnterBackgroundSPI), 8), tap.StateRunTestIdle); err != nil {
		return fmt.Errorf("ecp5: %s: %w", OpLSCEnterBackgroundSPI, err)
	}
	if _, err := p.chain.ShiftData(bitvec.FromUint(spiUnlockCode, 16), tap.StateRunTestIdle); err != nil {
		return fmt.Errorf("ecp5: SPI unlock: %w", err)
	}
	if err := p.chain.RunTest(1); err != nil {
		return err
	}

	if p.flashReset {
		// A string of NOPs terminates any partially clocked command,
		// then 66h/99h resets the part. The reset needs time to take.
		for _, frame := range [][]byte{
			{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
			{0x66},
			{0x99},
		} {
			if _, err := p.backgroundSPITransfer(frame); err != nil {
				return err
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

// backgroundSPITransfer exchanges one chip-select frame with the
// configuration flash through the JTAG data path.
//
// JTAG shifts are bit-oriented and the flash is byte-oriented, so the frame
// is reversed wholesale before the shift (putting the first byte first) and
// every byte arrives bit-reversed (putting it MSB-first, as SPI expects).
// The captured response undoes the same transform.
func (p *JTAGProgrammer) backgroundSPITransfer(data []byte) ([]byte, error) {
	captured, err := p.chain.ShiftData(bitvec.FromBytes(data, bitvec.Big).ReverseBits(), tap.StateRunTestIdle)
	if err != nil {
		return nil, fmt.Errorf("ecp5: SPI transfer: %w", err)
	}
	return captured.ReverseBits().Bytes(bitvec.Big), nil
}

// requireFlashPresent sends a legacy READ ID and rejects responses that are
// just the bus's idle level.
func (p *JTAGProgrammer) requireFlashPresent() error {
	response, err := p.backgroundSPITransfer([]byte{byte(FlashReadID), 0, 0, 0, 0})
	if err != nil {
		return err
	}
	if id := response[4]; id == 0x00 || id == 0xFF {
		return &ProtocolError{Op: "flash", Detail: "flash does not seem correctly connected to the FPGA"}
	}
	return nil
}

// ReadFlashID reads the JEDEC identifier of the configuration flash.
func (p *JTAGProgrammer) ReadFlashID() (FlashID, error) {
	if err := p.enterBackgroundSPI(); err != nil {
		return FlashID{}, err
	}
	response, err := p.backgroundSPITransfer([]byte{byte(FlashReadJEDECID), 0, 0, 0})
	if err != nil {
		return FlashID{}, err
	}
	return FlashID{
		Manufacturer: response[1],
		FullID:       uint32(response[1])<<16 | uint32(response[2])<<8 | uint32(response[3]),
	}, nil
}

// ReadFlashUID reads the configuration flash's factory-programmed unique ID.
func (p *JTAGProgrammer) ReadFlashUID() (uint64, error) {
	if err := p.enterBackgroundSPI(); err != nil {
		return 0, err
	}
	frame := make([]byte, 13)
	frame[0] = byte(FlashReadUID)
	response, err := p.backgroundSPITransfer(frame)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(response[5:13]), nil
}

// readFlashStatus reads the flash's first status register.
func (p *JTAGProgrammer) readFlashStatus() (uint8, error) {
	response, err := p.backgroundSPITransfer([]byte{byte(FlashReadStatus1), 0})
	if err != nil {
		return 0, err
	}
	return response[1], nil
}

// waitForFlash polls the flash's status register until it reports idle or
// the deadline passes.
func (p *JTAGProgrammer) waitForFlash(op string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		time.Sleep(flashPollInterval)
		status, err := p.readFlashStatus()
		if err != nil {
			return err
		}
		if status&flashBusyMask == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return &TimeoutError{Op: op, Timeout: timeout}
		}
	}
}

// enableFlashWrites puts the flash into its write-enabled state.
func (p *JTAGProgrammer) enableFlashWrites() error {
	if err := p.waitForFlash("flash write enable", p.flashTimeout); err != nil {
		return err
	}
	if _, err := p.backgroundSPITransfer([]byte{byte(FlashEnableWrite)}); err != nil {
		return err
	}
	status, err := p.readFlashStatus()
	if err != nil {
		return err
	}
	if status&flashWriteEnableMask == 0 {
		return &ProtocolError{Op: "flash", Detail: "flash did not enter a writeable state"}
	}
	return nil
}

// EraseFlash performs a full chip erase of the configuration flash.
func (p *JTAGProgrammer) EraseFlash() error {
	if err := p.enterBackgroundSPI(); err != nil {
		return err
	}
	return p.eraseFlashChip()
}

func (p *JTAGProgrammer) eraseFlashChip() error {
	log.Debugf("erasing configuration flash")
	if err := p.enableFlashWrites(); err != nil {
		return err
	}
	if _, err := p.backgroundSPITransfer([]byte{byte(FlashChipErase)}); err != nil {
		return err
	}
	return p.waitForFlash("flash erase", p.eraseTimeout)
}

// writeFlashPage programs a single page.
func (p *JTAGProgrammer) writeFlashPage(address uint32, data []byte) error {
	if err := p.enableFlashWrites(); err != nil {
		return err
	}
	frame := make([]byte, 0, 4+len(data))
	frame = append(frame, byte(FlashWritePage), byte(address>>16), byte(address>>8), byte(address))
	frame = append(frame, data...)
	if _, err := p.backgroundSPITransfer(frame); err != nil {
		return err
	}
	return p.waitForFlash("flash write", p.flashTimeout)
}

// readFlashPage reads up to one page back.
func (p *JTAGProgrammer) readFlashPage(address uint32, size int) ([]byte, error) {
	frame := make([]byte, 4+size)
	frame[0] = byte(FlashReadPage)
	frame[1] = byte(address >> 16)
	frame[2] = byte(address >> 8)
	frame[3] = byte(address)
	response, err := p.backgroundSPITransfer(frame)
	if err != nil {
		return nil, err
	}
	return response[4:], nil
}

// Flash writes a bitstream into the configuration flash, then triggers the
// FPGA to configure itself from it.
//
// The bitstream bytes are written as-is: the per-transfer SPI transform
// already presents them to the flash in the order the FPGA will read them
// back in master SPI mode.
func (p *JTAGProgrammer) Flash(bitstream []byte, opts ...FlashOption) error {
	cfg := newFlashConfig(opts)

	if err := p.enterBackgroundSPI(); err != nil {
		return err
	}
	if err := p.requireFlashPresent(); err != nil {
		return err
	}

	if cfg.clearProtections {
		if err := p.enableFlashWrites(); err != nil {
			return err
		}
		if _, err := p.backgroundSPITransfer([]byte{byte(FlashWriteStatus1), 0}); err != nil {
			return err
		}
	}

	if cfg.eraseFirst {
		if err := p.eraseFlashChip(); err != nil {
			return err
		}
	}

	log.Debugf("writing %d bytes to flash at offset %#x", len(bitstream), cfg.offset)
	address := cfg.offset
	for written := 0; written < len(bitstream); {
		page := bitstream[written:]
		if len(page) > flashPageSize {
			page = page[:flashPageSize]
		}
		if err := p.writeFlashPage(address, page); err != nil {
			return err
		}
		written += len(page)
		address += uint32(len(page))
		if p.progress != nil {
			p.progress(written, len(bitstream))
		}
	}

	return p.TriggerReconfiguration()
}

// ReadFlash reads length bytes back out of the configuration flash.
func (p *JTAGProgrammer) ReadFlash(length int, opts ...FlashOption) ([]byte, error) {
	cfg := newFlashConfig(opts)

	if err := p.enterBackgroundSPI(); err != nil {
		return nil, err
	}
	if err := p.requireFlashPresent(); err != nil {
		return nil, err
	}

	data := make([]byte, 0, length)
	address := cfg.offset
	for len(data) < length {
		size := length - len(data)
		if size > flashPageSize {
			size = flashPageSize
		}
		chunk, err := p.readFlashPage(address, size)
		if err != nil {
			return nil, err
		}
		data = append(data, chunk...)
		address += uint32(len(chunk))
		if p.progress != nil {
			p.progress(len(data), length)
		}
	}
	return data, nil
}
