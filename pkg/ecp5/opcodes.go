package ecp5

import "fmt"

// Opcode is an ECP5 configuration instruction, shifted through the 8-bit
// JTAG instruction register.
type Opcode uint8

const (
	OpNoOp Opcode = 0xFF

	// Read or verify the attached FPGA's part identifier.
	OpReadID   Opcode = 0xE0
	OpVerifyID Opcode = 0xE2

	// Read or program the device's usercode.
	OpReadUsercode       Opcode = 0xC0
	OpISCProgramUsercode Opcode = 0xC2

	// Read the FPGA's configuration status register.
	OpLSCReadStatus Opcode = 0x3C

	// Equivalent to toggling the PROGRAMN pin.
	OpLSCRefresh Opcode = 0x79

	// Ask whether the FPGA is still working on a command.
	OpLSCCheckBusy Opcode = 0xF0

	// Enable and disable configuration mode.
	OpISCEnable  Opcode = 0xC6
	OpISCEnableX Opcode = 0x74
	OpISCDisable Opcode = 0x26

	// Erase the device's SRAM.
	OpISCErase Opcode = 0x0E

	// Restart the internal CRC tracking.
	OpLSCResetCRC Opcode = 0x3B

	// Scrub the boundary register ahead of configuration.
	OpPreload Opcode = 0x1C

	// Accept the data that follows as a contiguous bitstream.
	OpLSCBitstreamBurst Opcode = 0x7A

	// Set the address to be programmed.
	OpLSCSetWorkingAddress Opcode = 0x46

	// Program the FPGA control registers.
	OpLSCProgramControlRegister0 Opcode = 0x22

	// Configure the FPGA with a block of data.
	OpLSCProgramIncrUncompressed Opcode = 0x82
	OpLSCProgramIncrCompressed   Opcode = 0xB8

	// Configure the FPGA's block RAM.
	OpLSCSetBlockRAMAddress Opcode = 0xF6
	OpLSCSetBlockRAMData    Opcode = 0xB2

	// Mark configuration as complete.
	OpISCProgramDone Opcode = 0x5E

	// Take over the FPGA's configuration flash connection.
	OpLSCEnterBackgroundSPI Opcode = 0x3A

	// Gateware escape registers; tunnels for the meta-JTAG register file
	// and the soft debug SPI bridge.
	OpER1 Opcode = 0x32
	OpER2 Opcode = 0x38
)

var opcodeNames = map[Opcode]string{
	OpNoOp:                       "NO_OP",
	OpReadID:                     "READ_ID",
	OpVerifyID:                   "VERIFY_ID",
	OpReadUsercode:               "READ_USERCODE",
	OpISCProgramUsercode:         "ISC_PROGRAM_USERCODE",
	OpLSCReadStatus:              "LSC_READ_STATUS",
	OpLSCRefresh:                 "LSC_REFRESH",
	OpLSCCheckBusy:               "LSC_CHECK_BUSY",
	OpISCEnable:                  "ISC_ENABLE",
	OpISCEnableX:                 "ISC_ENABLE_X",
	OpISCDisable:                 "ISC_DISABLE",
	OpISCErase:                   "ISC_ERASE",
	OpLSCResetCRC:                "LSC_RESET_CRC",
	OpPreload:                    "PRELOAD",
	OpLSCBitstreamBurst:          "LSC_BITSTREAM_BURST",
	OpLSCSetWorkingAddress:       "LSC_SET_WORKING_ADDRESS",
	OpLSCProgramControlRegister0: "LSC_PROGRAM_CONTROL_REGISTER_0",
	OpLSCProgramIncrUncompressed: "LSC_PROGRAM_AND_INCREMENT_UNCOMPRESSED",
	OpLSCProgramIncrCompressed:   "LSC_PROGRAM_AND_INCREMENT_COMPRESSED",
	OpLSCSetBlockRAMAddress:      "LSC_SET_BLOCK_RAM_ADDRESS",
	OpLSCSetBlockRAMData:         "LSC_SET_BLOCK_RAM_DATA",
	OpISCProgramDone:             "ISC_PROGRAM_DONE",
	OpLSCEnterBackgroundSPI:      "LSC_ENTER_BACKGROUND_SPI",
	OpER1:                        "ER1",
	OpER2:                        "ER2",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("opcode 0x%02X", uint8(o))
}

// FlashOpcode is a command for the SPI configuration flash behind the FPGA,
// reached through background SPI transfers.
type FlashOpcode uint8

const (
	// Write the STATUS1 register; clears block protection bits.
	FlashWriteStatus1 FlashOpcode = 0x01

	// Program and read back one page.
	FlashWritePage FlashOpcode = 0x02
	FlashReadPage  FlashOpcode = 0x03

	// Read status register 1.
	FlashReadStatus1 FlashOpcode = 0x05

	// Set the write-enable latch ahead of a program or erase.
	FlashEnableWrite FlashOpcode = 0x06

	// Read the chip's unique serial number.
	FlashReadUID FlashOpcode = 0x4B

	// Software reset, as a two-command sequence.
	FlashResetEnable FlashOpcode = 0x66
	FlashReset       FlashOpcode = 0x99

	// Identify the chip.
	FlashReadID      FlashOpcode = 0x90
	FlashReadJEDECID FlashOpcode = 0x9F

	// Erase the full chip.
	FlashChipErase FlashOpcode = 0xC7
)

// STATUS1 register bits.
const (
	flashBusyMask        = 0b01
	flashWriteEnableMask = 0b10
)

// flashPageSize is the write granularity of the configuration flash.
const flashPageSize = 256
