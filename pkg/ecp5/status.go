package ecp5

import (
	"fmt"
	"strings"
)

// Status is the ECP5's 32-bit configuration status register, as returned by
// LSC_READ_STATUS.
type Status uint32

const (
	// StatusJTAGActive: the device is being controlled by JTAG.
	StatusJTAGActive Status = 1 << 4

	// StatusDone: the done bit has been set; configuration is complete.
	StatusDone Status = 1 << 8

	// StatusISCEnabled: configuration mode is active.
	StatusISCEnabled Status = 1 << 9

	// StatusWriteable / StatusReadable: configuration access rights.
	StatusWriteable Status = 1 << 10
	StatusReadable  Status = 1 << 11

	// StatusBusy: configuration logic is working on a command.
	StatusBusy Status = 1 << 12

	// StatusFail: the last command failed.
	StatusFail Status = 1 << 13

	// StatusStandardPreamble: a standard bitstream preamble was seen.
	StatusStandardPreamble Status = 1 << 21

	// StatusSPIFail: the device could not boot from SPI flash.
	StatusSPIFail Status = 1 << 22

	// StatusExecutionFail: command execution failed.
	StatusExecutionFail Status = 1 << 26

	// StatusIDError: a VERIFY_ID command mismatched.
	StatusIDError Status = 1 << 27

	// StatusInvalidCommand: an invalid command was detected.
	StatusInvalidCommand Status = 1 << 28
)

// The BSE error code occupies three bits of the status word.
const (
	statusErrorShift = 23
	statusErrorMask  = 0b111
)

// ErrorCode is the bitstream engine's three-bit error code.
type ErrorCode uint8

const (
	ErrorCodeNone ErrorCode = iota
	ErrorCodeIDMismatch
	ErrorCodeIllegalCommand
	ErrorCodeCRCFailed
	ErrorCodePreamble
	ErrorCodeAborted
	ErrorCodeOverflow
	ErrorCodeSRAMOverrun
)

var errorCodeNames = [8]string{
	"error unknown",
	"part ID mismatch",
	"illegal command issued",
	"CRC check failed",
	"preamble error",
	"user aborted configuration",
	"data overflow",
	"bitstream provides data past the device's SRAM array",
}

func (c ErrorCode) String() string {
	if int(c) < len(errorCodeNames) {
		return errorCodeNames[c]
	}
	return fmt.Sprintf("error code %d", uint8(c))
}

// ErrorCode extracts the bitstream engine error code.
func (s Status) ErrorCode() ErrorCode {
	return ErrorCode(s >> statusErrorShift & statusErrorMask)
}

var statusFlagNames = []struct {
	flag Status
	name string
}{
	{StatusJTAGActive, "jtag-active"},
	{StatusDone, "done"},
	{StatusISCEnabled, "isc-enabled"},
	{StatusWriteable, "writeable"},
	{StatusReadable, "readable"},
	{StatusBusy, "busy"},
	{StatusFail, "fail"},
	{StatusStandardPreamble, "standard-preamble"},
	{StatusSPIFail, "spi-fail"},
	{StatusExecutionFail, "execution-fail"},
	{StatusIDError, "id-error"},
	{StatusInvalidCommand, "invalid-command"},
}

func (s Status) String() string {
	var flags []string
	for _, f := range statusFlagNames {
		if s&f.flag != 0 {
			flags = append(flags, f.name)
		}
	}
	if len(flags) == 0 {
		return fmt.Sprintf("0x%08X", uint32(s))
	}
	return fmt.Sprintf("0x%08X [%s]", uint32(s), strings.Join(flags, " "))
}

// Details renders the status one observation per line, the way a human
// wants to read it after a failed configuration.
func (s Status) Details() []string {
	var lines []string
	add := func(flag Status, text string) {
		if s&flag != 0 {
			lines = append(lines, text)
		}
	}
	add(StatusJTAGActive, "device is being controlled by JTAG")
	add(StatusBusy, "device is busy")
	add(StatusISCEnabled, "configuration enabled")
	add(StatusWriteable, "configuration can be written")
	add(StatusReadable, "configuration can be read back")
	add(StatusStandardPreamble, "standard preamble detected")
	add(StatusSPIFail, "couldn't boot from SPI flash")
	add(StatusFail, "last command failed")
	add(StatusInvalidCommand, "last command was invalid")
	add(StatusDone, "configuration is complete")
	if code := s.ErrorCode(); code != 0 {
		lines = append(lines, fmt.Sprintf("error: %s", code))
	}
	return lines
}
