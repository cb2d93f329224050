package idcode

import "fmt"

// Manufacturer represents a JEP106 manufacturer entry.
type Manufacturer struct {
	Code         uint16 // 11-bit JEP106 code: continuation bank << 7 | id
	Name         string // "Lattice Semiconductor"
	Abbreviation string // "Lattice"
}

// manufacturers holds the JEP106 entries this tool is likely to meet on an
// FPGA board: programmable-logic vendors, their acquirers, and the usual
// debug-port suspects. Codes are the 11-bit form found in IDCODE bits [11:1].
var manufacturers = map[uint16]Manufacturer{
	0x001: {Code: 0x001, Name: "AMD", Abbreviation: "AMD"},
	0x009: {Code: 0x009, Name: "Intel", Abbreviation: "Intel"},
	0x017: {Code: 0x017, Name: "Texas Instruments", Abbreviation: "TI"},
	0x01F: {Code: 0x01F, Name: "Atmel", Abbreviation: "Atmel"},
	0x020: {Code: 0x020, Name: "STMicroelectronics", Abbreviation: "STM"},
	0x021: {Code: 0x021, Name: "Lattice Semiconductor", Abbreviation: "Lattice"},
	0x029: {Code: 0x029, Name: "Microchip", Abbreviation: "Microchip"},
	0x041: {Code: 0x041, Name: "Infineon (Siemens)", Abbreviation: "Infineon"},
	0x049: {Code: 0x049, Name: "Xilinx", Abbreviation: "Xilinx"},
	0x06E: {Code: 0x06E, Name: "Altera", Abbreviation: "Altera"},
	0x089: {Code: 0x089, Name: "Cirrus Logic", Abbreviation: "Cirrus"},
	0x23B: {Code: 0x23B, Name: "ARM", Abbreviation: "ARM"},
}

// LookupManufacturer returns manufacturer info for an 11-bit JEP106 code.
// Unknown codes yield a synthesized entry and ok == false.
func LookupManufacturer(code uint16) (Manufacturer, bool) {
	m, ok := manufacturers[code]
	if !ok {
		return Manufacturer{
			Code:         code,
			Name:         fmt.Sprintf("Unknown (0x%03X)", code),
			Abbreviation: "Unknown",
		}, false
	}
	return m, true
}
