// Package idcode decodes IEEE 1149.1 JTAG IDCODE values and names the
// devices they belong to.
package idcode

import "fmt"

// IDCode represents a parsed 32-bit JTAG IDCODE.
type IDCode struct {
	Raw              uint32 // full IDCODE
	Version          uint8  // [31:28]
	PartNumber       uint16 // [27:12]
	ManufacturerCode uint16 // [11:1] JEP106
	HasIDCode        bool   // bit 0 == 1
}

// Parse splits a raw 32-bit IDCODE into its component fields.
func Parse(raw uint32) IDCode {
	return IDCode{
		Raw:              raw,
		Version:          uint8((raw >> 28) & 0xF),
		PartNumber:       uint16((raw >> 12) & 0xFFFF),
		ManufacturerCode: uint16((raw >> 1) & 0x7FF),
		HasIDCode:        (raw & 0x1) == 0x1,
	}
}

// Manufacturer returns the JEP106 entry for the IDCODE's manufacturer bits.
func (id IDCode) Manufacturer() Manufacturer {
	m, _ := LookupManufacturer(id.ManufacturerCode)
	return m
}

func (id IDCode) String() string {
	return fmt.Sprintf("0x%08X (%s, part 0x%04X rev %d)",
		id.Raw, id.Manufacturer().Name, id.PartNumber, id.Version)
}
