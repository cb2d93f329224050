package jtag

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/idcode"
)

// Device is one entry in an enumerated scan chain. Index 0 sits closest to
// TDO and reports first. A zero IDCode marks a part that powered up in
// BYPASS instead of providing an identification code.
type Device struct {
	Index  int
	IDCode uint32
	Info   idcode.DeviceInfo
}

// HasIDCode reports whether the device provided an identification code.
func (d Device) HasIDCode() bool {
	return d.IDCode != 0
}

// Description renders a one-line summary for chain listings.
func (d Device) Description() string {
	if !d.HasIDCode() {
		return fmt.Sprintf("#%d: (no IDCODE, in BYPASS)", d.Index)
	}
	return fmt.Sprintf("#%d: %s (%s) IDCODE 0x%08X",
		d.Index, d.Info.Name, d.Info.IDCode.Manufacturer().Name, d.IDCode)
}
