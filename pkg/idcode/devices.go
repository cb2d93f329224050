package idcode

// DeviceInfo carries what the tool knows about a part recognized from its
// IDCODE.
type DeviceInfo struct {
	IDCode      IDCode
	Name        string // "LFE5U-25"
	Family      string // "ECP5"
	Description string
	IRLength    int // instruction register length in bits
	IsFPGA      bool
}

type deviceEntry struct {
	id   uint32
	mask uint32
	info DeviceInfo
}

// Lattice keeps the ECP5 density in the IDCODE version nibble, so those
// entries match all 32 bits. Other vendors get the version masked off.
var devices = []deviceEntry{
	{0x21111043, 0xFFFFFFFF, DeviceInfo{Name: "LFE5U-12", Family: "ECP5", Description: "Lattice ECP5 (12k LUTs)", IRLength: 8, IsFPGA: true}},
	{0x41111043, 0xFFFFFFFF, DeviceInfo{Name: "LFE5U-25", Family: "ECP5", Description: "Lattice ECP5 (25k LUTs)", IRLength: 8, IsFPGA: true}},
	{0x41112043, 0xFFFFFFFF, DeviceInfo{Name: "LFE5U-45", Family: "ECP5", Description: "Lattice ECP5 (45k LUTs)", IRLength: 8, IsFPGA: true}},
	{0x41113043, 0xFFFFFFFF, DeviceInfo{Name: "LFE5U-85", Family: "ECP5", Description: "Lattice ECP5 (85k LUTs)", IRLength: 8, IsFPGA: true}},
	{0x01111043, 0xFFFFFFFF, DeviceInfo{Name: "LFE5UM-25", Family: "ECP5", Description: "Lattice ECP5 with SerDes (25k LUTs)", IRLength: 8, IsFPGA: true}},
	{0x01112043, 0xFFFFFFFF, DeviceInfo{Name: "LFE5UM-45", Family: "ECP5", Description: "Lattice ECP5 with SerDes (45k LUTs)", IRLength: 8, IsFPGA: true}},
	{0x01113043, 0xFFFFFFFF, DeviceInfo{Name: "LFE5UM-85", Family: "ECP5", Description: "Lattice ECP5 with SerDes (85k LUTs)", IRLength: 8, IsFPGA: true}},
	{0x81111043, 0xFFFFFFFF, DeviceInfo{Name: "LFE5UM5G-25", Family: "ECP5", Description: "Lattice ECP5-5G (25k LUTs)", IRLength: 8, IsFPGA: true}},
	{0x81112043, 0xFFFFFFFF, DeviceInfo{Name: "LFE5UM5G-45", Family: "ECP5", Description: "Lattice ECP5-5G (45k LUTs)", IRLength: 8, IsFPGA: true}},
	{0x81113043, 0xFFFFFFFF, DeviceInfo{Name: "LFE5UM5G-85", Family: "ECP5", Description: "Lattice ECP5-5G (85k LUTs)", IRLength: 8, IsFPGA: true}},
	{0x0362D093, 0x0FFFFFFF, DeviceInfo{Name: "XC7A35T", Family: "Artix-7", Description: "Xilinx Artix-7", IRLength: 6, IsFPGA: true}},
	{0x020F30DD, 0x0FFFFFFF, DeviceInfo{Name: "EP4CE22", Family: "Cyclone IV", Description: "Altera Cyclone IV E", IRLength: 10, IsFPGA: true}},
}

// Lookup returns device information for a raw IDCODE. Unrecognized parts get
// a minimal entry naming the manufacturer.
func Lookup(raw uint32) DeviceInfo {
	id := Parse(raw)
	for _, entry := range devices {
		if raw&entry.mask == entry.id {
			info := entry.info
			info.IDCode = id
			return info
		}
	}
	return DeviceInfo{
		IDCode:      id,
		Name:        "Unknown device",
		Description: "no entry in device table",
	}
}

// IsECP5Part reports whether the IDCODE belongs to a part the ECP5
// configuration engine can drive.
func IsECP5Part(raw uint32) bool {
	return Lookup(raw).Family == "ECP5"
}
