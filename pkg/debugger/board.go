package debugger

import (
	"fmt"
	"time"

	"github.com/google/gousb"
	log "github.com/sirupsen/logrus"
)

// usbID is a vendor/product pair.
type usbID struct {
	vid gousb.ID
	pid gousb.ID
}

// debuggerIDs lists the VID/PID pairs the debug controller enumerates with.
var debuggerIDs = []usbID{
	{0x1D50, 0x615C}, // openmoko assignment
	{0x1209, 0x0010}, // shared with the gateware on single-port boards
}

// gatewareIDs lists IDs the FPGA-owned side of a shared port may use; these
// devices carry the handoff stub interface.
var gatewareIDs = []usbID{
	{0x1D50, 0x615B},
	{0x1209, 0x0001},
	{0x1209, 0x0002},
	{0x1209, 0x0003},
	{0x1209, 0x0004},
	{0x1209, 0x0005},
	{0x1209, 0x000F},
}

// handoffSettleTime gives the firmware a moment to re-enumerate after the
// gateware releases the shared port.
const handoffSettleTime = 2 * time.Second

// externalBoardMajor marks hardware revisions that belong to third-party
// boards rather than Cynthion hardware.
const externalBoardMajor = 0xFF

var externalBoardNames = map[uint8]string{
	0: "Daisho",
	1: "Xil.se Pergola FPGA",
	2: "Adafruit QT Py ATSAMD21E18",
}

// subdeviceMajors name companion controllers that report through the same
// protocol.
var subdeviceMajors = map[uint8]string{
	0xFE: "Amalthea",
}

// HardwareRevision returns the major/minor revision encoded in bcdDevice.
func (d *Device) HardwareRevision() (major, minor uint8) {
	return d.major, d.minor
}

// HardwareName renders a human-readable board name from the revision.
func (d *Device) HardwareName() string {
	switch {
	case d.major == externalBoardMajor:
		if name, ok := externalBoardNames[d.minor]; ok {
			return name
		}
		return fmt.Sprintf("unknown external board (minor %d)", d.minor)
	case subdeviceMajors[d.major] != "":
		return fmt.Sprintf("%s r%d", subdeviceMajors[d.major], d.minor)
	default:
		return fmt.Sprintf("Cynthion r%d.%d", d.major, d.minor)
	}
}

// IsExternalBoard reports whether the controller belongs to a third-party
// board whose minor revision selects the programming method.
func (d *Device) IsExternalBoard() bool {
	return d.major == externalBoardMajor
}

// HasDedicatedDebugSPI reports whether the board wires a standalone debug SPI
// bus to the FPGA. Boards after r0.2 route debug SPI over JTAG instead.
func (d *Device) HasDedicatedDebugSPI() bool {
	return d.major == 0 && d.minor <= 2
}

// findDebugger opens the first debug controller that matches the known IDs
// (and the serial filter, when set). A nil device with nil error means none
// was present.
func findDebugger(ctx *gousb.Context, serial string) (*gousb.Device, error) {
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		for _, id := range debuggerIDs {
			if desc.Vendor == id.vid && desc.Product == id.pid {
				return true
			}
		}
		return false
	})
	if err != nil {
		// OpenDevices can return partial results alongside an error; close
		// whatever it opened and report the failure.
		for _, dev := range devs {
			dev.Close()
		}
		return nil, fmt.Errorf("debugger: USB enumeration failed: %w", err)
	}

	var chosen *gousb.Device
	for _, dev := range devs {
		if chosen != nil {
			dev.Close()
			continue
		}
		if serial != "" {
			sn, _ := dev.SerialNumber()
			if sn != serial {
				dev.Close()
				continue
			}
		}
		chosen = dev
	}
	return chosen, nil
}

// requestHandoff looks for a gateware-owned device and asks its stub
// interface to return the shared port. Reports whether a handoff was
// requested.
func requestHandoff(ctx *gousb.Context) bool {
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		for _, id := range gatewareIDs {
			if desc.Vendor == id.vid && desc.Product == id.pid {
				return true
			}
		}
		return false
	})
	if err != nil {
		for _, dev := range devs {
			dev.Close()
		}
		return false
	}

	requested := false
	for _, dev := range devs {
		if !requested && stopGateware(dev) {
			requested = true
		}
		dev.Close()
	}
	return requested
}

// stopGateware issues the handoff-stop request to the vendor stub interface
// of an FPGA-owned device.
func stopGateware(dev *gousb.Device) bool {
	cfg, err := dev.Config(1)
	if err != nil {
		return false
	}
	defer cfg.Close()

	for _, intf := range cfg.Desc.Interfaces {
		if len(intf.AltSettings) == 0 {
			continue
		}
		alt := intf.AltSettings[0]
		if alt.Class != gousb.ClassVendorSpec || alt.SubClass != 0x00 {
			continue
		}
		dev.ControlTimeout = DefaultTimeout
		_, err := dev.Control(gousb.ControlOut|gousb.ControlVendor|gousb.ControlInterface,
			requestHandoffStop, 0, uint16(intf.Number), nil)
		if err != nil {
			log.Debugf("handoff request to interface %d failed: %v", intf.Number, err)
			continue
		}
		log.Info("asked gateware to release the shared USB port")
		return true
	}
	return false
}
