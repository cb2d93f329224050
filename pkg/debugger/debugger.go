// Package debugger drives the USB debug controller found on ECP5 FPGA boards
// that speak the Apollo vendor protocol (Cynthion and compatible hardware).
//
// The controller exposes everything over vendor control requests on endpoint
// zero: identity and firmware versions, an LED indicator, FPGA power control,
// a JTAG engine and a debug SPI bridge. This package owns the USB plumbing
// and the board-level requests; the JTAG and SPI layers sit on top of the
// raw request primitives.
package debugger

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
	log "github.com/sirupsen/logrus"
)

// Vendor request numbers handled by the debug controller itself.
const (
	RequestGetID              = 0xA0
	RequestSetLEDPattern      = 0xA1
	RequestGetFirmwareVersion = 0xA2
	RequestGetUSBAPIVersion   = 0xA3

	RequestReconfigure          = 0xC0
	RequestForceFPGAOffline     = 0xC1
	RequestAllowFPGATakeoverUSB = 0xC2

	// Request accepted by the gateware's stub interface to hand the shared
	// USB port back to the debug controller.
	requestHandoffStop = 0xF0
)

// LED blink patterns understood by the firmware, in milliseconds per phase.
const (
	LEDPatternIdle   = 500
	LEDPatternUpload = 50
)

// DefaultTimeout bounds a single control transfer unless a caller asks for
// more.
const DefaultTimeout = 500 * time.Millisecond

// Device is an open connection to a debug controller.
type Device struct {
	ctx *gousb.Context
	dev *gousb.Device

	major, minor uint8 // hardware revision from bcdDevice
	serial       string
	product      string
}

type openConfig struct {
	forceOffline bool
	serial       string
}

// Option adjusts how Open locates and prepares a device.
type Option func(*openConfig)

// WithForceOffline makes Open pull the FPGA offline right after connecting,
// freeing the shared USB port and the configuration flash.
func WithForceOffline() Option {
	return func(c *openConfig) { c.forceOffline = true }
}

// WithSerial restricts matching to a specific device serial number.
func WithSerial(serial string) Option {
	return func(c *openConfig) { c.serial = serial }
}

// Open locates a debug controller and claims it. If only the FPGA-owned side
// of a shared USB port is present, Open asks its stub interface to hand the
// port back and retries once.
func Open(opts ...Option) (*Device, error) {
	var cfg openConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := gousb.NewContext()

	dev, err := findDebugger(ctx, cfg.serial)
	if err != nil {
		ctx.Close()
		return nil, err
	}
	if dev == nil {
		// No debugger; a gateware device may be holding the shared port.
		if requestHandoff(ctx) {
			time.Sleep(handoffSettleTime)
			dev, err = findDebugger(ctx, cfg.serial)
			if err != nil {
				ctx.Close()
				return nil, err
			}
		}
	}
	if dev == nil {
		ctx.Close()
		return nil, errors.New("debugger: no debug controller found")
	}

	if err := dev.SetAutoDetach(true); err != nil {
		log.Debugf("auto-detach not available: %v", err)
	}

	d := &Device{ctx: ctx, dev: dev}
	raw := uint16(dev.Desc.Device)
	d.major = uint8(raw >> 8)
	d.minor = uint8(raw)
	d.serial, _ = dev.SerialNumber()
	d.product, _ = dev.Product()

	log.Debugf("opened %s (%s, serial %s)", d.product, d.HardwareName(), d.serial)

	if cfg.forceOffline {
		if err := d.ForceFPGAOffline(); err != nil {
			d.Close()
			return nil, fmt.Errorf("debugger: failed to force FPGA offline: %w", err)
		}
	}
	return d, nil
}

// Close releases the USB device and context.
func (d *Device) Close() error {
	if d.dev != nil {
		d.dev.Close()
		d.dev = nil
	}
	if d.ctx != nil {
		d.ctx.Close()
		d.ctx = nil
	}
	return nil
}

// OutRequest issues a vendor OUT control transfer carrying data to the
// device. A firmware stall surfaces as NotSupportedError.
func (d *Device) OutRequest(request uint8, value, index uint16, data []byte, timeout time.Duration) error {
	log.Tracef("out request 0x%02X value=0x%04X index=0x%04X len=%d", request, value, index, len(data))
	d.dev.ControlTimeout = timeout
	_, err := d.dev.Control(gousb.ControlOut|gousb.ControlVendor|gousb.ControlDevice,
		request, value, index, data)
	if err != nil {
		return wrapControlError(request, "out", err)
	}
	return nil
}

// InRequest issues a vendor IN control transfer and returns up to length
// bytes from the device.
func (d *Device) InRequest(request uint8, value, index uint16, length int, timeout time.Duration) ([]byte, error) {
	log.Tracef("in request 0x%02X value=0x%04X index=0x%04X len=%d", request, value, index, length)
	d.dev.ControlTimeout = timeout
	buf := make([]byte, length)
	n, err := d.dev.Control(gousb.ControlIn|gousb.ControlVendor|gousb.ControlDevice,
		request, value, index, buf)
	if err != nil {
		return nil, wrapControlError(request, "in", err)
	}
	return buf[:n], nil
}

func wrapControlError(request uint8, direction string, err error) error {
	if errors.Is(err, gousb.ErrorPipe) {
		return &NotSupportedError{Request: request}
	}
	return &TransportError{Request: request, Direction: direction, Err: err}
}

// SetIndicator asks the firmware to blink the status LED with the given
// pattern. The indicator is purely cosmetic, so failures are only logged.
func (d *Device) SetIndicator(pattern uint16) {
	if err := d.OutRequest(RequestSetLEDPattern, pattern, 0, nil, DefaultTimeout); err != nil {
		log.Debugf("failed to set LED pattern: %v", err)
	}
}

// Identify reads the firmware's identity string (for example
// "Apollo Debug Module").
func (d *Device) Identify() (string, error) {
	raw, err := d.InRequest(RequestGetID, 0, 0, 256, DefaultTimeout)
	if err != nil {
		return "", err
	}
	return cString(raw), nil
}

// FirmwareVersion reads the firmware's version string.
func (d *Device) FirmwareVersion() (string, error) {
	raw, err := d.InRequest(RequestGetFirmwareVersion, 0, 0, 256, DefaultTimeout)
	if err != nil {
		return "", err
	}
	return cString(raw), nil
}

// USBAPIVersion reads the major/minor version of the vendor request API the
// firmware implements.
func (d *Device) USBAPIVersion() (major, minor uint8, err error) {
	raw, err := d.InRequest(RequestGetUSBAPIVersion, 0, 0, 2, DefaultTimeout)
	if err != nil {
		return 0, 0, err
	}
	if len(raw) < 2 {
		return 0, 0, &TransportError{Request: RequestGetUSBAPIVersion, Direction: "in",
			Err: fmt.Errorf("short response (%d bytes)", len(raw))}
	}
	return raw[0], raw[1], nil
}

// RequireAPIVersion fails with NotSupportedError unless the firmware's USB
// API is at least the given version.
func (d *Device) RequireAPIVersion(major, minor uint8) error {
	gotMajor, gotMinor, err := d.USBAPIVersion()
	if err != nil {
		return err
	}
	if gotMajor > major || (gotMajor == major && gotMinor >= minor) {
		return nil
	}
	return fmt.Errorf("debugger: firmware API %d.%d is older than required %d.%d: %w",
		gotMajor, gotMinor, major, minor, &NotSupportedError{Request: RequestGetUSBAPIVersion})
}

// Reconfigure asks the FPGA to reload its configuration from flash.
func (d *Device) Reconfigure() error {
	return d.OutRequest(RequestReconfigure, 0, 0, nil, DefaultTimeout)
}

// SoftReset resets the target connected to the debug controller. The
// firmware implements this as a reconfiguration request, so the FPGA comes
// back running whatever its flash holds.
func (d *Device) SoftReset() error {
	return d.Reconfigure()
}

// ForceFPGAOffline holds the FPGA unconfigured so the debugger owns the
// shared USB port and the configuration flash.
func (d *Device) ForceFPGAOffline() error {
	return d.OutRequest(RequestForceFPGAOffline, 0, 0, nil, DefaultTimeout)
}

// AllowFPGATakeoverUSB lets the FPGA take over the shared USB port once its
// gateware asks for it. With honor false the firmware keeps the port.
func (d *Device) AllowFPGATakeoverUSB(honor bool) error {
	value := uint16(0)
	if honor {
		value = 1
	}
	return d.OutRequest(RequestAllowFPGATakeoverUSB, value, 0, nil, DefaultTimeout)
}

// SerialNumber returns the USB serial number string.
func (d *Device) SerialNumber() string { return d.serial }

// ProductName returns the USB product string.
func (d *Device) ProductName() string { return d.product }

// cString trims a NUL-terminated firmware string buffer.
func cString(raw []byte) string {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		return string(raw[:i])
	}
	return string(raw)
}
