package jtag

import (
	"errors"
	"testing"

	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/bitvec"
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/tap"
)

// simDevice models a single chain member: an IR that captures the standard
// 0b01 pattern and a DR that preloads the device IDCODE after reset.
type simDevice struct {
	idcode uint32
	irLen  int

	ir        uint64
	latchedIR uint64
	dr        []bool
	drUpdates int
}

func newSimDevice(idcode uint32, irLen int) *simDevice {
	return &simDevice{idcode: idcode, irLen: irLen}
}

func (d *simDevice) Reset() {}

func (d *simDevice) CaptureIR() { d.ir = 0b01 }

func (d *simDevice) ShiftIR(tdi bool) bool {
	tdo := d.ir&1 != 0
	d.ir >>= 1
	if tdi {
		d.ir |= 1 << uint(d.irLen-1)
	}
	return tdo
}

func (d *simDevice) UpdateIR() { d.latchedIR = d.ir }

func (d *simDevice) CaptureDR() {
	d.dr = d.dr[:0]
	for i := 0; i < 32; i++ {
		d.dr = append(d.dr, d.idcode>>uint(i)&1 != 0)
	}
}

func (d *simDevice) ShiftDR(tdi bool) bool {
	tdo := d.dr[0]
	d.dr = append(d.dr[1:], tdi)
	return tdo
}

func (d *simDevice) UpdateDR() { d.drUpdates++ }

// simChain models several devices in series; members[0] sits closest to TDO
// and therefore shifts out first.
type simChain struct {
	members []chainMember
	dr      []bool
}

type chainMember struct {
	idcode    uint32
	hasIDCode bool
}

func (c *simChain) Reset()     {}
func (c *simChain) CaptureIR() {}
func (c *simChain) UpdateIR()  {}
func (c *simChain) UpdateDR()  {}

func (c *simChain) ShiftIR(tdi bool) bool { return tdi }

func (c *simChain) CaptureDR() {
	c.dr = c.dr[:0]
	for _, m := range c.members {
		if !m.hasIDCode {
			c.dr = append(c.dr, false) // BYPASS captures a single zero
			continue
		}
		for i := 0; i < 32; i++ {
			c.dr = append(c.dr, m.idcode>>uint(i)&1 != 0)
		}
	}
}

func (c *simChain) ShiftDR(tdi bool) bool {
	if len(c.dr) == 0 {
		return tdi
	}
	tdo := c.dr[0]
	c.dr = append(c.dr[1:], tdi)
	return tdo
}

// stuckLowChain models an unpowered target: TDO never rises.
type stuckLowChain struct{ simChain }

func (c *stuckLowChain) ShiftDR(bool) bool { return false }

func TestAcquireReleaseLifecycle(t *testing.T) {
	sim := NewSimTransport(nil)
	c := NewChain(sim)

	release, err := c.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if sim.Started() != 1 {
		t.Errorf("expected 1 start request, got %d", sim.Started())
	}
	if c.State() != tap.StateTestLogicReset {
		t.Errorf("expected Test-Logic-Reset after acquire, got %s", c.State())
	}
	if sim.TAPState() != tap.StateTestLogicReset {
		t.Errorf("probe TAP in %s, expected Test-Logic-Reset", sim.TAPState())
	}

	release()
	if sim.Stopped() != 1 {
		t.Errorf("expected 1 stop request, got %d", sim.Stopped())
	}
}

func TestReleaseClearsBitbang(t *testing.T) {
	sim := NewSimTransport(nil)
	c := NewChain(sim)

	release, err := c.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	c.ForceBitbang(true)
	if _, err := c.ShiftData(bitvec.FromUint(0xAB, 8), tap.StateRunTestIdle); err != nil {
		t.Fatalf("shift failed: %v", err)
	}
	if sim.BitbangScans() != 1 {
		t.Fatalf("expected 1 bit-banged scan, got %d", sim.BitbangScans())
	}
	release()

	if _, err := c.Acquire(); err != nil {
		t.Fatalf("re-acquire failed: %v", err)
	}
	if _, err := c.ShiftData(bitvec.FromUint(0xAB, 8), tap.StateRunTestIdle); err != nil {
		t.Fatalf("shift failed: %v", err)
	}
	if sim.BitbangScans() != 1 {
		t.Errorf("bit-bang mode leaked across release: %d forced scans", sim.BitbangScans())
	}
}

func TestShiftLoopback(t *testing.T) {
	sim := NewSimTransport(nil)
	c := NewChain(sim)
	if _, err := c.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	tdi := bitvec.FromUint(0x5A5, 12)
	captured, err := c.ShiftData(tdi, tap.StateRunTestIdle)
	if err != nil {
		t.Fatalf("shift failed: %v", err)
	}
	if !captured.Equal(tdi) {
		t.Errorf("loopback mismatch: sent %s, captured %s", tdi, captured)
	}
	if c.State() != tap.StateRunTestIdle {
		t.Errorf("expected Run-Test/Idle after shift, got %s", c.State())
	}
	if sim.TAPState() != tap.StateRunTestIdle {
		t.Errorf("probe TAP in %s, expected Run-Test/Idle", sim.TAPState())
	}
}

func TestShiftChunksLongVectors(t *testing.T) {
	sim := NewSimTransport(nil)
	c := NewChain(sim)
	if _, err := c.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// 2061 bits: one full 256-byte buffer plus a 13-bit tail.
	tdi := bitvec.Ones(2061)
	tdi.SetBit(0, false)
	tdi.SetBit(2060, false)
	captured, err := c.ShiftData(tdi, tap.StateRunTestIdle)
	if err != nil {
		t.Fatalf("shift failed: %v", err)
	}
	if sim.Scans() != 2 {
		t.Errorf("expected 2 scan requests, got %d", sim.Scans())
	}
	if !captured.Equal(tdi) {
		t.Errorf("loopback mismatch across chunk boundary")
	}
}

func TestShiftInstructionCapturesAndLatches(t *testing.T) {
	dev := newSimDevice(0x41111043, 8)
	sim := NewSimTransport(dev)
	c := NewChain(sim)
	if _, err := c.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	captured, err := c.ShiftInstruction(bitvec.FromUint(0xE0, 8), tap.StateRunTestIdle)
	if err != nil {
		t.Fatalf("instruction shift failed: %v", err)
	}
	if captured.Uint() != 0b01 {
		t.Errorf("expected IR capture pattern 0b01, got 0x%02X", captured.Uint())
	}
	if dev.latchedIR != 0xE0 {
		t.Errorf("expected latched opcode 0xE0, got 0x%02X", dev.latchedIR)
	}
}

func TestShiftEndingInPauseSkipsUpdate(t *testing.T) {
	dev := newSimDevice(0x41111043, 8)
	sim := NewSimTransport(dev)
	c := NewChain(sim)
	if _, err := c.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if _, err := c.ShiftData(bitvec.FromUint(0xFF, 8), tap.StatePauseDR); err != nil {
		t.Fatalf("shift failed: %v", err)
	}
	if dev.drUpdates != 0 {
		t.Errorf("pausing shift latched the data register %d times", dev.drUpdates)
	}

	if err := c.MoveToState(tap.StateRunTestIdle); err != nil {
		t.Fatalf("move failed: %v", err)
	}
	if dev.drUpdates != 1 {
		t.Errorf("expected 1 update on leaving pause, got %d", dev.drUpdates)
	}
}

func TestRunTestChunksCycles(t *testing.T) {
	sim := NewSimTransport(nil)
	c := NewChain(sim)
	if _, err := c.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := c.RunTest(70000); err != nil {
		t.Fatalf("RunTest failed: %v", err)
	}
	if sim.ClockedCycles() != 70000 {
		t.Errorf("expected 70000 clocked cycles, got %d", sim.ClockedCycles())
	}
	if c.State() != tap.StateRunTestIdle {
		t.Errorf("expected Run-Test/Idle, got %s", c.State())
	}
}

func TestHardwareStateMatchesMirror(t *testing.T) {
	sim := NewSimTransport(nil)
	c := NewChain(sim)
	if _, err := c.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	for _, target := range []tap.State{tap.StateRunTestIdle, tap.StatePauseIR, tap.StateShiftDR} {
		if err := c.MoveToState(target); err != nil {
			t.Fatalf("move to %s failed: %v", target, err)
		}
		hw, err := c.HardwareState()
		if err != nil {
			t.Fatalf("HardwareState failed: %v", err)
		}
		if hw != c.State() || hw != target {
			t.Errorf("state mismatch: local %s, hardware %s, wanted %s", c.State(), hw, target)
		}
	}
}

func TestEnumerateSingleDevice(t *testing.T) {
	sim := NewSimTransport(newSimDevice(0x41111043, 8))
	c := NewChain(sim)
	if _, err := c.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	devices, err := c.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	d := devices[0]
	if d.IDCode != 0x41111043 {
		t.Errorf("expected IDCODE 0x41111043, got 0x%08X", d.IDCode)
	}
	if !d.HasIDCode() {
		t.Error("device should report an IDCODE")
	}
	if d.Info.Name != "LFE5U-25" {
		t.Errorf("expected LFE5U-25, got %q", d.Info.Name)
	}
}

func TestEnumerateChainWithBypassDevice(t *testing.T) {
	model := &simChain{members: []chainMember{
		{idcode: 0x41112043, hasIDCode: true},
		{hasIDCode: false},
		{idcode: 0x0362D093, hasIDCode: true},
	}}
	sim := NewSimTransport(model)
	c := NewChain(sim)
	if _, err := c.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	devices, err := c.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(devices))
	}
	if devices[0].IDCode != 0x41112043 || devices[0].Info.Name != "LFE5U-45" {
		t.Errorf("device 0: got 0x%08X %q", devices[0].IDCode, devices[0].Info.Name)
	}
	if devices[1].HasIDCode() {
		t.Errorf("device 1 should be a BYPASS placeholder, got 0x%08X", devices[1].IDCode)
	}
	if devices[2].IDCode != 0x0362D093 || devices[2].Info.Name != "XC7A35T" {
		t.Errorf("device 2: got 0x%08X %q", devices[2].IDCode, devices[2].Info.Name)
	}
}

func TestEnumerateEmptyChain(t *testing.T) {
	sim := NewSimTransport(nil) // loopback: our own ones come straight back
	c := NewChain(sim)
	if _, err := c.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	devices, err := c.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("expected no devices, got %d", len(devices))
	}
}

func TestEnumerateUnresponsiveChain(t *testing.T) {
	sim := NewSimTransport(&stuckLowChain{})
	c := NewChain(sim)
	if _, err := c.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	_, err := c.Enumerate()
	if !errors.Is(err, ErrChainUnresponsive) {
		t.Errorf("expected ErrChainUnresponsive, got %v", err)
	}
}

func TestDeviceDescription(t *testing.T) {
	placeholder := Device{Index: 1}
	if got := placeholder.Description(); got != "#1: (no IDCODE, in BYPASS)" {
		t.Errorf("placeholder description = %q", got)
	}
}
