package ecp5

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/debugger"
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/jtag"
)

// newSimProgrammer wires a programmer to a simulated device behind an
// acquired chain.
func newSimProgrammer(t *testing.T, model *Simulator, opts ...Option) (*JTAGProgrammer, *jtag.SimTransport) {
	t.Helper()
	sim := jtag.NewSimTransport(model)
	c := jtag.NewChain(sim)
	if _, err := c.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	return NewJTAGProgrammer(c, opts...), sim
}

func TestReadIDAndPartName(t *testing.T) {
	p, _ := newSimProgrammer(t, NewSimulator())

	id, err := p.ReadID()
	if err != nil {
		t.Fatalf("ReadID failed: %v", err)
	}
	if id != 0x41111043 {
		t.Errorf("expected IDCODE 0x41111043, got 0x%08X", id)
	}

	name, err := p.PartName()
	if err != nil {
		t.Fatalf("PartName failed: %v", err)
	}
	if name != "LFE5U-25" {
		t.Errorf("expected LFE5U-25, got %q", name)
	}
}

func TestPartNameUnrecognizedDevice(t *testing.T) {
	model := NewSimulator()
	model.IDCode = 0x00000001
	p, _ := newSimProgrammer(t, model)

	name, err := p.PartName()
	if err != nil {
		t.Fatalf("PartName failed: %v", err)
	}
	if name != "Unrecognized FPGA (00000001)" {
		t.Errorf("unexpected part name %q", name)
	}
}

func TestReadStatusDecodesRegister(t *testing.T) {
	model := NewSimulator()
	model.done = true
	model.iscEnabled = true
	p, _ := newSimProgrammer(t, model)

	status, err := p.ReadStatus()
	if err != nil {
		t.Fatalf("ReadStatus failed: %v", err)
	}
	want := StatusJTAGActive | StatusDone | StatusISCEnabled | StatusWriteable
	if status != want {
		t.Errorf("expected status %s, got %s", want, status)
	}
}

func TestReadUsercode(t *testing.T) {
	model := NewSimulator()
	model.Usercode = 0xDEADBEEF
	p, _ := newSimProgrammer(t, model)

	usercode, err := p.ReadUsercode()
	if err != nil {
		t.Fatalf("ReadUsercode failed: %v", err)
	}
	if usercode != 0xDEADBEEF {
		t.Errorf("expected usercode 0xDEADBEEF, got 0x%08X", usercode)
	}
}

func TestConfigureLoadsBitstream(t *testing.T) {
	model := NewSimulator()
	p, sim := newSimProgrammer(t, model)

	bitstream := make([]byte, 300)
	for i := range bitstream {
		bitstream[i] = byte(i*7 + 3)
	}
	if err := p.Configure(bitstream); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	if !bytes.Equal(model.bitstream, bitstream) {
		t.Errorf("device received %d-byte bitstream, sent %d bytes", len(model.bitstream), len(bitstream))
	}
	if !model.done {
		t.Error("device did not reach DONE")
	}
	if model.iscEnabled {
		t.Error("configuration mode still active after Configure")
	}

	indicators := sim.Indicators()
	want := []uint16{debugger.LEDPatternUpload, debugger.LEDPatternIdle}
	if len(indicators) != len(want) || indicators[0] != want[0] || indicators[1] != want[1] {
		t.Errorf("expected LED patterns %v, got %v", want, indicators)
	}
}

func TestConfigureReportsBurstFailure(t *testing.T) {
	model := NewSimulator()
	model.FailConfiguration = true
	p, sim := newSimProgrammer(t, model)

	err := p.Configure(make([]byte, 64))
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Status.ErrorCode() != ErrorCodeCRCFailed {
		t.Errorf("expected CRC error code, got %s", se.Status.ErrorCode())
	}

	indicators := sim.Indicators()
	if len(indicators) == 0 || indicators[len(indicators)-1] != debugger.LEDPatternIdle {
		t.Errorf("idle LED pattern not restored after failure: %v", indicators)
	}
}

func TestConfigureFailsWhenEraseFails(t *testing.T) {
	model := NewSimulator()
	model.FailErase = true
	p, _ := newSimProgrammer(t, model)

	err := p.Configure(make([]byte, 64))
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Status.ErrorCode() != ErrorCodeIllegalCommand {
		t.Errorf("expected illegal-command error code, got %s", se.Status.ErrorCode())
	}
}

func TestConfigureRejectsMissingDevice(t *testing.T) {
	model := NewSimulator()
	model.IDCode = 0xFFFFFFFF
	p, _ := newSimProgrammer(t, model)

	err := p.Configure(make([]byte, 64))
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError for all-ones IDCODE, got %v", err)
	}
}

func TestUnconfigureClearsDevice(t *testing.T) {
	model := NewSimulator()
	model.done = true
	p, _ := newSimProgrammer(t, model)

	if err := p.Unconfigure(); err != nil {
		t.Fatalf("Unconfigure failed: %v", err)
	}
	if model.done {
		t.Error("device still reports DONE after Unconfigure")
	}
	if model.iscEnabled {
		t.Error("configuration mode left active after Unconfigure")
	}
}

func TestTriggerReconfigurationClearsFailure(t *testing.T) {
	model := NewSimulator()
	model.done = true
	model.stickyFail = true
	model.errorCode = ErrorCodeCRCFailed
	p, _ := newSimProgrammer(t, model)

	if err := p.TriggerReconfiguration(); err != nil {
		t.Fatalf("TriggerReconfiguration failed: %v", err)
	}
	if model.done || model.stickyFail {
		t.Error("refresh did not clear configuration state")
	}
}

func TestWaitForCompletionTimeout(t *testing.T) {
	model := NewSimulator()
	p, _ := newSimProgrammer(t, model, WithCommandTimeout(25*time.Millisecond))

	model.busyPolls = 1 << 20
	err := p.waitForCompletion(OpISCErase)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if te.Timeout != 25*time.Millisecond {
		t.Errorf("expected 25ms timeout in error, got %v", te.Timeout)
	}
}

func TestValidateStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  Status
		expect  statusExpectation
		wantErr bool
	}{
		{"healthy", StatusJTAGActive, statusExpectation{}, false},
		{"fail flag", StatusFail, statusExpectation{}, true},
		{"fail downgraded", StatusFail, statusExpectation{continueAnyway: true}, false},
		{"id error", StatusIDError, statusExpectation{}, true},
		{"invalid command", StatusInvalidCommand, statusExpectation{}, true},
		{"done missing", StatusJTAGActive, statusExpectation{expectDone: true}, true},
		{"done present", StatusDone, statusExpectation{expectDone: true}, false},
		{"done missing downgraded", StatusJTAGActive, statusExpectation{expectDone: true, continueAnyway: true}, false},
		{"isc missing", StatusJTAGActive, statusExpectation{expectISC: true}, true},
		{"isc present", StatusISCEnabled, statusExpectation{expectISC: true}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateStatus(tc.status, tc.expect)
			if (err != nil) != tc.wantErr {
				t.Errorf("validateStatus(%s) error = %v, wantErr %v", tc.status, err, tc.wantErr)
			}
		})
	}
}

func TestValidateStatusCarriesErrorCode(t *testing.T) {
	status := StatusFail | Status(ErrorCodeSRAMOverrun)<<statusErrorShift
	err := validateStatus(status, statusExpectation{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Status.ErrorCode() != ErrorCodeSRAMOverrun {
		t.Errorf("expected SRAM overrun code, got %s", se.Status.ErrorCode())
	}
}

func TestBackgroundTransferRoundTripsOnLoopback(t *testing.T) {
	c := jtag.NewChain(jtag.NewSimTransport(nil))
	if _, err := c.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	p := NewJTAGProgrammer(c)

	payload := []byte{0x9F, 0x00, 0xA5, 0xFF, 0x13, 0x80}
	response, err := p.backgroundSPITransfer(payload)
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if !bytes.Equal(response, payload) {
		t.Errorf("loopback transfer mangled data: sent % X, got % X", payload, response)
	}
}
