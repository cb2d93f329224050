package ecp5

import (
	"errors"
	"testing"

	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/jtag"
)

func newSimRegisters(t *testing.T, model *Simulator) *Registers {
	t.Helper()
	sim := jtag.NewSimTransport(model)
	c := jtag.NewChain(sim)
	if _, err := c.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	return NewRegisters(c)
}

func TestDetectWidths(t *testing.T) {
	model := NewSimulator()
	r := newSimRegisters(t, model)

	if err := r.DetectWidths(); err != nil {
		t.Fatalf("DetectWidths failed: %v", err)
	}
	if r.InstructionWidth() != 8 {
		t.Errorf("expected instruction width 8, got %d", r.InstructionWidth())
	}
	if r.DataWidth() != 32 {
		t.Errorf("expected data width 32, got %d", r.DataWidth())
	}
}

func TestDetectWidthsRejectsUnusableRegisters(t *testing.T) {
	tests := []struct {
		name             string
		instructionWidth int
		dataWidth        int
	}{
		{"absent registers", 0, 0},
		{"single-bit data path", 8, 1},
		{"non-byte instruction path", 127, 32},
		{"all ones at probe limit", 128, 32},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			model := NewSimulator()
			model.InstructionWidth = tc.instructionWidth
			model.DataWidth = tc.dataWidth
			r := newSimRegisters(t, model)

			err := r.DetectWidths()
			var me *MismatchError
			if !errors.As(err, &me) {
				t.Fatalf("expected MismatchError, got %v", err)
			}
			if r.InstructionWidth() != 0 || r.DataWidth() != 0 {
				t.Errorf("widths retained after failed negotiation: %d/%d",
					r.InstructionWidth(), r.DataWidth())
			}
		})
	}
}

func TestRegisterWriteReadRoundTrip(t *testing.T) {
	model := NewSimulator()
	r := newSimRegisters(t, model)

	previous, err := r.Write(0x05, 0xCAFEBABE)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if previous != 0 {
		t.Errorf("expected empty register before first write, got 0x%X", previous)
	}

	value, err := r.Read(0x05)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if value != 0xCAFEBABE {
		t.Errorf("expected 0xCAFEBABE, got 0x%X", value)
	}

	previous, err = r.Write(0x05, 0x1111)
	if err != nil {
		t.Fatalf("second Write failed: %v", err)
	}
	if previous != 0xCAFEBABE {
		t.Errorf("expected previous contents 0xCAFEBABE, got 0x%X", previous)
	}
	if model.RegisterFile[0x05] != 0x1111 {
		t.Errorf("register file holds 0x%X", model.RegisterFile[0x05])
	}

	if r.InstructionWidth() != 8 || r.DataWidth() != 32 {
		t.Errorf("unexpected negotiated widths %d/%d", r.InstructionWidth(), r.DataWidth())
	}
}

func TestRegisterRoundTripWithWideWords(t *testing.T) {
	model := NewSimulator()
	model.InstructionWidth = 16
	model.DataWidth = 64
	r := newSimRegisters(t, model)

	if _, err := r.Write(0x2A, 0xDEADBEEF01020304); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	value, err := r.Read(0x2A)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if value != 0xDEADBEEF01020304 {
		t.Errorf("expected 0xDEADBEEF01020304, got 0x%X", value)
	}
}
