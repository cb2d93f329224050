package jtag

import (
	"errors"
	"strings"
	"testing"

	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/tap"
)

func TestPatternParse(t *testing.T) {
	parser, err := NewPatternParser()
	if err != nil {
		t.Fatalf("NewPatternParser failed: %v", err)
	}

	file, err := parser.ParseString(`
		! reset and identify
		STATE RESET;
		SIR 8 TDI (E0); // read the part ID
		SDR 32 TDI (00000000) TDO (41111043) MASK (0FFFFFFF);
		RUNTEST 100 TCK;
	`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(file.Commands) != 4 {
		t.Fatalf("expected 4 commands, got %d", len(file.Commands))
	}

	if st := file.Commands[0].State; st == nil || st.Target != "RESET" {
		t.Errorf("command 0: expected STATE RESET, got %+v", file.Commands[0])
	}
	sir := file.Commands[1].Shift
	if sir == nil || strings.ToUpper(sir.Register) != "SIR" || sir.Bits != 8 {
		t.Fatalf("command 1: expected SIR 8, got %+v", file.Commands[1])
	}
	if len(sir.Operands) != 1 || sir.Operands[0].Value != "E0" {
		t.Errorf("command 1: expected single TDI (E0) operand, got %+v", sir.Operands)
	}
	sdr := file.Commands[2].Shift
	if sdr == nil || sdr.Bits != 32 || len(sdr.Operands) != 3 {
		t.Fatalf("command 2: expected SDR 32 with 3 operands, got %+v", file.Commands[2])
	}
	if rt := file.Commands[3].RunTest; rt == nil || rt.Cycles != 100 {
		t.Errorf("command 3: expected RUNTEST 100, got %+v", file.Commands[3])
	}
}

func TestPatternParseLowercase(t *testing.T) {
	parser, err := NewPatternParser()
	if err != nil {
		t.Fatalf("NewPatternParser failed: %v", err)
	}
	file, err := parser.ParseString("state reset; sir 8 tdi (e0);")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(file.Commands) != 2 {
		t.Errorf("expected 2 commands, got %d", len(file.Commands))
	}
}

func TestPatternParseErrors(t *testing.T) {
	parser, err := NewPatternParser()
	if err != nil {
		t.Fatalf("NewPatternParser failed: %v", err)
	}
	for _, input := range []string{
		"STATE;",            // missing state name
		"SDR TDI (FF);",     // missing bit count
		"FREQUENCY 1E6 HZ;", // unsupported command
		"SIR 8 TDI (FF)",    // missing terminator
	} {
		if _, err := parser.ParseString(input); err == nil {
			t.Errorf("expected parse error for %q", input)
		}
	}
}

func TestParsePatternValue(t *testing.T) {
	tests := []struct {
		value   string
		bits    int
		want    uint64
		wantErr bool
	}{
		{"E0", 8, 0xE0, false},
		{"0", 1, 0, false},
		{"1", 1, 1, false},
		{"FFF", 12, 0xFFF, false}, // odd digit count
		{"00FF", 8, 0xFF, false},  // leading zeros allowed
		{"41111043", 32, 0x41111043, false},
		{"1FF", 8, 0, true}, // needs 9 bits
		{"FF", 4, 0, true},  // set bits above width
		{"G0", 8, 0, true},  // not hex
	}
	for _, tt := range tests {
		v, err := parsePatternValue(tt.value, tt.bits)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parsePatternValue(%q, %d): expected error", tt.value, tt.bits)
			}
			continue
		}
		if err != nil {
			t.Errorf("parsePatternValue(%q, %d): %v", tt.value, tt.bits, err)
			continue
		}
		if v.Len() != tt.bits || v.Uint() != tt.want {
			t.Errorf("parsePatternValue(%q, %d) = %s, want 0x%X", tt.value, tt.bits, v, tt.want)
		}
	}
}

func TestPlayerRunsAgainstDevice(t *testing.T) {
	dev := newSimDevice(0x41111043, 8)
	sim := NewSimTransport(dev)
	c := NewChain(sim)
	if _, err := c.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	err := NewPlayer(c).PlayString(`
		STATE RESET;
		SDR 32 TDI (00000000) TDO (41111043);
		SIR 8 TDI (E0) TDO (01) MASK (03);
		RUNTEST 32 TCK;
	`)
	if err != nil {
		t.Fatalf("playback failed: %v", err)
	}
	if dev.latchedIR != 0xE0 {
		t.Errorf("expected latched opcode 0xE0, got 0x%02X", dev.latchedIR)
	}
	if sim.ClockedCycles() != 32 {
		t.Errorf("expected 32 clocked cycles, got %d", sim.ClockedCycles())
	}
	if c.State() != tap.StateRunTestIdle {
		t.Errorf("expected Run-Test/Idle after playback, got %s", c.State())
	}
}

func TestPlayerReportsTDOMismatch(t *testing.T) {
	sim := NewSimTransport(newSimDevice(0x41111043, 8))
	c := NewChain(sim)
	if _, err := c.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	err := NewPlayer(c).PlayString(`STATE RESET;
SDR 32 TDI (00000000) TDO (DEADBEEF);`)
	var perr *PatternError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PatternError, got %v", err)
	}
	if perr.Line != 2 {
		t.Errorf("expected failure on line 2, got %d", perr.Line)
	}
	if perr.Command != "SDR" {
		t.Errorf("expected SDR command in error, got %q", perr.Command)
	}
}

func TestPlayerMaskHidesMismatch(t *testing.T) {
	sim := NewSimTransport(newSimDevice(0x41111043, 8))
	c := NewChain(sim)
	if _, err := c.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Low two bits of the IDCODE and the wrong expectation agree; the
	// mask hides everything else.
	err := NewPlayer(c).PlayString(`STATE RESET;
SDR 32 TDI (00000000) TDO (DEADBEEF) MASK (00000003);`)
	if err != nil {
		t.Errorf("masked comparison should pass, got %v", err)
	}
}

func TestPlayerRejectsBadCommands(t *testing.T) {
	sim := NewSimTransport(nil)
	c := NewChain(sim)
	if _, err := c.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	p := NewPlayer(c)

	for _, input := range []string{
		"STATE NOWHERE;",            // unknown state name
		"SDR 8 TDO (FF);",           // missing TDI
		"SDR 8 TDI (00) MASK (FF);", // MASK without TDO
		"SDR 8 TDI (1FF);",          // value wider than the register
	} {
		err := p.PlayString(input)
		var perr *PatternError
		if !errors.As(err, &perr) {
			t.Errorf("%q: expected PatternError, got %v", input, err)
		}
	}
}
