package jtag

import (
	"encoding/hex"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/bitvec"
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/tap"
)

// PatternError reports a pattern command that could not be executed, or
// whose captured TDO did not match its expectation.
type PatternError struct {
	Line    int
	Command string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("pattern line %d: %s: %v", e.Line, e.Command, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// Player replays parsed pattern files against a chain. The caller holds the
// chain acquisition for the duration of playback.
//
// Each shift leaves the TAP in Run-Test/Idle, matching the SVF default end
// state.
type Player struct {
	chain *Chain
}

// NewPlayer builds a player for the given chain.
func NewPlayer(chain *Chain) *Player {
	return &Player{chain: chain}
}

// Play executes every command of a parsed pattern file in order, stopping at
// the first failure.
func (p *Player) Play(file *PatternFile) error {
	for _, cmd := range file.Commands {
		if err := p.run(cmd); err != nil {
			return err
		}
	}
	return nil
}

// PlayString parses and executes a pattern held in a string.
func (p *Player) PlayString(input string) error {
	parser, err := NewPatternParser()
	if err != nil {
		return err
	}
	file, err := parser.ParseString(input)
	if err != nil {
		return err
	}
	return p.Play(file)
}

// PlayFile parses and executes the pattern file at the given path.
func (p *Player) PlayFile(filename string) error {
	parser, err := NewPatternParser()
	if err != nil {
		return err
	}
	file, err := parser.ParseFile(filename)
	if err != nil {
		return err
	}
	return p.Play(file)
}

func (p *Player) run(cmd *PatternCommand) error {
	switch {
	case cmd.State != nil:
		target, err := tap.ParseState(cmd.State.Target)
		if err != nil {
			return &PatternError{Line: cmd.Pos.Line, Command: "STATE", Err: err}
		}
		log.Tracef("pattern: STATE %s", target)
		if err := p.chain.MoveToState(target); err != nil {
			return &PatternError{Line: cmd.Pos.Line, Command: "STATE", Err: err}
		}
		return nil

	case cmd.Shift != nil:
		return p.runShift(cmd.Pos.Line, cmd.Shift)

	case cmd.RunTest != nil:
		log.Tracef("pattern: RUNTEST %d", cmd.RunTest.Cycles)
		if err := p.chain.RunTest(cmd.RunTest.Cycles); err != nil {
			return &PatternError{Line: cmd.Pos.Line, Command: "RUNTEST", Err: err}
		}
		return nil
	}
	return &PatternError{Line: cmd.Pos.Line, Command: "?", Err: fmt.Errorf("empty command")}
}

func (p *Player) runShift(line int, cmd *ShiftCommand) error {
	name := strings.ToUpper(cmd.Register)
	fail := func(err error) error {
		return &PatternError{Line: line, Command: name, Err: err}
	}

	if cmd.Bits <= 0 {
		return fail(fmt.Errorf("shift of %d bits", cmd.Bits))
	}

	var tdi, tdo, mask *bitvec.Vector
	for _, op := range cmd.Operands {
		value, err := parsePatternValue(op.Value, cmd.Bits)
		if err != nil {
			return fail(fmt.Errorf("%s: %w", strings.ToUpper(op.Kind), err))
		}
		switch strings.ToUpper(op.Kind) {
		case "TDI":
			tdi = value
		case "TDO":
			tdo = value
		case "MASK":
			mask = value
		}
	}
	if tdi == nil {
		return fail(fmt.Errorf("missing TDI operand"))
	}
	if mask != nil && tdo == nil {
		return fail(fmt.Errorf("MASK without TDO"))
	}

	log.Tracef("pattern: %s %d bits", name, cmd.Bits)
	var captured *bitvec.Vector
	var err error
	if name == "SIR" {
		captured, err = p.chain.ShiftInstruction(tdi, tap.StateRunTestIdle)
	} else {
		captured, err = p.chain.ShiftData(tdi, tap.StateRunTestIdle)
	}
	if err != nil {
		return fail(err)
	}

	if tdo == nil {
		return nil
	}
	if mask == nil {
		mask = bitvec.Ones(cmd.Bits)
	}
	for i := 0; i < cmd.Bits; i++ {
		if mask.Bit(i) && captured.Bit(i) != tdo.Bit(i) {
			return fail(fmt.Errorf("TDO mismatch at bit %d: captured %s, expected %s", i, captured, tdo))
		}
	}
	return nil
}

// parsePatternValue decodes an SVF-style hex value into a shift vector of
// exactly bits length. Values shorter than the register are zero-extended;
// set bits beyond the register width are an error.
func parsePatternValue(value string, bits int) (*bitvec.Vector, error) {
	if len(value)%2 != 0 {
		value = "0" + value
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("bad hex value %q", value)
	}

	needed := (bits + 7) / 8
	for len(raw) > needed {
		if raw[0] != 0 {
			return nil, fmt.Errorf("value %q wider than %d bits", value, bits)
		}
		raw = raw[1:]
	}
	for len(raw) < needed {
		raw = append([]byte{0}, raw...)
	}

	full := bitvec.FromBytes(raw, bitvec.Big)
	for i := bits; i < full.Len(); i++ {
		if full.Bit(i) {
			return nil, fmt.Errorf("value %q wider than %d bits", value, bits)
		}
	}
	return full.Slice(0, bits), nil
}
