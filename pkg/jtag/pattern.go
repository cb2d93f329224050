package jtag

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Pattern files hold raw TAP sequences in a small SVF-style dialect:
//
//	! reset and identify
//	STATE RESET;
//	SIR 8 TDI (E0);
//	SDR 32 TDI (00000000) TDO (41111043) MASK (0FFFFFFF);
//	RUNTEST 100 TCK;
//
// Hex values follow SVF conventions: the least significant bit shifts
// first, and values may carry leading zeros.

// patternLexer defines the lexical structure of pattern files.
var patternLexer = lexer.MustSimple([]lexer.SimpleRule{
	// Comments, both SVF (!) and C++ (//) style
	{Name: "Comment", Pattern: `(//|!)[^\n]*`},

	// Whitespace
	{Name: "Whitespace", Pattern: `[\s\t\n\r]+`},

	// Commands (case-insensitive, as in SVF)
	{Name: "KwState", Pattern: `(?i)\bSTATE\b`},
	{Name: "KwSIR", Pattern: `(?i)\bSIR\b`},
	{Name: "KwSDR", Pattern: `(?i)\bSDR\b`},
	{Name: "KwRunTest", Pattern: `(?i)\bRUNTEST\b`},
	{Name: "KwTCK", Pattern: `(?i)\bTCK\b`},

	// Shift operands
	{Name: "KwTDI", Pattern: `(?i)\bTDI\b`},
	{Name: "KwTDO", Pattern: `(?i)\bTDO\b`},
	{Name: "KwMask", Pattern: `(?i)\bMASK\b`},

	// Identifiers cover state names and hex values that start with a
	// letter; numbers cover bit counts and hex values that start with a
	// digit. Must come after keywords.
	{Name: "Ident", Pattern: `[a-zA-Z][a-zA-Z0-9_]*`},
	{Name: "Number", Pattern: `[0-9][0-9A-Fa-f]*`},

	// Punctuation
	{Name: "LParen", Pattern: `\(`},
	{Name: "RParen", Pattern: `\)`},
	{Name: "Semicolon", Pattern: `;`},
})

// PatternFile represents a parsed pattern file.
type PatternFile struct {
	Commands []*PatternCommand `@@*`
}

// PatternCommand is one semicolon-terminated command.
type PatternCommand struct {
	Pos lexer.Position

	State   *StateCommand   `  @@`
	Shift   *ShiftCommand   `| @@`
	RunTest *RunTestCommand `| @@`
}

// StateCommand moves the TAP to a named stable state.
// Example: STATE IRPAUSE;
type StateCommand struct {
	Target string `KwState @Ident Semicolon`
}

// ShiftCommand scans a vector through the instruction or data register.
// Example: SDR 32 TDI (00000000) TDO (41111043) MASK (0FFFFFFF);
type ShiftCommand struct {
	Register string            `@( KwSIR | KwSDR )`
	Bits     int               `@Number`
	Operands []*PatternOperand `@@* Semicolon`
}

// PatternOperand is a hex-valued argument to a shift command.
type PatternOperand struct {
	Kind  string `@( KwTDI | KwTDO | KwMask )`
	Value string `LParen @( Number | Ident ) RParen`
}

// RunTestCommand clocks TCK in Run-Test/Idle.
// Example: RUNTEST 100 TCK;
type RunTestCommand struct {
	Cycles int `KwRunTest @Number KwTCK? Semicolon`
}

// PatternParser parses pattern files into their command list.
type PatternParser struct {
	parser *participle.Parser[PatternFile]
}

// NewPatternParser builds a pattern file parser.
func NewPatternParser() (*PatternParser, error) {
	parser, err := participle.Build[PatternFile](
		participle.Lexer(patternLexer),
		participle.Elide("Comment", "Whitespace"),
		participle.UseLookahead(2),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build parser: %w", err)
	}
	return &PatternParser{parser: parser}, nil
}

// Parse parses a pattern file from a reader.
func (p *PatternParser) Parse(name string, r io.Reader) (*PatternFile, error) {
	file, err := p.parser.Parse(name, r)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return file, nil
}

// ParseString parses a pattern file from a string.
func (p *PatternParser) ParseString(input string) (*PatternFile, error) {
	file, err := p.parser.ParseString("", input)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return file, nil
}

// ParseFile parses a pattern file from a file path.
func (p *PatternParser) ParseFile(filename string) (*PatternFile, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return p.Parse(filename, file)
}
