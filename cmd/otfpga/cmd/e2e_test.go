package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

// run executes the root command with the given arguments against the
// simulated board.
func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(append([]string{"--simulate"}, args...))
	return rootCmd.Execute()
}

func TestScanSimulatedChain(t *testing.T) {
	if err := run(t, "jtag-scan"); err != nil {
		t.Fatalf("jtag-scan failed: %v", err)
	}
}

func TestConfigureFromFile(t *testing.T) {
	bitstream := filepath.Join(t.TempDir(), "design.bit")
	if err := os.WriteFile(bitstream, make([]byte, 512), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := run(t, "configure", bitstream); err != nil {
		t.Fatalf("configure failed: %v", err)
	}
}

func TestConfigureMissingFile(t *testing.T) {
	if err := run(t, "configure", filepath.Join(t.TempDir(), "absent.bit")); err == nil {
		t.Fatal("expected error for missing bitstream file")
	}
}

func TestFlashProgramAndReadBack(t *testing.T) {
	dir := t.TempDir()
	bitstream := filepath.Join(dir, "design.bit")
	if err := os.WriteFile(bitstream, []byte{0x11, 0x22, 0x33, 0x44}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := run(t, "flash-program", "--no-progress", bitstream); err != nil {
		t.Fatalf("flash-program failed: %v", err)
	}

	out := filepath.Join(dir, "readback.bin")
	if err := run(t, "flash-read", "--length", "512", out); err != nil {
		t.Fatalf("flash-read failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 512 {
		t.Fatalf("read back %d bytes, want 512", len(data))
	}
}

func TestUnconfigure(t *testing.T) {
	if err := run(t, "unconfigure"); err != nil {
		t.Fatalf("unconfigure failed: %v", err)
	}
}

func TestPatternPlayback(t *testing.T) {
	pattern := filepath.Join(t.TempDir(), "identify.pat")
	script := "STATE RESET;\nSIR 8 TDI (E0);\nSDR 32 TDI (00000000) TDO (41111043);\n"
	if err := os.WriteFile(pattern, []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := run(t, "pattern", pattern); err != nil {
		t.Fatalf("pattern playback failed: %v", err)
	}
}

func TestHardwareCommandsRefuseSimulation(t *testing.T) {
	if err := run(t, "info"); err == nil {
		t.Fatal("info should refuse to run against the simulator")
	}
	if err := run(t, "leds", "1"); err == nil {
		t.Fatal("leds should refuse to run against the simulator")
	}
}
