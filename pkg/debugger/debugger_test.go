package debugger

import "testing"

func TestHardwareName(t *testing.T) {
	cases := []struct {
		major, minor uint8
		want         string
	}{
		{0, 4, "Cynthion r0.4"},
		{1, 0, "Cynthion r1.0"},
		{0xFF, 0, "Daisho"},
		{0xFF, 2, "Adafruit QT Py ATSAMD21E18"},
		{0xFF, 9, "unknown external board (minor 9)"},
		{0xFE, 1, "Amalthea r1"},
	}
	for _, tc := range cases {
		d := &Device{major: tc.major, minor: tc.minor}
		if got := d.HardwareName(); got != tc.want {
			t.Fatalf("HardwareName(%d.%d) = %q, want %q", tc.major, tc.minor, got, tc.want)
		}
	}
}

func TestDedicatedDebugSPIGate(t *testing.T) {
	if !(&Device{major: 0, minor: 2}).HasDedicatedDebugSPI() {
		t.Fatal("r0.2 should expose a dedicated debug SPI bus")
	}
	if (&Device{major: 0, minor: 3}).HasDedicatedDebugSPI() {
		t.Fatal("r0.3 routes debug SPI over JTAG")
	}
	if (&Device{major: 0xFF, minor: 2}).HasDedicatedDebugSPI() {
		t.Fatal("external boards have no dedicated debug SPI")
	}
}

func TestCString(t *testing.T) {
	if got := cString([]byte("Apollo Debug Module\x00garbage")); got != "Apollo Debug Module" {
		t.Fatalf("cString = %q", got)
	}
	if got := cString([]byte("v1.0.1")); got != "v1.0.1" {
		t.Fatalf("cString without NUL = %q", got)
	}
}

func TestIsNotSupported(t *testing.T) {
	err := error(&NotSupportedError{Request: RequestGetUSBAPIVersion})
	if !IsNotSupported(err) {
		t.Fatal("IsNotSupported should match NotSupportedError")
	}
	if IsNotSupported(&TransportError{Request: 1, Direction: "out"}) {
		t.Fatal("IsNotSupported must not match TransportError")
	}
}
