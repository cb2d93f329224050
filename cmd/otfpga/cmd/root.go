package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/debugger"
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/ecp5"
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/jtag"
)

var (
	// Global flags
	verbose  bool
	trace    bool
	serial   string
	simulate bool
)

var rootCmd = &cobra.Command{
	Use:   "otfpga",
	Short: "ECP5 FPGA debug and configuration tool",
	Long: `Configures, flashes and debugs ECP5 FPGA boards through their USB
debug controller (Cynthion and Apollo-compatible hardware).

Examples:
  otfpga info                          # Identify the attached board
  otfpga configure design.bit          # Load a bitstream into FPGA SRAM
  otfpga flash-program design.bit      # Write a bitstream to config flash
  otfpga jtag-scan                     # List devices on the JTAG chain`,
	Version: "1.0.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch {
		case trace:
			log.SetLevel(log.TraceLevel)
		case verbose:
			log.SetLevel(log.DebugLevel)
		default:
			log.SetLevel(log.WarnLevel)
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&trace, "trace", false, "log every USB transfer")
	rootCmd.PersistentFlags().StringVarP(&serial, "serial", "s", "", "serial number of the debug controller to use")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "run against a simulated board instead of hardware")
}

// session bundles the transport a command drives with its teardown. With
// --simulate the device is nil and everything runs against a behavioral
// model; commands that need real hardware check Device for nil.
type session struct {
	dev     *debugger.Device // nil when simulating
	sim     *ecp5.Simulator  // nil on hardware
	chain   *jtag.Chain
	release func()
}

// openDevice connects to the debug controller without touching the JTAG
// engine, for commands that only speak to the firmware.
func openDevice(opts ...debugger.Option) (*debugger.Device, error) {
	if simulate {
		return nil, fmt.Errorf("this command needs real hardware (remove --simulate)")
	}
	if serial != "" {
		opts = append(opts, debugger.WithSerial(serial))
	}
	return debugger.Open(opts...)
}

// openChain connects and acquires the JTAG chain. The caller must invoke the
// session's release on every exit path.
func openChain(opts ...debugger.Option) (*session, error) {
	if simulate {
		model := ecp5.NewSimulator()
		chain := jtag.NewChain(jtag.NewSimTransport(model))
		release, err := chain.Acquire()
		if err != nil {
			return nil, err
		}
		return &session{sim: model, chain: chain, release: release}, nil
	}

	dev, err := openDevice(opts...)
	if err != nil {
		return nil, err
	}
	chain := jtag.NewChain(dev)
	release, err := chain.Acquire()
	if err != nil {
		dev.Close()
		return nil, err
	}
	return &session{
		dev:   dev,
		chain: chain,
		release: func() {
			release()
			dev.Close()
		},
	}, nil
}

// handBackUSB lets the freshly loaded design take over the shared USB port
// once we are done with the debug controller. Best effort; older firmware
// stalls the request.
func (s *session) handBackUSB() {
	if s.dev == nil {
		return
	}
	if err := s.dev.AllowFPGATakeoverUSB(true); err != nil {
		log.WithError(err).Debug("could not hand the USB port back to the FPGA")
	}
}

// programmer builds the configuration backend appropriate for the session's
// board.
func (s *session) programmer(opts ...ecp5.Option) (ecp5.Programmer, error) {
	if s.dev == nil {
		return ecp5.NewJTAGProgrammer(s.chain, opts...), nil
	}
	return ecp5.CreateProgrammer(s.dev, s.chain, opts...)
}

// jtagProgrammer is for flash commands, which need the flash-capable
// concrete type rather than the Programmer surface.
func (s *session) jtagProgrammer(opts ...ecp5.Option) *ecp5.JTAGProgrammer {
	return ecp5.NewJTAGProgrammer(s.chain, opts...)
}
