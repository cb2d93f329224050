package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/ecp5"
	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/spi"
)

var spiInvertCS bool

var spiCmd = &cobra.Command{
	Use:   "spi <byte>...",
	Short: "Exchange raw bytes over the debug SPI bus",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSPI,
}

var spiRegCmd = &cobra.Command{
	Use:   "spi-reg <address> [value]",
	Short: "Read or write a debug register over the debug SPI bus",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSPIReg,
}

var jtagSPICmd = &cobra.Command{
	Use:   "jtag-spi <byte>...",
	Short: "Exchange raw bytes over JTAG-tunneled debug SPI",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runJTAGSPI,
}

var jtagRegCmd = &cobra.Command{
	Use:   "jtag-reg <address> [value]",
	Short: "Read or write a debug register over JTAG-tunneled debug SPI",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runJTAGReg,
}

func init() {
	rootCmd.AddCommand(spiCmd)
	rootCmd.AddCommand(spiRegCmd)
	rootCmd.AddCommand(jtagSPICmd)
	rootCmd.AddCommand(jtagRegCmd)

	spiCmd.Flags().BoolVar(&spiInvertCS, "invert-cs", false, "drive chip select active-high")
}

func parseBytes(args []string) ([]byte, error) {
	data := make([]byte, len(args))
	for i, arg := range args {
		v, err := strconv.ParseUint(arg, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid byte %q", arg)
		}
		data[i] = byte(v)
	}
	return data, nil
}

func runSPI(cmd *cobra.Command, args []string) error {
	data, err := parseBytes(args)
	if err != nil {
		return err
	}

	dev, err := openDevice()
	if err != nil {
		return err
	}
	defer dev.Close()

	var opts []spi.Option
	if spiInvertCS {
		opts = append(opts, spi.WithInvertedCS())
	}
	response, err := spi.NewConnection(dev, opts...).Transfer(data)
	if err != nil {
		return err
	}
	fmt.Printf("response: % X\n", response)
	return nil
}

func runSPIReg(cmd *cobra.Command, args []string) error {
	dev, err := openDevice()
	if err != nil {
		return err
	}
	defer dev.Close()
	return registerExchange(spi.NewConnection(dev), args)
}

func runJTAGSPI(cmd *cobra.Command, args []string) error {
	data, err := parseBytes(args)
	if err != nil {
		return err
	}

	s, err := openChain()
	if err != nil {
		return err
	}
	defer s.release()

	conn, _, err := tunnelFor(s)
	if err != nil {
		return err
	}
	response, err := conn.Transfer(data)
	if err != nil {
		return err
	}
	fmt.Printf("response: % X\n", response)
	return nil
}

func runJTAGReg(cmd *cobra.Command, args []string) error {
	s, err := openChain()
	if err != nil {
		return err
	}
	defer s.release()

	conn, _, err := tunnelFor(s)
	if err != nil {
		return err
	}
	return registerExchange(conn, args)
}

// tunnelFor builds the JTAG-SPI tunnel and register bridge for the
// session's board.
func tunnelFor(s *session) (*ecp5.JTAGSPIConnection, *ecp5.Registers, error) {
	if s.dev == nil {
		return ecp5.NewJTAGSPIConnection(s.chain), ecp5.NewRegisters(s.chain), nil
	}
	conn, regs, ok := ecp5.CreateJTAGSPI(s.dev, s.chain)
	if !ok {
		return nil, nil, fmt.Errorf("this board does not route debug SPI over JTAG")
	}
	return conn, regs, nil
}

// registerLink is the register access surface shared by the dedicated SPI
// connection and the JTAG tunnel.
type registerLink interface {
	RegisterRead(address uint8) (uint32, error)
	RegisterWrite(address uint8, value uint32) error
}

func registerExchange(link registerLink, args []string) error {
	address, err := strconv.ParseUint(args[0], 0, 8)
	if err != nil {
		return fmt.Errorf("invalid register address %q", args[0])
	}

	if len(args) == 2 {
		value, err := strconv.ParseUint(args[1], 0, 32)
		if err != nil {
			return fmt.Errorf("invalid register value %q", args[1])
		}
		return link.RegisterWrite(uint8(address), uint32(value))
	}

	value, err := link.RegisterRead(uint8(address))
	if err != nil {
		return err
	}
	fmt.Printf("0x%08X\n", value)
	return nil
}
