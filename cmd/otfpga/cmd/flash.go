package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/ecp5"
)

var (
	flashOffset     uint32
	flashLength     uint32
	flashSkipErase  bool
	flashUnprotect  bool
	flashNoProgress bool
)

var flashInfoCmd = &cobra.Command{
	Use:   "flash-info",
	Short: "Identify the FPGA's configuration flash",
	RunE:  runFlashInfo,
}

var flashEraseCmd = &cobra.Command{
	Use:   "flash-erase",
	Short: "Erase the FPGA's configuration flash",
	RunE:  runFlashErase,
}

var flashProgramCmd = &cobra.Command{
	Use:     "flash-program <bitstream>",
	Aliases: []string{"flash"},
	Short:   "Write a bitstream into the configuration flash",
	Args:    cobra.ExactArgs(1),
	RunE:    runFlashProgram,
}

var flashReadCmd = &cobra.Command{
	Use:   "flash-read <output-file>",
	Short: "Read the configuration flash back into a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runFlashRead,
}

func init() {
	rootCmd.AddCommand(flashInfoCmd)
	rootCmd.AddCommand(flashEraseCmd)
	rootCmd.AddCommand(flashProgramCmd)
	rootCmd.AddCommand(flashReadCmd)

	flashProgramCmd.Flags().Uint32Var(&flashOffset, "offset", 0, "byte offset to program at")
	flashProgramCmd.Flags().BoolVar(&flashSkipErase, "skip-erase", false, "do not erase the chip before programming")
	flashProgramCmd.Flags().BoolVar(&flashUnprotect, "clear-protections", false, "clear the flash's block protection bits first")
	flashProgramCmd.Flags().BoolVar(&flashNoProgress, "no-progress", false, "suppress the progress display")

	flashReadCmd.Flags().Uint32Var(&flashOffset, "offset", 0, "byte offset to read from")
	flashReadCmd.Flags().Uint32Var(&flashLength, "length", 4*1024*1024, "number of bytes to read")
}

// flashSession opens the chain and leaves the FPGA unconfigured, since a
// configured design may hold the flash's SPI bus.
func flashSession(opts ...ecp5.Option) (*session, *ecp5.JTAGProgrammer, error) {
	s, err := openChain()
	if err != nil {
		return nil, nil, err
	}
	p := s.jtagProgrammer(opts...)
	if err := p.Unconfigure(); err != nil {
		s.release()
		return nil, nil, fmt.Errorf("failed to unconfigure FPGA: %w", err)
	}
	return s, p, nil
}

func progressOption() ecp5.Option {
	return ecp5.WithProgress(func(done, total int) {
		if flashNoProgress {
			return
		}
		fmt.Printf("\r%d / %d bytes (%d%%)", done, total, done*100/total)
		if done == total {
			fmt.Println()
		}
	})
}

func runFlashInfo(cmd *cobra.Command, args []string) error {
	s, p, err := flashSession()
	if err != nil {
		return err
	}
	defer s.release()

	id, err := p.ReadFlashID()
	if err != nil {
		return err
	}
	fmt.Printf("Configuration flash: %s\n", id)

	if uid, err := p.ReadFlashUID(); err == nil {
		fmt.Printf("\tUnique ID: %016x\n", uid)
	}
	return nil
}

func runFlashErase(cmd *cobra.Command, args []string) error {
	s, p, err := flashSession()
	if err != nil {
		return err
	}
	defer s.release()
	return p.EraseFlash()
}

func runFlashProgram(cmd *cobra.Command, args []string) error {
	bitstream, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read bitstream: %w", err)
	}

	s, p, err := flashSession(progressOption())
	if err != nil {
		return err
	}
	defer s.release()

	var opts []ecp5.FlashOption
	if flashOffset != 0 {
		opts = append(opts, ecp5.WithOffset(flashOffset))
	}
	if flashSkipErase {
		opts = append(opts, ecp5.WithoutErase())
	}
	if flashUnprotect {
		opts = append(opts, ecp5.WithProtectionsCleared())
	}
	if err := p.Flash(bitstream, opts...); err != nil {
		return err
	}
	s.handBackUSB()
	fmt.Printf("Programmed %d bytes; FPGA is reconfiguring.\n", len(bitstream))
	return nil
}

func runFlashRead(cmd *cobra.Command, args []string) error {
	s, p, err := flashSession(progressOption())
	if err != nil {
		return err
	}
	defer s.release()

	var opts []ecp5.FlashOption
	if flashOffset != 0 {
		opts = append(opts, ecp5.WithOffset(flashOffset))
	}
	data, err := p.ReadFlash(int(flashLength), opts...)
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[0], data, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Printf("Read %d bytes to %s.\n", len(data), args[0])
	return nil
}
