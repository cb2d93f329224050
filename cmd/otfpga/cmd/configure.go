package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configureCmd = &cobra.Command{
	Use:   "configure <bitstream>",
	Short: "Upload a bitstream into the FPGA's SRAM over JTAG",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigure,
}

var unconfigureCmd = &cobra.Command{
	Use:   "unconfigure",
	Short: "Erase the FPGA's SRAM, leaving it unconfigured",
	RunE:  runUnconfigure,
}

var reconfigureCmd = &cobra.Command{
	Use:   "reconfigure",
	Short: "Ask the FPGA to reconfigure itself from its flash",
	RunE:  runReconfigure,
}

var forceOfflineCmd = &cobra.Command{
	Use:   "force-offline",
	Short: "Force the board's FPGA offline",
	RunE:  runForceOffline,
}

func init() {
	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(unconfigureCmd)
	rootCmd.AddCommand(reconfigureCmd)
	rootCmd.AddCommand(forceOfflineCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	bitstream, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read bitstream: %w", err)
	}

	s, err := openChain()
	if err != nil {
		return err
	}
	defer s.release()

	p, err := s.programmer()
	if err != nil {
		return err
	}
	if err := p.Configure(bitstream); err != nil {
		return err
	}
	s.handBackUSB()
	fmt.Printf("Configured FPGA with %d bytes.\n", len(bitstream))
	return nil
}

func runUnconfigure(cmd *cobra.Command, args []string) error {
	s, err := openChain()
	if err != nil {
		return err
	}
	defer s.release()

	p, err := s.programmer()
	if err != nil {
		return err
	}
	return p.Unconfigure()
}

func runReconfigure(cmd *cobra.Command, args []string) error {
	s, err := openChain()
	if err != nil {
		return err
	}
	defer s.release()

	p, err := s.programmer()
	if err != nil {
		return err
	}
	return p.TriggerReconfiguration()
}

func runForceOffline(cmd *cobra.Command, args []string) error {
	dev, err := openDevice()
	if err != nil {
		return err
	}
	defer dev.Close()
	return dev.ForceFPGAOffline()
}
