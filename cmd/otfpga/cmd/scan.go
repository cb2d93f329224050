package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "jtag-scan",
	Short: "List the devices on the board's JTAG chain",
	RunE:  runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	s, err := openChain()
	if err != nil {
		return err
	}
	defer s.release()

	devices, err := s.chain.Enumerate()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No devices found on the JTAG chain.")
		return nil
	}

	fmt.Printf("Found %d device(s):\n", len(devices))
	for _, dev := range devices {
		fmt.Printf("  %s\n", dev.Description())
	}
	return nil
}
