package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var ledsCmd = &cobra.Command{
	Use:   "leds <pattern>",
	Short: "Set the debug LED blink pattern",
	Args:  cobra.ExactArgs(1),
	RunE:  runLEDs,
}

func init() {
	rootCmd.AddCommand(ledsCmd)
}

func runLEDs(cmd *cobra.Command, args []string) error {
	pattern, err := strconv.ParseUint(args[0], 0, 16)
	if err != nil {
		return fmt.Errorf("invalid LED pattern %q", args[0])
	}

	dev, err := openDevice()
	if err != nil {
		return err
	}
	defer dev.Close()

	dev.SetIndicator(uint16(pattern))
	return nil
}
