package cmd

import (
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/jtag"
)

var patternCmd = &cobra.Command{
	Use:   "pattern <file>",
	Short: "Play a TAP pattern file over JTAG",
	Long: `Plays an SVF-style pattern file against the board's JTAG chain.
Supported commands: STATE, SIR, SDR (with TDI/TDO/MASK operands) and
RUNTEST. Playback stops at the first TDO mismatch.`,
	Args: cobra.ExactArgs(1),
	RunE: runPattern,
}

func init() {
	rootCmd.AddCommand(patternCmd)
}

func runPattern(cmd *cobra.Command, args []string) error {
	s, err := openChain()
	if err != nil {
		return err
	}
	defer s.release()

	return jtag.NewPlayer(s.chain).PlayFile(args[0])
}
