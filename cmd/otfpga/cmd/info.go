package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceFPGA/pkg/debugger"
)

var infoForceOffline bool

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print information about the attached board",
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&infoForceOffline, "force-offline", false,
		"pull the FPGA offline if it holds the shared USB port")
}

func runInfo(cmd *cobra.Command, args []string) error {
	var opts []debugger.Option
	if infoForceOffline {
		opts = append(opts, debugger.WithForceOffline())
	}
	dev, err := openDevice(opts...)
	if err != nil {
		return err
	}
	defer dev.Close()

	fmt.Printf("Detected a %s\n", dev.HardwareName())
	fmt.Printf("\tProduct: %s\n", dev.ProductName())
	if sn := dev.SerialNumber(); sn != "" {
		fmt.Printf("\tSerial number: %s\n", sn)
	}

	if id, err := dev.Identify(); err == nil {
		fmt.Printf("\tFirmware identity: %s\n", id)
	}
	if version, err := dev.FirmwareVersion(); err == nil {
		fmt.Printf("\tFirmware version: %s\n", version)
	}
	if major, minor, err := dev.USBAPIVersion(); err == nil {
		fmt.Printf("\tUSB API version: %d.%d\n", major, minor)
	}
	return nil
}
