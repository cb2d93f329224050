package main

import "github.com/OpenTraceLab/OpenTraceFPGA/cmd/otfpga/cmd"

func main() {
	cmd.Execute()
}
