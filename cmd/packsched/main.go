package main

import (
	"os"

	"github.com/SandrickPro/packsched/cmd/packsched/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
