package main

import (
	"os"

	"github.com/quantfall/polyflow/cmd/polyflow/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
