package main

import (
	"os"

	"github.com/intakehq/intake/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
