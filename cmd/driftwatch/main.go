package main

import (
	"os"

	"github.com/moolen/driftwatch/cmd/driftwatch/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
