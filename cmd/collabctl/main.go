package main

import (
	"os"

	"github.com/lorrc/workspace-realtime/cmd/collabctl/commands"
)

// Version information - set during build
var version = "dev"

func main() {
	if err := commands.Execute(version); err != nil {
		os.Exit(1)
	}
}
