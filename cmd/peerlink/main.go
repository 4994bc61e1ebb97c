package main

import (
	"os"

	"github.com/opd-ai/peerlink/cmd/peerlink/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
