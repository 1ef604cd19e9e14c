package main

import (
	"os"

	"github.com/vipyrsec/dragonfly.mantissecurity.org/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
