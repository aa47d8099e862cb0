package main

import (
	"os"

	"github.com/rustyeddy/optbot/cmd/optbot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
