package main

import (
	"os"

	"github.com/openportal-labs/entraprov/cmd/entraprov/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
