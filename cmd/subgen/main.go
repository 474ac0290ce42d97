package main

import (
	"os"

	"github.com/psantana5/subgen/cmd/subgen/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
