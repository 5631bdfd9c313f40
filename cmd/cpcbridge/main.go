// Package main is the entry point for the cpcbridge application.
package main

import (
	"os"

	"github.com/jmylchreest/cpcbridge/cmd/cpcbridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
