// Package main is the entry point for the screenrec CLI.
package main

import (
	"os"

	"go2tv.app/screenrec/cmd/screenrec/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
