// Package main is the entry point for the live playground server.
//
// The main package stays minimal: it parses the command line, loads the
// configuration, builds the logger and hands over to internal/server. All
// actual logic lives in the internal packages.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
