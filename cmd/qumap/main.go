// Package main provides the entry point for qumap.
//
// qumap is the command-line tool for the curve-addressed persistent
// key-value store, supporting direct store operations, benchmarks,
// and a metrics server.
package main

import (
	"fmt"
	"os"
)

func main() {
	app := App()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
