// Command katra is the minimal entry point for the memory engine: it
// constructs the engine's collaborators from configuration and either
// runs the HTTP front door or a one-shot self-check.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
