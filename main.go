// The main package for the hopper executable.
package main

import (
	"github.com/pagehive/hopper/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
