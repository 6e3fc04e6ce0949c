// The main package for the deployctl executable.
package main

import (
	"github.com/prospectbase/deployctl/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
