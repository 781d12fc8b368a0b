// Command atctl runs the AT command engine against configured ports and
// serves diagnostics and metrics over HTTP until interrupted.
package main

import (
	"github.com/atcortex/atengine/cmd/atctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.Exit("%v", err)
	}
}
