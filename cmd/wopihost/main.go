// Command wopihost runs a standalone WOPI host HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/YananZhang666/wopihost/cmd/wopihost/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
