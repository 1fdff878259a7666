// Command embedkv is a set of inspection and manual-poking tools for an
// embedkv database directory: sstdump for a single table file,
// manifestdump for a MANIFEST's replayed state, and ldb for one-off
// get/put/scan calls against an open database. None of these commands
// are exercised by the engine itself.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "embedkv",
		Short: "inspect and poke at embedkv database directories",
	}
	root.AddCommand(newSSTDumpCommand())
	root.AddCommand(newManifestDumpCommand())
	root.AddCommand(newLDBCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
