// Command engraved runs the name-engraving queue processor: it connects
// to a FluidNC board, allocates board space for each queued name, and
// streams the compiled G-code to engrave it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var debug bool

func main() {
	root := &cobra.Command{
		Use:   "engraved",
		Short: "Name-engraving queue processor for a FluidNC laser rig",
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable verbose development logging")
	root.PersistentFlags().StringVar(&configPath, "config", "data/config.json", "path to the configuration file")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "data", "directory holding jobs.json, placements.json and g-code artifacts")

	root.AddCommand(newServeCmd())
	root.AddCommand(newSendCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	configPath string
	dataDir    string
)
