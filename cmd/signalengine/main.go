// Command signalengine is the strategy core's entrypoint, wiring
// configuration, collaborator ports, the engine, and the ingestion pipeline
// together, in the shape of the teacher's cmd/cryptorun/main.go: a cobra
// root command dispatching to subcommands, a zerolog logger initialized
// before anything else runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "v0.1.0"

func main() {
	root := &cobra.Command{
		Use:     "signalengine",
		Short:   "Runs the crypto perpetual-futures signal generation core.",
		Version: version,
	}
	root.PersistentFlags().String("config", "config/signalengine.yaml", "Path to the strategy config YAML file")

	root.AddCommand(newRunCmd())
	root.AddCommand(newBackfillCmd())
	root.AddCommand(newReplayCheckCmd())
	root.AddCommand(newConfigCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
