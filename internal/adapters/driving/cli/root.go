package cli

import (
	"github.com/spf13/cobra"

	"github.com/ragsync/engine/internal/core/ports/driving"
	"github.com/ragsync/engine/internal/logger"
)

// version is overridden at build time via -ldflags.
var version = "dev"

// These are set by the composition root (cmd/ragsync) before Execute is
// called. The cli package does not open the catalog or build the services
// itself; it does supply the adapter factories (wiring.go) that the
// composition root passes to them.
var (
	syncOrchestrator  driving.SyncOrchestrator
	multiSourceDriver driving.MultiSourceDriver
	scanRunner        driving.ScanRunner
)

// SetSyncOrchestrator wires the single-source sync/status commands.
func SetSyncOrchestrator(o driving.SyncOrchestrator) { syncOrchestrator = o }

// SetMultiSourceDriver wires the multi-source command.
func SetMultiSourceDriver(d driving.MultiSourceDriver) { multiSourceDriver = d }

// SetScanRunner wires the scan command.
func SetScanRunner(r driving.ScanRunner) { scanRunner = r }

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "ragsync",
	Short: "Synchronise documents from configured sources into a RAG backend",
	Long: `ragsync drives the catalog-backed document sync engine: it lists a
source, classifies each file against the catalog's history, and uploads,
updates or deletes the corresponding RAG backend artifacts.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

// Execute runs the CLI and returns the error, if any, from the command
// that ran. The caller (cmd/ragsync/main.go) maps it to an exit code.
func Execute() error {
	return rootCmd.Execute()
}
