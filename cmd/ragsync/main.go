// Command ragsync is the thin composition root for the sync engine: it
// wires the catalog, source/RAG adapter factories and orchestration
// services together, then hands control to the cobra CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ragsync/engine/internal/adapters/driven/catalog/sqlstore"
	"github.com/ragsync/engine/internal/adapters/driving/cli"
	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/core/ports/driven"
	"github.com/ragsync/engine/internal/core/services"
	"github.com/ragsync/engine/internal/logger"
)

// Exit codes per spec §6: 0 ok, 2 usage, 1 runtime.
const (
	exitOK      = 0
	exitUsage   = 2
	exitRuntime = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()

	catalogDB, err := sqlstore.Open(ctx, catalogDSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "ragsync: opening catalog: %v\n", err)
		return exitRuntime
	}
	defer catalogDB.Close()

	catalog := sqlstore.New(catalogDB)
	wire(catalog)

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ragsync: %v\n", err)
		return exitCodeFor(err)
	}
	return exitOK
}

// wire builds the orchestration services around catalog and registers them
// with the cli package. This is the one place in the module that imports
// every concrete adapter package, via cli.BuildSourceAdapter/BuildRAGAdapter.
func wire(catalog driven.CatalogRepository) {
	orchestrator := services.NewSyncOrchestrator(catalog)
	syncService := services.NewSyncService(catalog, orchestrator, cli.BuildSourceAdapter, cli.BuildRAGAdapter)
	multiDriver := services.NewMultiSourceDriver(catalog, orchestrator, cli.BuildSourceAdapter, cli.BuildRAGAdapter)
	scanRunner := services.NewScanRunner(syncService)

	cli.SetCatalog(catalog)
	cli.SetSyncOrchestrator(syncService)
	cli.SetMultiSourceDriver(multiDriver)
	cli.SetScanRunner(scanRunner)
}

// catalogDSN assembles the catalog database DSN from the spec §6 env vars,
// defaulting to a local file when unset.
func catalogDSN() string {
	if path := os.Getenv("RAGSYNC_DB_PATH"); path != "" {
		return path
	}
	return "ragsync.db"
}

func init() {
	logger.SetVerbose(os.Getenv("RAGSYNC_LOG_LEVEL") == "debug")
}

// exitCodeFor classifies a command error into the spec §6 exit code scheme:
// errors wrapping domain.ErrInvalidInput or domain.ErrUnsupportedType exit
// 2, everything else exits 1. Cobra's own flag and argument errors, and the
// scan command's plain "exactly one of" error, do not wrap either sentinel,
// so they exit 1.
func exitCodeFor(err error) int {
	if isUsageError(err) {
		return exitUsage
	}
	return exitRuntime
}

func isUsageError(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrUnsupportedType)
}
