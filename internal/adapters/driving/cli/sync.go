package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/core/ports/driven"
)

// catalogRepo backs kb-name/multi-kb-name lookups and the status/info
// commands. Set by the composition root alongside the driving ports.
var catalogRepo driven.CatalogRepository

// SetCatalog wires the commands that need direct read access to the
// catalog (kb-name resolution, status, info) — the sync/scan/multi-source
// ports themselves only ever see an already-resolved numeric id.
func SetCatalog(c driven.CatalogRepository) { catalogRepo = c }

var (
	syncKBName string

	scanKBName string
	scanPath   string

	multiSyncMode    string
	multiSyncSources string

	statusLimit int
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass against a single-source knowledge base",
	RunE:  runSync,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Classify a source against the catalog without writing to the RAG backend",
	RunE:  runScan,
}

var multiSourceCmd = &cobra.Command{
	Use:   "multi-source",
	Short: "Commands operating on multi-source knowledge bases",
}

var syncMultiKBCmd = &cobra.Command{
	Use:   "sync-multi-kb <kb-name>",
	Short: "Fan a sync out across every enabled source of a multi-source knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE:  runSyncMultiKB,
}

var statusCmd = &cobra.Command{
	Use:   "status <kb-name>",
	Short: "List recent sync runs for a knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var infoCmd = &cobra.Command{
	Use:   "info <kb-name>",
	Short: "Print a knowledge base's configuration snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	syncCmd.Flags().StringVar(&syncKBName, "kb-name", "", "name of the single-source knowledge base to sync")
	_ = syncCmd.MarkFlagRequired("kb-name")

	scanCmd.Flags().StringVar(&scanKBName, "kb-name", "", "name of an existing knowledge base to scan")
	scanCmd.Flags().StringVar(&scanPath, "path", "", "ad hoc file_system root to scan, bypassing a saved knowledge base")

	syncMultiKBCmd.Flags().StringVar(&multiSyncMode, "sync-mode", "", "override the knowledge base's fan-out mode (parallel|sequential|selective|incremental)")
	syncMultiKBCmd.Flags().StringVar(&multiSyncSources, "sources", "", "comma-separated source_id allowlist, used with --sync-mode selective")

	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "maximum number of runs to list")

	multiSourceCmd.AddCommand(syncMultiKBCmd)

	rootCmd.AddCommand(syncCmd, scanCmd, multiSourceCmd, statusCmd, infoCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	if syncOrchestrator == nil || catalogRepo == nil {
		return errors.New("sync service not configured")
	}
	ctx := cmd.Context()

	kb, err := catalogRepo.GetKBByName(ctx, syncKBName)
	if err != nil {
		return fmt.Errorf("resolving kb %q: %w", syncKBName, err)
	}

	run, err := syncOrchestrator.Sync(ctx, kb.ID, domain.SyncModeSync)
	if run != nil {
		printRunSummary(cmd, run)
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	return nil
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanRunner == nil || catalogRepo == nil {
		return errors.New("scan service not configured")
	}
	if (scanKBName == "") == (scanPath == "") {
		return errors.New("exactly one of --kb-name or --path must be given")
	}
	ctx := cmd.Context()

	kbID, err := resolveScanTarget(ctx)
	if err != nil {
		return err
	}

	counters, err := scanRunner.Scan(ctx, kbID)
	printCounters(cmd, counters)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

// resolveScanTarget returns the KB id to scan: either the one named by
// --kb-name, or an ad hoc file_system KB synthesized from --path and
// persisted under a stable name so the change detector has catalog history
// to compare against on repeated scans of the same path.
func resolveScanTarget(ctx context.Context) (int64, error) {
	if scanKBName != "" {
		kb, err := catalogRepo.GetKBByName(ctx, scanKBName)
		if err != nil {
			return 0, fmt.Errorf("resolving kb %q: %w", scanKBName, err)
		}
		return kb.ID, nil
	}

	name := adhocScanKBName(scanPath)
	kb, err := catalogRepo.GetKBByName(ctx, name)
	if err == nil {
		return kb.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return 0, err
	}

	kb = &domain.KnowledgeBase{
		Name:         name,
		SourceType:   "file_system",
		SourceConfig: map[string]string{"root_path": scanPath},
		RAGType:      "mock",
		RAGConfig:    map[string]string{},
	}
	if err := catalogRepo.SaveKB(ctx, kb); err != nil {
		return 0, fmt.Errorf("creating ad hoc scan kb: %w", err)
	}
	return kb.ID, nil
}

func adhocScanKBName(path string) string {
	return "_scan_" + strings.ReplaceAll(strings.Trim(path, "/"), "/", "_")
}

func runSyncMultiKB(cmd *cobra.Command, args []string) error {
	if multiSourceDriver == nil || catalogRepo == nil {
		return errors.New("multi-source driver not configured")
	}
	ctx := cmd.Context()
	name := args[0]

	kb, err := catalogRepo.GetMultiSourceKBByName(ctx, name)
	if err != nil {
		return fmt.Errorf("resolving multi-source kb %q: %w", name, err)
	}

	if err := applyMultiSyncOverrides(ctx, kb); err != nil {
		return err
	}

	run, err := multiSourceDriver.SyncMultiKB(ctx, kb.ID, domain.SyncModeSync)
	if run != nil {
		printMultiRunSummary(cmd, run)
	}
	if err != nil {
		return fmt.Errorf("multi-source sync failed: %w", err)
	}
	return nil
}

// applyMultiSyncOverrides persists --sync-mode/--sources as the knowledge
// base's sync_strategy before the run starts, since the driver reads that
// strategy from the catalog rather than accepting it as a call argument.
func applyMultiSyncOverrides(ctx context.Context, kb *domain.MultiSourceKnowledgeBase) error {
	if multiSyncMode == "" && multiSyncSources == "" {
		return nil
	}
	if kb.SyncStrategy == nil {
		kb.SyncStrategy = map[string]string{}
	}
	if multiSyncMode != "" {
		kb.SyncStrategy["mode"] = multiSyncMode
	}
	if multiSyncSources != "" {
		kb.SyncStrategy["sources"] = multiSyncSources
	}
	if err := catalogRepo.SaveMultiSourceKB(ctx, kb); err != nil {
		return fmt.Errorf("applying sync-mode/sources override: %w", err)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	if catalogRepo == nil {
		return errors.New("catalog not configured")
	}
	ctx := cmd.Context()
	name := args[0]

	kb, err := catalogRepo.GetKBByName(ctx, name)
	if err != nil {
		return fmt.Errorf("resolving kb %q: %w", name, err)
	}

	runs, err := catalogRepo.RecentSyncRuns(ctx, kb.ID, statusLimit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if len(runs) == 0 {
		cmd.Println("no sync runs recorded")
		return nil
	}

	cmd.Printf("%-5s %-14s %-24s %-8s %s\n", "id", "status", "start", "total", "new/mod/unch/del/err")
	for _, r := range runs {
		cmd.Printf("%-5d %-14s %-24s %-8d %d/%d/%d/%d/%d\n",
			r.ID, r.Status, r.StartTime.Format("2006-01-02T15:04:05Z07:00"), r.Counters.Total,
			r.Counters.New, r.Counters.Modified, r.Counters.Unchanged, r.Counters.Deleted, r.Counters.Errors)
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	if catalogRepo == nil {
		return errors.New("catalog not configured")
	}
	ctx := cmd.Context()
	name := args[0]

	if kb, err := catalogRepo.GetKBByName(ctx, name); err == nil {
		cmd.Printf("knowledge base %q (id=%d)\n", kb.Name, kb.ID)
		cmd.Printf("  source_type: %s\n", kb.SourceType)
		printConfigMap(cmd, kb.SourceConfig)
		cmd.Printf("  rag_type: %s\n", kb.RAGType)
		printConfigMap(cmd, kb.RAGConfig)
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	mkb, err := catalogRepo.GetMultiSourceKBByName(ctx, name)
	if err != nil {
		return fmt.Errorf("resolving kb %q: %w", name, err)
	}
	cmd.Printf("multi-source knowledge base %q (id=%d)\n", mkb.Name, mkb.ID)
	cmd.Printf("  rag_type: %s\n", mkb.RAGType)
	printConfigMap(cmd, mkb.RAGConfig)
	cmd.Printf("  sources (%d):\n", len(mkb.Sources))
	for _, sd := range mkb.Sources {
		cmd.Printf("    %-20s type=%-12s enabled=%s\n", sd.SourceID, sd.SourceType, strconv.FormatBool(sd.Enabled))
	}
	return nil
}

func printConfigMap(cmd *cobra.Command, cfg map[string]string) {
	for k, v := range cfg {
		cmd.Printf("    %s=%s\n", k, v)
	}
}

func printRunSummary(cmd *cobra.Command, run *domain.SyncRun) {
	cmd.Printf("run %d: %s\n", run.ID, run.Status)
	printCounters(cmd, run.Counters)
}

func printMultiRunSummary(cmd *cobra.Command, run *domain.MultiSourceSyncRun) {
	cmd.Printf("multi-source run %d: %s (%s)\n", run.ID, run.Status, run.FanOut)
	printCounters(cmd, run.Counters)
	for _, sourceID := range run.SourcesProcessed {
		c := run.SourceStats[sourceID]
		cmd.Printf("  %-20s total=%-4d new=%-4d modified=%-4d unchanged=%-4d deleted=%-4d errors=%d\n",
			sourceID, c.Total, c.New, c.Modified, c.Unchanged, c.Deleted, c.Errors)
	}
}

func printCounters(cmd *cobra.Command, c domain.SyncCounters) {
	cmd.Printf("total=%d new=%d modified=%d unchanged=%d deleted=%d errors=%d\n",
		c.Total, c.New, c.Modified, c.Unchanged, c.Deleted, c.Errors)
}
