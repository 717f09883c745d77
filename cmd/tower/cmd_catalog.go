package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"controltower/internal/catalog"
	"controltower/internal/oracle"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the schema descriptor catalog",
	Long: `The catalog holds one embedded descriptor per source table. It is
built offline from the YAML table specs and read-only at request time.`,
}

var catalogBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild the catalog from the table specs",
	Long: `Reads every YAML table spec from the spec directory, embeds each
descriptor through the oracle, and replaces the stored catalog wholesale.
The rebuild is idempotent: identical specs produce an identical catalog.`,
	RunE: runCatalogBuild,
}

var catalogWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rebuild the catalog whenever a table spec changes",
	RunE:  runCatalogWatch,
}

var catalogStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show what the catalog currently holds",
	RunE:  runCatalogStats,
}

func init() {
	catalogCmd.AddCommand(catalogBuildCmd)
	catalogCmd.AddCommand(catalogWatchCmd)
	catalogCmd.AddCommand(catalogStatsCmd)
}

func catalogBuilder() (*catalog.Builder, error) {
	orc, err := oracle.New(cfg.Oracle)
	if err != nil {
		return nil, fmt.Errorf("failed to build oracle: %w", err)
	}
	return catalog.NewBuilder(orc, cfg.Catalog.Path), nil
}

func runCatalogBuild(cmd *cobra.Command, args []string) error {
	b, err := catalogBuilder()
	if err != nil {
		return err
	}
	n, err := b.BuildFromDir(cmd.Context(), cfg.Catalog.SpecDir)
	if err != nil {
		return fmt.Errorf("catalog build failed: %w", err)
	}
	fmt.Printf("Catalog rebuilt: %d descriptor(s) from %s\n", n, cfg.Catalog.SpecDir)
	return nil
}

func runCatalogWatch(cmd *cobra.Command, args []string) error {
	b, err := catalogBuilder()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Watching %s for table spec changes. Ctrl-C to stop.\n", cfg.Catalog.SpecDir)
	if err := b.Watch(ctx, cfg.Catalog.SpecDir, 2*time.Second); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func runCatalogStats(cmd *cobra.Command, args []string) error {
	orc, err := oracle.New(cfg.Oracle)
	if err != nil {
		return err
	}
	r, err := catalog.Open(cfg.Catalog.Path, orc, cfg.Catalog.MinSimilarity)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer r.Close()

	entries := r.Entries()
	fmt.Printf("Catalog: %s\nDescriptors: %d\n", cfg.Catalog.Path, len(entries))
	for _, d := range entries {
		fmt.Printf("  %-40s %d column(s), embedding dim %d\n", d.Name, len(d.Columns), len(d.Embedding))
	}
	return nil
}
