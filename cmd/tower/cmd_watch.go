package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"controltower/internal/logging"
	"controltower/internal/router"
	"controltower/internal/synthesis"
)

var (
	watchInterval time.Duration
	watchOnce     bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the autonomous supply risk scan",
	Long: `Scans allocated inventory for batches approaching expiry and projects
enrollment-driven shortfalls, then writes the watch report JSON to the
report directory and stdout.

With --once the scan runs a single time; otherwise it repeats at the
configured interval until interrupted.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "override the scan interval (default from config)")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "run a single scan and exit")
}

func runWatch(cmd *cobra.Command, args []string) error {
	log := logging.For(logging.CategoryWatchdog)

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	interval := watchInterval
	if interval <= 0 {
		if d, err := time.ParseDuration(cfg.Watchdog.Interval); err == nil {
			interval = d
		} else {
			interval = 24 * time.Hour
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := scanOnce(ctx, p); err != nil {
		return err
	}
	if watchOnce {
		return nil
	}

	log.Infow("watchdog scheduled", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Infow("watchdog stopped")
			return nil
		case <-ticker.C:
			if err := scanOnce(ctx, p); err != nil {
				log.Errorw("scan failed", "err", err)
			}
		}
	}
}

// scanOnce runs one autonomous scan and writes the report.
func scanOnce(ctx context.Context, p *pipeline) error {
	log := logging.For(logging.CategoryWatchdog)
	now := time.Now().UTC()

	route := router.Route{
		Mode:       router.ModeAutonomous,
		Intent:     "Autonomous supply risk scan",
		Evaluators: []string{"inventory", "demand"},
	}
	outcome, err := p.orch.Execute(ctx, route)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	report := synthesis.BuildWatchReport(now, outcome.Findings)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))

	if dir := cfg.Watchdog.ReportDir; dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
		path := filepath.Join(dir, fmt.Sprintf("supply_alert_%s.json", now.Format("2006-01-02")))
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		log.Infow("watch report written", "path", path,
			"expiring", report.RiskSummary.TotalExpiringBatches,
			"shortfalls", report.RiskSummary.TotalShortfallPredictions)
	}

	for name, cause := range outcome.Incomplete {
		log.Warnw("scan check incomplete", "evaluator", name, "err", cause)
	}
	return nil
}
