package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ratingcast/internal/artifact"
	"ratingcast/internal/config"
	"ratingcast/internal/format"
	"ratingcast/internal/model"
	"ratingcast/internal/pipeline"
	"ratingcast/internal/plot"
)

var runFlags struct {
	tables   []string
	stages   []string
	cacheDir string
	markdown bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fetch, predict, store and plot stages for each table",
	Long: "Run processes every configured table through the enabled stages in order.\n" +
		"A stage whose artifact is already present is skipped, so re-running after a\n" +
		"failure only computes what is missing.",
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringSliceVar(&runFlags.tables, "tables", nil, "Tables to process (overrides table_ids)")
	f.StringSliceVar(&runFlags.stages, "stages", nil, "Stages to run: fetch, predict, store, plot (overrides [pipeline] stages)")
	f.StringVar(&runFlags.cacheDir, "cache-dir", "", "Local artifact directory (overrides cache_dir)")
	f.BoolVar(&runFlags.markdown, "markdown", false, "Print the outcome table as Markdown")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(overrides{tables: runFlags.tables, stages: runFlags.stages, cacheDir: runFlags.cacheDir})
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	gw, err := openGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s warehouse: %w", cfg.Warehouse.Backend, err)
	}
	defer gw.Close()

	deps := pipeline.Deps{
		Store:     artifact.New(cfg.Fetch.CacheDir),
		Source:    gw,
		Sink:      gw,
		Predictor: model.NewTrainer(),
		Renderer:  plot.NewRenderer(),
	}
	led, err := openLedger(cfg, false)
	if err != nil {
		return err
	}
	if led != nil {
		defer led.Close()
		deps.Recorder = led
	}

	orch, err := pipeline.New(pipeline.ConfigFrom(cfg), deps)
	if err != nil {
		return err
	}
	rep, runErr := orch.Run(ctx, cfg.Warehouse.TableIDs)
	mode := format.ASCII
	if runFlags.markdown {
		mode = format.Markdown
	}
	printReport(cmd.OutOrStdout(), rep, mode)
	if runErr != nil {
		return fmt.Errorf("run %s: %w", rep.RunID, runErr)
	}
	return nil
}

func printReport(w io.Writer, rep *pipeline.Report, mode format.Mode) {
	if rep == nil || len(rep.Tables) == 0 {
		return
	}
	tb := format.NewTable(mode)
	tb.Title("Run " + rep.RunID)
	header := []string{"Table", "Target"}
	header = append(header, config.AllStages...)
	header = append(header, "Error")
	tb.Header(header...)
	for _, tr := range rep.Tables {
		row := []any{tr.Table, orDash(tr.Target)}
		for _, s := range config.AllStages {
			row = append(row, string(tr.Outcome(s)))
		}
		errText := ""
		if tr.Err != nil {
			errText = format.Truncate(tr.Err.Error(), 60)
		}
		row = append(row, orDash(errText))
		tb.Row(row...)
	}
	failed := len(rep.Failed())
	tb.Footer("took "+format.FmtDuration(rep.Elapsed), "", "", "", "", "", fmt.Sprintf("%s failed", format.FmtCount(failed)))
	fmt.Fprintln(w, tb.String())
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
