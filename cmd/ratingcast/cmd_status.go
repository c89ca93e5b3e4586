package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ratingcast/internal/artifact"
	"ratingcast/internal/config"
	"ratingcast/internal/format"
	"ratingcast/internal/ledger"
)

var statusFlags struct {
	tables   []string
	cacheDir string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cached artifacts and the last recorded decision per stage",
	Long: "Status checks the local cache only; it never contacts the warehouse.\n" +
		"The store stage has no local artifact, so only its ledger entry is shown.",
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	f := statusCmd.Flags()
	f.StringSliceVar(&statusFlags.tables, "tables", nil, "Tables to show (overrides table_ids)")
	f.StringVar(&statusFlags.cacheDir, "cache-dir", "", "Local artifact directory (overrides cache_dir)")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(overrides{tables: statusFlags.tables, cacheDir: statusFlags.cacheDir})
	if err != nil {
		return err
	}
	led, err := openLedger(cfg, true)
	if err != nil {
		return err
	}
	if led != nil {
		defer led.Close()
	}
	out := cmd.OutOrStdout()
	store := artifact.New(cfg.Fetch.CacheDir)

	fmt.Fprintf(out, "Cache:   %s\n", store.Dir)
	if led != nil {
		run, err := led.LastRun()
		if err != nil {
			return err
		}
		if run != nil {
			fmt.Fprintf(out, "Last run: %s  %s  started %s\n", run.ID, run.Status, run.StartedAt.Local().Format(time.DateTime))
		}
	}

	tb := format.NewTable(format.ASCII)
	tb.Header("Table", "Raw", "Chunks", "Predictions", "Summary", "Plot", "Last decisions")
	for _, id := range cfg.Warehouse.TableIDs {
		l := artifact.LayoutFor(id)
		row := []any{id}
		for _, name := range []string{l.Raw(), l.Chunks(), l.Predictions(), l.Summary(), l.Plot()} {
			ok, err := store.Exists(name)
			if err != nil {
				return err
			}
			row = append(row, format.BoolMark(ok))
		}
		last := "-"
		if led != nil {
			events, err := led.Latest(id)
			if err != nil {
				return err
			}
			last = describe(events)
		}
		row = append(row, last)
		tb.Row(row...)
	}
	var centered []format.ColumnConfig
	for i := 2; i <= 6; i++ {
		centered = append(centered, format.ColumnConfig{Number: i, Align: format.AlignCenter})
	}
	tb.Columns(centered...)
	fmt.Fprintln(out, tb.String())
	return nil
}

// describe renders the latest event of each stage in stage order, for
// example "fetch:skipped predict:computed".
func describe(events map[string]ledger.Event) string {
	s := ""
	for _, stage := range config.AllStages {
		e, ok := events[stage]
		if !ok {
			continue
		}
		if s != "" {
			s += " "
		}
		s += stage + ":" + e.Action
	}
	if s == "" {
		return "-"
	}
	return s
}
