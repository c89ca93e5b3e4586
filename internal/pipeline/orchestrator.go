// Package pipeline runs the gated fetch, predict, store and plot stages for
// each configured table. Every stage checks for its artifact first and only
// computes what is missing, so a run can be repeated after a failure at any
// point.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ratingcast/internal/artifact"
	"ratingcast/internal/config"
	"ratingcast/internal/ledger"
	"ratingcast/internal/logging"
	"ratingcast/internal/table"
)

// Config selects the enabled stages and carries each stage's settings.
type Config struct {
	Stages []string
	Fetch  config.FetchConfig
	Model  config.ModelConfig
	Sink   config.SinkConfig
	Plot   config.PlotConfig
}

// ConfigFrom derives the orchestrator configuration from a loaded file.
func ConfigFrom(c *config.Config) Config {
	return Config{
		Stages: append([]string(nil), c.Pipeline.Stages...),
		Fetch:  c.FetchView(),
		Model:  c.ModelView(),
		Sink:   c.SinkView(),
		Plot:   c.PlotView(),
	}
}

// Deps are the collaborators the stages call through. Source may also
// implement PagedSource. Recorder and NewRunID are optional.
type Deps struct {
	Store     *artifact.Store
	Source    Source
	Sink      Sink
	Predictor Predictor
	Renderer  Renderer
	Recorder  Recorder
	NewRunID  func() string
}

// Orchestrator processes tables one at a time, in order.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	enabled map[string]bool
	log     *slog.Logger
}

// New validates cfg and returns an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("pipeline: artifact store is required")
	}
	enabled := make(map[string]bool, len(cfg.Stages))
	for _, s := range cfg.Stages {
		switch s {
		case config.StageFetch, config.StagePredict, config.StageStore, config.StagePlot:
			enabled[s] = true
		default:
			return nil, &ConfigurationError{Section: "pipeline", Key: "stages", Reason: fmt.Sprintf("unknown stage %q", s)}
		}
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}
	return &Orchestrator{cfg: cfg, deps: deps, enabled: enabled, log: logging.New("pipeline")}, nil
}

// Run processes each table through the enabled stages. A configuration or
// target-column error ends that table only; the others still run and the
// isolated errors are joined into the returned error. Any other error stops
// the run immediately. The report is returned in both cases.
func (o *Orchestrator) Run(ctx context.Context, tables []string) (*Report, error) {
	rep := &Report{RunID: o.deps.NewRunID()}
	start := time.Now()
	defer func() { rep.Elapsed = time.Since(start) }()
	if err := o.deps.Store.EnsureDir(); err != nil {
		return rep, err
	}
	o.startRun(rep.RunID, tables)
	o.log.Info("run started", "run_id", rep.RunID, "tables", len(tables), "stages", o.cfg.Stages, "cache_dir", o.deps.Store.Dir)

	var isolated []error
	for _, id := range tables {
		if err := ctx.Err(); err != nil {
			o.finishRun(rep.RunID, ledger.StatusAborted)
			return rep, err
		}
		tr := newTableReport(id, func(s string) bool { return o.enabled[s] })
		rep.Tables = append(rep.Tables, tr)

		r := &tableRun{
			o:      o,
			runID:  rep.RunID,
			id:     id,
			layout: artifact.LayoutFor(id),
			rep:    tr,
			log:    o.log.With("table", id),
		}
		err := r.process(ctx)
		if err == nil {
			continue
		}
		tr.Err = err
		if tableScoped(err) {
			r.log.Error("table failed, continuing with next table", "error", err)
			isolated = append(isolated, fmt.Errorf("table %s: %w", id, err))
			continue
		}
		o.finishRun(rep.RunID, ledger.StatusAborted)
		return rep, fmt.Errorf("table %s: %w", id, err)
	}

	status := ledger.StatusOK
	if len(isolated) > 0 {
		status = ledger.StatusFailed
	}
	o.finishRun(rep.RunID, status)
	o.log.Info("run finished", "run_id", rep.RunID, "status", status, "elapsed", time.Since(start))
	return rep, errors.Join(isolated...)
}

func (o *Orchestrator) startRun(id string, tables []string) {
	if o.deps.Recorder == nil {
		return
	}
	if err := o.deps.Recorder.StartRun(id, tables); err != nil {
		o.log.Warn("ledger start run failed", "error", err)
	}
}

func (o *Orchestrator) finishRun(id, status string) {
	if o.deps.Recorder == nil {
		return
	}
	if err := o.deps.Recorder.FinishRun(id, status); err != nil {
		o.log.Warn("ledger finish run failed", "error", err)
	}
}

// tableRun holds the per-table state of one run. Each stage is reached
// through its accessor, which returns the memoized result, the cached
// artifact, or computes it, pulling its own dependency the same way.
type tableRun struct {
	o      *Orchestrator
	runID  string
	id     string
	layout artifact.Layout
	rep    *TableReport
	log    *slog.Logger

	raw    *table.Table
	preds  *table.Table
	target string
}

func (r *tableRun) process(ctx context.Context) error {
	steps := []struct {
		stage string
		run   func(context.Context) error
	}{
		{config.StageFetch, func(ctx context.Context) error { _, err := r.rawData(ctx); return err }},
		{config.StagePredict, func(ctx context.Context) error { _, err := r.predictions(ctx); return err }},
		{config.StageStore, r.store},
		{config.StagePlot, r.plot},
	}
	for _, s := range steps {
		if !r.o.enabled[s.stage] {
			continue
		}
		if err := s.run(ctx); err != nil {
			return err
		}
	}
	return nil
}

// rawData returns the table's raw rows, fetching them only when no cached
// copy exists.
func (r *tableRun) rawData(ctx context.Context) (*table.Table, error) {
	if r.raw != nil {
		return r.raw, nil
	}
	store := r.o.deps.Store
	name := r.layout.Raw()
	present, err := store.Exists(name)
	if err != nil {
		return nil, r.fail(config.StageFetch, err)
	}
	if present {
		t, err := store.ReadTable(name)
		if err != nil {
			return nil, r.fail(config.StageFetch, err)
		}
		r.skipped(config.StageFetch, name)
		r.raw = t
		return t, nil
	}

	r.log.Info("computing", "stage", config.StageFetch, "artifact", name)
	t, err := r.fetch(ctx)
	if err != nil {
		return nil, r.fail(config.StageFetch, err)
	}
	if err := store.WriteTable(name, t); err != nil {
		return nil, r.fail(config.StageFetch, err)
	}
	r.computed(config.StageFetch, ledger.ActionComputed, name, fmt.Sprintf("%d rows", t.Len()))
	r.raw = t
	return t, nil
}

func (r *tableRun) fetch(ctx context.Context) (*table.Table, error) {
	src := r.o.deps.Source
	if src == nil {
		return nil, &ConfigurationError{Section: "warehouse", Key: "backend", Reason: "no remote source configured"}
	}
	if ps, ok := src.(PagedSource); ok && r.o.cfg.Fetch.Mode == config.ModePaged {
		return r.fetchPaged(ctx, ps)
	}
	t, err := src.Fetch(ctx, r.id)
	if err != nil {
		return nil, &RemoteFetchError{Table: r.id, Err: err}
	}
	return t, nil
}

// fetchPaged streams pages into a chunk directory and merges it. Committed
// chunks from an earlier run that stopped before the merge are reused.
func (r *tableRun) fetchPaged(ctx context.Context, ps PagedSource) (*table.Table, error) {
	store := r.o.deps.Store
	name := r.layout.Chunks()
	present, err := store.Exists(name)
	if err != nil {
		return nil, err
	}
	if present {
		r.log.Info("chunks present, merging without refetch", "stage", config.StageFetch, "artifact", name)
		return store.ReadChunks(name)
	}

	cw, err := store.NewChunkWriter(name)
	if err != nil {
		return nil, err
	}
	var writeErr error
	err = ps.FetchPages(ctx, r.id, r.o.cfg.Fetch.ChunkSize, func(page *table.Table) error {
		if writeErr = cw.Write(page); writeErr != nil {
			return writeErr
		}
		r.log.Debug("chunk written", "stage", config.StageFetch, "chunk", cw.Count(), "rows", page.Len())
		return nil
	})
	if err != nil {
		_ = cw.Abort()
		if writeErr != nil {
			return nil, writeErr
		}
		return nil, &RemoteFetchError{Table: r.id, Err: err}
	}
	if err := cw.Commit(); err != nil {
		_ = cw.Abort()
		return nil, err
	}
	r.log.Info("chunks committed", "stage", config.StageFetch, "artifact", name, "chunks", cw.Count())
	return store.ReadChunks(name)
}

// predictions returns the table augmented with class probabilities,
// fitting the model only when no cached copy exists.
func (r *tableRun) predictions(ctx context.Context) (*table.Table, error) {
	if r.preds != nil {
		return r.preds, nil
	}
	store := r.o.deps.Store
	name := r.layout.Predictions()
	present, err := store.Exists(name)
	if err != nil {
		return nil, r.fail(config.StagePredict, err)
	}
	if present {
		t, err := store.ReadTable(name)
		if err != nil {
			return nil, r.fail(config.StagePredict, err)
		}
		r.skipped(config.StagePredict, name)
		r.preds = t
		return t, nil
	}

	raw, err := r.rawData(ctx)
	if err != nil {
		return nil, err
	}
	target, err := r.resolveTarget(raw)
	if err != nil {
		return nil, r.fail(config.StagePredict, err)
	}
	mc := r.o.cfg.Model
	if !raw.Has(mc.DateColumnName) {
		return nil, r.fail(config.StagePredict, &ConfigurationError{
			Section: "model", Key: "date_column_name",
			Reason: fmt.Sprintf("column %q not in table %s", mc.DateColumnName, r.id),
		})
	}
	if r.o.deps.Predictor == nil {
		return nil, r.fail(config.StagePredict, &ConfigurationError{Section: "model", Key: "predictor", Reason: "no predictor configured"})
	}

	r.log.Info("computing", "stage", config.StagePredict, "artifact", name, "target", target)
	out, summary, err := r.o.deps.Predictor.FitPredict(ctx, raw, target, mc)
	if err != nil {
		return nil, r.fail(config.StagePredict, fmt.Errorf("fit %s: %w", r.id, err))
	}
	// The summary goes first: the predictions file is what gates the stage.
	if err := store.WriteBinary(r.layout.Summary(), []byte(summary)); err != nil {
		return nil, r.fail(config.StagePredict, err)
	}
	if err := store.WriteTable(name, out); err != nil {
		return nil, r.fail(config.StagePredict, err)
	}
	r.computed(config.StagePredict, ledger.ActionComputed, name, "target="+target)
	r.preds = out
	return out, nil
}

// resolveTarget resolves the target column once per table run so predict
// and plot always agree.
func (r *tableRun) resolveTarget(t *table.Table) (string, error) {
	if r.target != "" {
		return r.target, nil
	}
	target, err := ResolveTarget(r.o.cfg.Model.TargetColumnNames, t.Columns())
	if err != nil {
		return "", err
	}
	r.target = target
	r.rep.Target = target
	r.log.Info("target column resolved", "target", target)
	return target, nil
}

// remoteTable is the warehouse table predictions are written to.
func (r *tableRun) remoteTable() string {
	name := r.layout.RemoteTable()
	if ds := r.o.cfg.Sink.DatasetID; ds != "" {
		return ds + "." + name
	}
	return name
}

// store uploads predictions unless the remote table already exists. Remote
// failures are logged and recorded but never returned.
func (r *tableRun) store(ctx context.Context) error {
	sink := r.o.deps.Sink
	if sink == nil {
		return r.fail(config.StageStore, &ConfigurationError{Section: "warehouse", Key: "backend", Reason: "no remote sink configured"})
	}
	remote := r.remoteTable()
	exists, err := sink.Exists(ctx, remote)
	if err != nil {
		r.bestEffort(&RemoteWriteError{Table: remote, Err: fmt.Errorf("exists check: %w", err)})
		return nil
	}
	if exists {
		r.skipped(config.StageStore, remote)
		return nil
	}

	preds, err := r.predictions(ctx)
	if err != nil {
		return err
	}
	r.log.Info("computing", "stage", config.StageStore, "artifact", remote, "rows", preds.Len())
	if err := sink.Write(ctx, remote, preds); err != nil {
		r.bestEffort(&RemoteWriteError{Table: remote, Err: err})
		return nil
	}
	r.computed(config.StageStore, ledger.ActionWritten, remote, fmt.Sprintf("%d rows", preds.Len()))
	return nil
}

// plot renders the comparison chart unless the image already exists.
func (r *tableRun) plot(ctx context.Context) error {
	store := r.o.deps.Store
	name := r.layout.Plot()
	present, err := store.Exists(name)
	if err != nil {
		return r.fail(config.StagePlot, err)
	}
	if present {
		r.skipped(config.StagePlot, name)
		return nil
	}

	preds, err := r.predictions(ctx)
	if err != nil {
		return err
	}
	target, err := r.resolveTarget(preds)
	if err != nil {
		return r.fail(config.StagePlot, err)
	}
	pc := r.o.cfg.Plot
	if !preds.Has(pc.DateColumnName) {
		return r.fail(config.StagePlot, &ConfigurationError{
			Section: "model", Key: "date_column_name",
			Reason: fmt.Sprintf("column %q not in predictions for %s", pc.DateColumnName, r.id),
		})
	}
	renderer := r.o.deps.Renderer
	if renderer == nil {
		return r.fail(config.StagePlot, &ConfigurationError{Section: "plot", Key: "renderer", Reason: "no renderer configured"})
	}

	r.log.Info("computing", "stage", config.StagePlot, "artifact", name)
	err = store.WriteStream(name, func(w io.Writer) error {
		return renderer.Render(w, preds, target, pc)
	})
	if err != nil {
		return r.fail(config.StagePlot, fmt.Errorf("render %s: %w", name, err))
	}
	r.computed(config.StagePlot, ledger.ActionComputed, name, "")
	return nil
}

func (r *tableRun) skipped(stage, artifactName string) {
	r.log.Info("artifact present, skipping", "stage", stage, "artifact", artifactName)
	r.rep.Outcomes[stage] = OutcomeSkipped
	r.record(stage, ledger.ActionSkipped, artifactName)
}

func (r *tableRun) computed(stage, action, artifactName, detail string) {
	r.log.Info("written", "stage", stage, "artifact", artifactName)
	r.rep.Outcomes[stage] = OutcomeComputed
	if detail != "" {
		artifactName += ": " + detail
	}
	r.record(stage, action, artifactName)
}

func (r *tableRun) fail(stage string, err error) error {
	r.rep.Outcomes[stage] = OutcomeFailed
	r.record(stage, ledger.ActionFailed, err.Error())
	return err
}

func (r *tableRun) bestEffort(err *RemoteWriteError) {
	r.log.Warn("remote write failed, continuing", "stage", config.StageStore, "artifact", err.Table, "error", err.Err)
	r.rep.Outcomes[config.StageStore] = OutcomeFailed
	r.record(config.StageStore, ledger.ActionFailed, err.Error())
}

func (r *tableRun) record(stage, action, detail string) {
	rec := r.o.deps.Recorder
	if rec == nil {
		return
	}
	err := rec.Record(ledger.Event{RunID: r.runID, Table: r.id, Stage: stage, Action: action, Detail: detail})
	if err != nil {
		r.log.Warn("ledger record failed", "stage", stage, "error", err)
	}
}
