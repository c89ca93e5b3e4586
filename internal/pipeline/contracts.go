package pipeline

import (
	"context"
	"io"

	"ratingcast/internal/config"
	"ratingcast/internal/ledger"
	"ratingcast/internal/table"
)

// Source fetches a remote table in one call. Implementations that stage data
// elsewhere must remove the staged objects before returning.
type Source interface {
	Fetch(ctx context.Context, tableID string) (*table.Table, error)
}

// PagedSource streams a remote table in pages of at most pageSize rows. fn is
// called once per page, in order, and at least once even for an empty table.
type PagedSource interface {
	FetchPages(ctx context.Context, tableID string, pageSize int, fn func(*table.Table) error) error
}

// Sink checks for and writes remote tables. Write must fail rather than
// overwrite an existing table.
type Sink interface {
	Exists(ctx context.Context, tableID string) (bool, error)
	Write(ctx context.Context, tableID string, t *table.Table) error
}

// Predictor fits a model on the training slice of t and returns t augmented
// with per-class probability columns and a predicted column, plus a text
// summary of the fit.
type Predictor interface {
	FitPredict(ctx context.Context, t *table.Table, target string, cfg config.ModelConfig) (*table.Table, string, error)
}

// Renderer draws the true vs predicted comparison for an augmented table.
type Renderer interface {
	Render(w io.Writer, t *table.Table, target string, cfg config.PlotConfig) error
}

// Recorder persists run history. *ledger.Ledger implements it.
type Recorder interface {
	StartRun(id string, tables []string) error
	FinishRun(id, status string) error
	Record(e ledger.Event) error
}
