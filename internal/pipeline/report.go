package pipeline

import (
	"time"

	"ratingcast/internal/config"
)

// Outcome is what happened to one stage of one table.
type Outcome string

const (
	OutcomeComputed Outcome = "computed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
	OutcomeDisabled Outcome = "disabled"
	OutcomePending  Outcome = "not reached"
)

// TableReport is the per-stage result for one table.
type TableReport struct {
	Table    string
	Target   string // resolved target column, if resolution ran
	Outcomes map[string]Outcome
	Err      error
}

// Outcome returns the outcome of stage.
func (r *TableReport) Outcome(stage string) Outcome {
	if o, ok := r.Outcomes[stage]; ok {
		return o
	}
	return OutcomeDisabled
}

// Report is the result of one Run.
type Report struct {
	RunID   string
	Tables  []*TableReport
	Elapsed time.Duration
}

// Failed returns the tables that ended with an error.
func (r *Report) Failed() []*TableReport {
	var out []*TableReport
	for _, t := range r.Tables {
		if t.Err != nil {
			out = append(out, t)
		}
	}
	return out
}

func newTableReport(table string, enabled func(string) bool) *TableReport {
	tr := &TableReport{Table: table, Outcomes: make(map[string]Outcome, len(config.AllStages))}
	for _, s := range config.AllStages {
		if enabled(s) {
			tr.Outcomes[s] = OutcomePending
		} else {
			tr.Outcomes[s] = OutcomeDisabled
		}
	}
	return tr
}
