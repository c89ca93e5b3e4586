package sqlite

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"ratingcast/internal/table"
)

func openTemp(t *testing.T) *Gateway {
	t.Helper()
	g, err := Open(filepath.Join(t.TempDir(), "warehouse.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func sample(t *testing.T) *table.Table {
	t.Helper()
	tb, err := table.FromColumns(
		table.NewTime("date", []time.Time{
			time.Date(2010, 1, 2, 3, 4, 5, 0, time.UTC),
			time.Date(2010, 6, 1, 0, 0, 0, 0, time.UTC),
			{},
			time.Date(2012, 2, 29, 12, 0, 0, 0, time.UTC),
			time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC),
		}),
		table.NewFloat("stars", []float64{1, 5, 3, math.NaN(), 4}),
		table.NewString("text", []string{"bad", "great", "ok", "meh", "good"}),
	)
	if err != nil {
		t.Fatal(err)
	}
	return tb
}

func columns(tb *table.Table) []*table.Column {
	out := make([]*table.Column, tb.Width())
	for i := range out {
		out[i] = tb.At(i)
	}
	return out
}

func TestGateway_WriteThenFetch(t *testing.T) {
	ctx := context.Background()
	g := openTemp(t)
	in := sample(t)

	if ok, err := g.Exists(ctx, "reviews"); err != nil || ok {
		t.Fatalf("Exists before write = %v, %v", ok, err)
	}
	if err := g.Write(ctx, "reviews", in); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if ok, err := g.Exists(ctx, "main.reviews"); err != nil || !ok {
		t.Fatalf("Exists after write = %v, %v", ok, err)
	}

	out, err := g.Fetch(ctx, "reviews")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	opts := []cmp.Option{cmpopts.EquateNaNs(), cmpopts.EquateEmpty()}
	if diff := cmp.Diff(columns(in), columns(out), opts...); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestGateway_WriteNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	g := openTemp(t)
	if err := g.Write(ctx, "reviews_predictions", sample(t)); err != nil {
		t.Fatal(err)
	}
	err := g.Write(ctx, "reviews_predictions", sample(t))
	if !errors.Is(err, ErrExists) {
		t.Fatalf("second Write err = %v, want ErrExists", err)
	}
	out, err := g.Fetch(ctx, "reviews_predictions")
	if err != nil || out.Len() != 5 {
		t.Fatalf("table changed by second write: %v rows, %v", out, err)
	}
}

func TestGateway_FetchPages(t *testing.T) {
	ctx := context.Background()
	g := openTemp(t)
	if err := g.Write(ctx, "reviews", sample(t)); err != nil {
		t.Fatal(err)
	}
	var sizes []int
	err := g.FetchPages(ctx, "reviews", 2, func(p *table.Table) error {
		sizes = append(sizes, p.Len())
		return nil
	})
	if err != nil {
		t.Fatalf("FetchPages: %v", err)
	}
	if diff := cmp.Diff([]int{2, 2, 1}, sizes); diff != "" {
		t.Errorf("page sizes (-want +got):\n%s", diff)
	}

	// An exact multiple of the page size ends without an extra empty page.
	sizes = nil
	_ = g.FetchPages(ctx, "reviews", 5, func(p *table.Table) error {
		sizes = append(sizes, p.Len())
		return nil
	})
	if diff := cmp.Diff([]int{5}, sizes); diff != "" {
		t.Errorf("page sizes (-want +got):\n%s", diff)
	}
}

func TestGateway_EmptyTableYieldsOnePage(t *testing.T) {
	ctx := context.Background()
	g := openTemp(t)
	if _, err := g.db.Exec(`CREATE TABLE blank (id INTEGER, name TEXT)`); err != nil {
		t.Fatal(err)
	}
	var pages []*table.Table
	if err := g.FetchPages(ctx, "blank", 10, func(p *table.Table) error {
		pages = append(pages, p)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(pages) != 1 || pages[0].Len() != 0 {
		t.Fatalf("pages = %v", pages)
	}
	if diff := cmp.Diff([]string{"id", "name"}, pages[0].Columns()); diff != "" {
		t.Errorf("schema (-want +got):\n%s", diff)
	}
}

func TestGateway_CallbackErrorStops(t *testing.T) {
	ctx := context.Background()
	g := openTemp(t)
	if err := g.Write(ctx, "reviews", sample(t)); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("disk full")
	calls := 0
	err := g.FetchPages(ctx, "reviews", 2, func(*table.Table) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("err = %v after %d calls", err, calls)
	}
}

func TestKindOf(t *testing.T) {
	cases := map[string]table.Kind{
		"INTEGER":   table.Float,
		"REAL":      table.Float,
		"NUMERIC":   table.Float,
		"TEXT":      table.String,
		"":          table.String,
		"TIMESTAMP": table.Time,
		"DATE":      table.Time,
		"datetime":  table.Time,
	}
	for decl, want := range cases {
		if got := kindOf(decl); got != want {
			t.Errorf("kindOf(%q) = %v, want %v", decl, got, want)
		}
	}
}

func TestFetch_MissingTable(t *testing.T) {
	if _, err := openTemp(t).Fetch(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for missing table")
	}
}
