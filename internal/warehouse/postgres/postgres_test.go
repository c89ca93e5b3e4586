package postgres

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"

	"ratingcast/internal/table"
)

func TestIdentifier(t *testing.T) {
	cases := map[string]string{
		"reviews":                   `"reviews"`,
		"ratings.reviews":           `"ratings"."reviews"`,
		"proj.ratings.reviews":      `"ratings"."reviews"`,
		`odd"name`:                  `"odd""name"`,
		"proj:ratings.reviews_2010": `"ratings"."reviews_2010"`,
	}
	for in, want := range cases {
		ident, err := identifier(in)
		if err != nil {
			t.Fatalf("identifier(%q): %v", in, err)
		}
		if got := ident.Sanitize(); got != want {
			t.Errorf("identifier(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := identifier(""); err == nil {
		t.Error("empty identifier accepted")
	}
}

func TestKindOf(t *testing.T) {
	cases := map[uint32]table.Kind{
		pgtype.Int4OID:        table.Float,
		pgtype.Float8OID:      table.Float,
		pgtype.NumericOID:     table.Float,
		pgtype.BoolOID:        table.Float,
		pgtype.DateOID:        table.Time,
		pgtype.TimestamptzOID: table.Time,
		pgtype.TextOID:        table.String,
		pgtype.UUIDOID:        table.String,
	}
	for oid, want := range cases {
		if got := kindOf(oid); got != want {
			t.Errorf("kindOf(%d) = %v, want %v", oid, got, want)
		}
	}
}

func TestNormalize(t *testing.T) {
	var num pgtype.Numeric
	if err := num.Set("4.25"); err != nil {
		t.Fatal(err)
	}
	got, err := normalize(num)
	if err != nil || got != 4.25 {
		t.Errorf("normalize(numeric) = %v, %v", got, err)
	}

	got, err = normalize(pgtype.Numeric{Status: pgtype.Null})
	if err != nil || got != nil {
		t.Errorf("normalize(null numeric) = %v, %v", got, err)
	}

	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	got, err = normalize([16]byte(id))
	if err != nil || got != id.String() {
		t.Errorf("normalize(uuid) = %v, %v", got, err)
	}

	if got, _ := normalize(int32(7)); got != int32(7) {
		t.Errorf("normalize passed through %v", got)
	}
}

// TestGateway_RoundTrip runs against a live server named by
// RATINGCAST_TEST_POSTGRES_DSN.
func TestGateway_RoundTrip(t *testing.T) {
	dsn := os.Getenv("RATINGCAST_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RATINGCAST_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	g, err := Open(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()

	name := "ratingcast_test_" + uuid.NewString()[:8]
	t.Cleanup(func() { _, _ = g.pool.Exec(ctx, "DROP TABLE IF EXISTS "+name) })

	in, err := table.FromColumns(
		table.NewTime("date", []time.Time{time.Date(2010, 1, 2, 0, 0, 0, 0, time.UTC), {}, time.Date(2011, 5, 6, 7, 8, 9, 0, time.UTC)}),
		table.NewFloat("stars", []float64{1, math.NaN(), 5}),
		table.NewString("text", []string{"a", "b", "c"}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := g.Exists(ctx, name); err != nil || ok {
		t.Fatalf("Exists before write = %v, %v", ok, err)
	}
	if err := g.Write(ctx, name, in); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := g.Write(ctx, name, in); !errors.Is(err, ErrExists) {
		t.Fatalf("second Write err = %v", err)
	}

	var sizes []int
	var pages []*table.Table
	if err := g.FetchPages(ctx, name, 2, func(p *table.Table) error {
		sizes = append(sizes, p.Len())
		pages = append(pages, p)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{2, 1}, sizes); diff != "" {
		t.Errorf("page sizes (-want +got):\n%s", diff)
	}
	out, err := table.Concat(pages...)
	if err != nil {
		t.Fatal(err)
	}
	stars, _ := out.Column("stars")
	if diff := cmp.Diff([]float64{1, math.NaN(), 5}, stars.Floats, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("stars (-want +got):\n%s", diff)
	}
}
