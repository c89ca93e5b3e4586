package bigquery

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/api/googleapi"

	"ratingcast/internal/table"
)

func TestParseRef(t *testing.T) {
	cases := []struct {
		id      string
		want    ref
		wantErr bool
	}{
		{id: "reviews", want: ref{"proj", "ratings", "reviews"}},
		{id: "other.reviews", want: ref{"proj", "other", "reviews"}},
		{id: "p2.other.reviews", want: ref{"p2", "other", "reviews"}},
		{id: "p2:other.reviews", want: ref{"p2", "other", "reviews"}},
		{id: "", wantErr: true},
		{id: "a.b.c.d", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseRef(tc.id, "proj", "ratings")
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseRef(%q) accepted", tc.id)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseRef(%q): %v", tc.id, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("parseRef(%q) (-want +got):\n%s", tc.id, diff)
		}
	}
	if _, err := parseRef("reviews", "proj", ""); err == nil {
		t.Error("bare table without a default dataset accepted")
	}
}

func TestFieldsOf(t *testing.T) {
	s := bigquery.Schema{
		{Name: "review_id", Type: bigquery.StringFieldType},
		{Name: "stars", Type: bigquery.IntegerFieldType},
		{Name: "useful", Type: bigquery.NumericFieldType},
		{Name: "date", Type: bigquery.TimestampFieldType},
		{Name: "day", Type: bigquery.DateFieldType},
		{Name: "tags", Type: bigquery.IntegerFieldType, Repeated: true},
	}
	want := []table.Field{
		{Name: "review_id", Kind: table.String},
		{Name: "stars", Kind: table.Float},
		{Name: "useful", Kind: table.Float},
		{Name: "date", Kind: table.Time},
		{Name: "day", Kind: table.Time},
		{Name: "tags", Kind: table.String},
	}
	if diff := cmp.Diff(want, fieldsOf(s)); diff != "" {
		t.Errorf("fieldsOf (-want +got):\n%s", diff)
	}
}

func TestSchemaOf(t *testing.T) {
	tb, err := table.FromColumns(
		table.NewTime("date", []time.Time{{}}),
		table.NewFloat("pred_1_pr", []float64{0.5}),
		table.NewString("text", []string{"x"}),
	)
	if err != nil {
		t.Fatal(err)
	}
	s := schemaOf(tb)
	got := make([]bigquery.FieldType, len(s))
	for i, f := range s {
		got[i] = f.Type
	}
	want := []bigquery.FieldType{bigquery.TimestampFieldType, bigquery.FloatFieldType, bigquery.StringFieldType}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("schemaOf types (-want +got):\n%s", diff)
	}
}

func TestNormalize(t *testing.T) {
	if got := normalize(big.NewRat(9, 2)); got != 4.5 {
		t.Errorf("normalize(9/2) = %v", got)
	}
	d := civil.Date{Year: 2010, Month: time.March, Day: 4}
	if got, ok := normalize(d).(time.Time); !ok || !got.Equal(time.Date(2010, 3, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("normalize(date) = %v", got)
	}
	dt := civil.DateTime{Date: d, Time: civil.Time{Hour: 5, Minute: 6}}
	if got, ok := normalize(dt).(time.Time); !ok || !got.Equal(time.Date(2010, 3, 4, 5, 6, 0, 0, time.UTC)) {
		t.Errorf("normalize(datetime) = %v", got)
	}
	if got := normalize(int64(3)); got != int64(3) {
		t.Errorf("normalize(int64) = %v", got)
	}
	if got := normalize(nil); got != nil {
		t.Errorf("normalize(nil) = %v", got)
	}
}

func TestIsNotFound(t *testing.T) {
	notFound := fmt.Errorf("metadata: %w", &googleapi.Error{Code: http.StatusNotFound})
	if !isNotFound(notFound) {
		t.Error("wrapped 404 not recognised")
	}
	if isNotFound(&googleapi.Error{Code: http.StatusForbidden}) {
		t.Error("403 taken as not found")
	}
	if isNotFound(errors.New("boom")) {
		t.Error("plain error taken as not found")
	}
}

func TestMergeCSV(t *testing.T) {
	dir := t.TempDir()
	shards := []string{
		"review_id,stars,date\nr1,5,2010-01-02 00:00:00 UTC\n",
		"review_id,stars,date\n",
		"review_id,stars,date\nr2,3,2011-06-07 08:09:10 UTC\nr3,,\n",
	}
	var paths []string
	for i, s := range shards {
		p := filepath.Join(dir, fmt.Sprintf("%05d.csv", i))
		if err := os.WriteFile(p, []byte(s), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	out, err := mergeCSV(paths, nil)
	if err != nil {
		t.Fatalf("mergeCSV: %v", err)
	}
	if out.Len() != 3 {
		t.Fatalf("rows = %d, want 3", out.Len())
	}
	stars, _ := out.Column("stars")
	date, _ := out.Column("date")
	if stars.Kind != table.Float || date.Kind != table.Time {
		t.Errorf("kinds = %v, %v", stars.Kind, date.Kind)
	}
	if !date.Times[1].Equal(time.Date(2011, 6, 7, 8, 9, 10, 0, time.UTC)) {
		t.Errorf("date[1] = %v", date.Times[1])
	}
}

func TestMergeCSV_KindsFollowSchema(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "00000.csv")
	doc := "user_id,is_open,stars\n0042,true,5\n0077,false,3\n"
	if err := os.WriteFile(p, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	schema := fieldsOf(bigquery.Schema{
		{Name: "user_id", Type: bigquery.StringFieldType},
		{Name: "is_open", Type: bigquery.BooleanFieldType},
		{Name: "stars", Type: bigquery.IntegerFieldType},
	})
	out, err := mergeCSV([]string{p}, schema)
	if err != nil {
		t.Fatalf("mergeCSV: %v", err)
	}
	got := make([]table.Field, out.Width())
	for i := range got {
		c := out.At(i)
		got[i] = table.Field{Name: c.Name, Kind: c.Kind}
	}
	if diff := cmp.Diff(schema, got); diff != "" {
		t.Errorf("kinds (-want +got):\n%s", diff)
	}
	id, _ := out.Column("user_id")
	open, _ := out.Column("is_open")
	if id.Strings[0] != "0042" || open.Floats[0] != 1 || open.Floats[1] != 0 {
		t.Errorf("user_id = %v, is_open = %v", id.Strings, open.Floats)
	}
}
