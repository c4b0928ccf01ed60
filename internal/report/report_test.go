package report

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/BTreeMap/SurveyPipe/internal/store"
	"github.com/BTreeMap/SurveyPipe/internal/survey"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type brokenLister struct{}

func (brokenLister) ListSubmissions(ctx context.Context) ([]models.Submission, error) {
	return nil, errors.New("db down")
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		values []float64
		p      float64
		want   float64
	}{
		{[]float64{3, 1, 2, 5, 4}, 50, 3},
		{[]float64{1, 2, 3, 4}, 95, 3.85},
		{[]float64{7}, 95, 7},
		{nil, 95, 0},
		{[]float64{1, 2}, 0, 1},
		{[]float64{1, 2}, 100, 2},
	}
	for _, tt := range tests {
		if got := Percentile(tt.values, tt.p); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Percentile(%v, %v) = %v, want %v", tt.values, tt.p, got, tt.want)
		}
	}
}

func TestScore(t *testing.T) {
	rows := [][]float64{{0, 5}, {0, 5}, {0, 5}, {10, 5}}
	got := Score(rows)
	want := []float64{1.0 / 6, 1.0 / 6, 1.0 / 6, 1.5}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("scores mismatch (-want +got):\n%s", diff)
	}
	if len(Score(nil)) != 0 {
		t.Error("Score(nil) not empty")
	}
}

func TestFeatureValue(t *testing.T) {
	intQ := survey.Question{Type: survey.TypeInt}
	timeQ := survey.Question{Type: survey.TypeTime}
	catQ := survey.Question{Type: survey.TypeCategory, Options: survey.SleepQualityOptions}
	textQ := survey.Question{Type: survey.TypeText}

	tests := []struct {
		name   string
		q      survey.Question
		raw    string
		want   float64
		wantOK bool
	}{
		{"int", intQ, "8000", 8000, true},
		{"int missing", intQ, "", 0, false},
		{"time", timeQ, "22.30", 1350, true},
		{"time bad", timeQ, "late", 0, false},
		{"category index", catQ, "Fair", 2, true},
		{"category unknown", catQ, "Meh", 0, false},
		{"text reported", textQ, "an exam", 1, true},
		{"text none", textQ, "No", 0, true},
		{"text empty", textQ, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := featureValue(tt.q, tt.raw)
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("featureValue(%q) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func testCatalog(t *testing.T) *survey.Catalog {
	t.Helper()
	c, err := survey.NewCatalog([]survey.Question{
		{Prompt: "Steps?", Field: "steps", Type: survey.TypeInt, Min: 0, Max: 50000},
		{Prompt: "Pulse?", Field: "pulse", Type: survey.TypeInt, Min: 40, Max: 200, Optional: true},
		{Prompt: "Woke?", Field: "wake", Type: survey.TypeTime},
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestGenerateFlagsOutlier(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	base := time.Date(2024, 6, 1, 21, 0, 0, 0, time.UTC)
	for i := 0; i < 19; i++ {
		answers := map[string]string{"steps": "8000", "pulse": "70", "wake": "7:00"}
		if i == 3 {
			delete(answers, "pulse") // imputed with the median
		}
		sub := models.Submission{ID: fmt.Sprintf("s%02d", i), ParticipantID: fmt.Sprint(i), Answers: answers, CompletedAt: base}
		if err := st.SaveSubmission(ctx, sub); err != nil {
			t.Fatal(err)
		}
	}
	outlier := models.Submission{ID: "s19", ParticipantID: "19", Answers: map[string]string{"steps": "200", "pulse": "150", "wake": "13:30"}, CompletedAt: base}
	if err := st.SaveSubmission(ctx, outlier); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(t.TempDir(), "reports")
	g := NewGenerator(st, testCatalog(t), dir)
	if !g.ProcessAllData(ctx) {
		t.Fatal("ProcessAllData returned false")
	}
	if got, want := g.LatestPath(), filepath.Join(dir, FileName); got != want {
		t.Errorf("LatestPath = %q, want %q", got, want)
	}

	f, err := os.Open(g.LatestPath())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	wantHeader := []string{"submission_id", "participant_id", "started_at", "completed_at", "steps", "pulse", "wake", "anomaly_score", "anomaly"}
	if diff := cmp.Diff(wantHeader, records[0]); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	if len(records) != 21 {
		t.Fatalf("got %d rows, want 21", len(records))
	}

	var flagged []string
	for _, row := range records[1:] {
		if row[len(row)-1] == "1" {
			flagged = append(flagged, row[0])
		}
	}
	if diff := cmp.Diff([]string{"s19"}, flagged); diff != "" {
		t.Errorf("flagged rows mismatch (-want +got):\n%s", diff)
	}
	if records[4][5] != "" {
		t.Errorf("missing answer rendered as %q, want empty", records[4][5])
	}
}

func TestGenerateNoData(t *testing.T) {
	g := NewGenerator(store.NewInMemoryStore(), testCatalog(t), t.TempDir())
	if _, err := g.Generate(context.Background()); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
	if g.ProcessAllData(context.Background()) {
		t.Error("ProcessAllData succeeded with no data")
	}
	if g.LatestPath() != "" {
		t.Errorf("LatestPath = %q, want empty", g.LatestPath())
	}
}

func TestGenerateStoreFailure(t *testing.T) {
	g := NewGenerator(brokenLister{}, testCatalog(t), t.TempDir())
	if g.ProcessAllData(context.Background()) {
		t.Error("ProcessAllData succeeded with a failing store")
	}
}
