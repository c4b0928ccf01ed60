// Package report builds the administrator anomaly report from stored submissions.
//
// Every answer is turned into a numeric feature (time answers become minutes since
// midnight, category answers their option index, free text whether anything was
// reported), missing values are imputed with the column median, and each row is scored
// by its mean squared z-score. Rows scoring above the 95th percentile are flagged.
package report

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/BTreeMap/SurveyPipe/internal/survey"
)

// FileName is the name of the generated report inside the report directory.
const FileName = "analysis_results.csv"

// DefaultPercentile is the anomaly threshold percentile.
const DefaultPercentile = 95.0

// ErrNoData is returned when there are no submissions to report on.
var ErrNoData = errors.New("no submissions to report on")

// SubmissionLister reads stored submissions.
type SubmissionLister interface {
	ListSubmissions(ctx context.Context) ([]models.Submission, error)
}

// Generator writes the anomaly report. Concurrent runs are serialized.
type Generator struct {
	records    SubmissionLister
	catalog    *survey.Catalog
	dir        string
	percentile float64

	mu     sync.Mutex
	latest string
}

// Option configures a Generator.
type Option func(*Generator)

// WithPercentile overrides the anomaly threshold percentile.
func WithPercentile(p float64) Option {
	return func(g *Generator) { g.percentile = p }
}

// NewGenerator creates a Generator writing into dir.
func NewGenerator(records SubmissionLister, catalog *survey.Catalog, dir string, opts ...Option) *Generator {
	g := &Generator{
		records:    records,
		catalog:    catalog,
		dir:        dir,
		percentile: DefaultPercentile,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ProcessAllData regenerates the report. Failures are logged and reported as false.
func (g *Generator) ProcessAllData(ctx context.Context) bool {
	path, err := g.Generate(ctx)
	if err != nil {
		slog.Error("Generator.ProcessAllData failed", "error", err)
		return false
	}
	slog.Info("Report generated", "path", path)
	return true
}

// LatestPath returns the path of the last successfully written report, or "".
func (g *Generator) LatestPath() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latest
}

// Generate builds the report and returns its path.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	subs, err := g.records.ListSubmissions(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list submissions: %w", err)
	}
	if len(subs) == 0 {
		return "", ErrNoData
	}

	questions := g.catalog.Questions()
	features := g.features(subs, questions)
	scores := Score(features)
	threshold := Percentile(scores, g.percentile)

	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(g.dir, FileName)
	tmp, err := os.CreateTemp(g.dir, FileName+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	header := []string{"submission_id", "participant_id", "started_at", "completed_at"}
	for _, q := range questions {
		header = append(header, q.Field)
	}
	header = append(header, "anomaly_score", "anomaly")
	w.Write(header)

	anomalies := 0
	for i, sub := range subs {
		row := []string{sub.ID, sub.ParticipantID, formatTime(sub.StartedAt), formatTime(sub.CompletedAt)}
		for _, q := range questions {
			row = append(row, sub.Answers[q.Field])
		}
		flag := "0"
		if scores[i] > threshold {
			flag = "1"
			anomalies++
		}
		row = append(row, strconv.FormatFloat(scores[i], 'f', 6, 64), flag)
		w.Write(row)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close report file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move report into place: %w", err)
	}

	g.latest = path
	slog.Debug("Generator.Generate wrote report", "rows", len(subs), "anomalies", anomalies, "threshold", threshold)
	return path, nil
}

// features builds one row per submission, one column per catalog question.
func (g *Generator) features(subs []models.Submission, questions []survey.Question) [][]float64 {
	rows := make([][]float64, len(subs))
	for i := range rows {
		rows[i] = make([]float64, len(questions))
	}
	for col, q := range questions {
		var present []float64
		for i, sub := range subs {
			v, ok := featureValue(q, sub.Answers[q.Field])
			if !ok {
				rows[i][col] = math.NaN()
				continue
			}
			rows[i][col] = v
			present = append(present, v)
		}
		fill := median(present)
		for i := range rows {
			if math.IsNaN(rows[i][col]) {
				rows[i][col] = fill
			}
		}
	}
	return rows
}

// noAnswers are free-text replies meaning nothing was reported.
var noAnswers = []string{"", "no", "none", "nothing", "-"}

// featureValue converts a raw answer to a number. ok is false when the answer is
// missing or does not parse.
func featureValue(q survey.Question, raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	switch q.Type {
	case survey.TypeInt, survey.TypeFloat:
		if raw == "" {
			return 0, false
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case survey.TypeTime:
		m, err := survey.ParseTimeOfDay(raw)
		if err != nil {
			return 0, false
		}
		return float64(m), true
	case survey.TypeCategory:
		idx := slices.Index(q.Options, raw)
		if idx < 0 {
			return 0, false
		}
		return float64(idx), true
	default:
		if slices.Contains(noAnswers, strings.ToLower(raw)) {
			return 0, true
		}
		return 1, true
	}
}

// Score returns each row's mean squared z-score across columns. Constant columns
// contribute nothing.
func Score(rows [][]float64) []float64 {
	scores := make([]float64, len(rows))
	if len(rows) == 0 {
		return scores
	}
	cols := len(rows[0])
	if cols == 0 {
		return scores
	}
	for c := 0; c < cols; c++ {
		var mean float64
		for _, r := range rows {
			mean += r[c]
		}
		mean /= float64(len(rows))
		var variance float64
		for _, r := range rows {
			d := r[c] - mean
			variance += d * d
		}
		std := math.Sqrt(variance / float64(len(rows)))
		if std == 0 {
			continue
		}
		for i, r := range rows {
			z := (r[c] - mean) / std
			scores[i] += z * z
		}
	}
	for i := range scores {
		scores[i] /= float64(cols)
	}
	return scores
}

// Percentile returns the p-th percentile of values using linear interpolation
// between closest ranks.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(sorted) {
		hi = len(sorted) - 1
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return Percentile(values, 50)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
