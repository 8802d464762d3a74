package ml

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/sjwhitworth/golearn/evaluation"
	"gonum.org/v1/gonum/mat"
)

// ClassMetrics is one row of the classification report.
type ClassMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report holds the held-out evaluation of a training run.
type Report struct {
	Labels      []string       `json:"labels"`
	Accuracy    float64        `json:"accuracy"`
	WeightedF1  float64        `json:"weighted_f1"`
	PerClass    []ClassMetrics `json:"per_class"`
	MacroAvg    ClassMetrics   `json:"macro_avg"`
	WeightedAvg ClassMetrics   `json:"weighted_avg"`
	// Confusion rows are true labels, columns predicted labels, both in
	// Labels order.
	Confusion [][]int `json:"confusion"`
}

// Evaluate compares predictions with the truth. Labels are the sorted union
// of both. Metrics with a zero denominator are reported as 0.
func Evaluate(yTrue, yPred []string) (*Report, error) {
	if len(yTrue) == 0 {
		return nil, errors.New("no samples to evaluate")
	}
	if len(yTrue) != len(yPred) {
		return nil, errors.Errorf("%d true labels but %d predictions", len(yTrue), len(yPred))
	}

	labels := uniqueSorted(append(append([]string(nil), yTrue...), yPred...))
	cm := make(evaluation.ConfusionMatrix, len(labels))
	for _, l := range labels {
		cm[l] = make(map[string]int, len(labels))
	}
	for i := range yTrue {
		cm[yTrue[i]][yPred[i]]++
	}

	report := &Report{
		Labels:    labels,
		Accuracy:  zeroIfNaN(evaluation.GetAccuracy(cm)),
		PerClass:  make([]ClassMetrics, len(labels)),
		Confusion: make([][]int, len(labels)),
	}

	total := float64(len(yTrue))
	for i, l := range labels {
		support := 0
		row := make([]int, len(labels))
		for j, p := range labels {
			row[j] = cm[l][p]
			support += cm[l][p]
		}
		report.Confusion[i] = row

		m := ClassMetrics{
			Label:     l,
			Precision: zeroIfNaN(evaluation.GetPrecision(l, cm)),
			Recall:    zeroIfNaN(evaluation.GetRecall(l, cm)),
			Support:   support,
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		report.PerClass[i] = m

		n := float64(len(labels))
		report.MacroAvg.Precision += m.Precision / n
		report.MacroAvg.Recall += m.Recall / n
		report.MacroAvg.F1 += m.F1 / n

		w := float64(support) / total
		report.WeightedAvg.Precision += m.Precision * w
		report.WeightedAvg.Recall += m.Recall * w
		report.WeightedAvg.F1 += m.F1 * w
	}
	report.MacroAvg.Label = "macro avg"
	report.MacroAvg.Support = len(yTrue)
	report.WeightedAvg.Label = "weighted avg"
	report.WeightedAvg.Support = len(yTrue)
	report.WeightedF1 = report.WeightedAvg.F1
	return report, nil
}

func zeroIfNaN(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// String renders the classification report.
func (r *Report) String() string {
	width := len("weighted avg")
	for _, l := range r.Labels {
		if len(l) > width {
			width = len(l)
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%*s %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	for _, m := range r.PerClass {
		fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, m.Label, m.Precision, m.Recall, m.F1, m.Support)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%*s %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.MacroAvg.Support)
	for _, m := range []ClassMetrics{r.MacroAvg, r.WeightedAvg} {
		fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, m.Label, m.Precision, m.Recall, m.F1, m.Support)
	}
	return b.String()
}

// ConfusionMatrix returns the confusion counts as a dense matrix.
func (r *Report) ConfusionMatrix() *mat.Dense {
	n := len(r.Labels)
	data := make([]float64, 0, n*n)
	for _, row := range r.Confusion {
		for _, v := range row {
			data = append(data, float64(v))
		}
	}
	return mat.NewDense(n, n, data)
}

// ConfusionString renders the matrix with a label legend.
func (r *Report) ConfusionString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "labels: %s\n", strings.Join(r.Labels, ", "))
	fmt.Fprintf(&b, "%v\n", mat.Formatted(r.ConfusionMatrix(), mat.Squeeze()))
	return b.String()
}

// MetricsSummary is the evaluation digest stored in the artifact.
type MetricsSummary struct {
	Accuracy   float64 `json:"accuracy"`
	WeightedF1 float64 `json:"weighted_f1"`
	TrainRows  int     `json:"train_rows"`
	TestRows   int     `json:"test_rows"`
}

// ClassSupport counts rows per label.
func ClassSupport(labels []string) map[string]int {
	counts := make(map[string]int)
	for _, l := range labels {
		counts[l]++
	}
	return counts
}
