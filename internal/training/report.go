package training

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/threatlens/internal/domain"
)

// ClassificationReport scores predictions against ground truth, both given
// as vocabulary indices. Classes absent from both are left out. Undefined
// ratios are reported as 0.
func ClassificationReport(yTrue, yPred []int, vocab domain.Vocabulary) domain.ClassificationReport {
	k := len(vocab)
	tp := make([]int, k)
	predicted := make([]int, k)
	support := make([]int, k)

	correct := 0
	for i := range yTrue {
		support[yTrue[i]]++
		predicted[yPred[i]]++
		if yTrue[i] == yPred[i] {
			tp[yTrue[i]]++
			correct++
		}
	}

	var rep domain.ClassificationReport
	total := len(yTrue)
	if total > 0 {
		rep.Accuracy = float64(correct) / float64(total)
	}

	var macro, weighted domain.ClassMetrics
	for c := 0; c < k; c++ {
		if support[c] == 0 && predicted[c] == 0 {
			continue
		}
		m := domain.ClassMetrics{
			Label:     vocab[c],
			Precision: ratio(tp[c], predicted[c]),
			Recall:    ratio(tp[c], support[c]),
			Support:   support[c],
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		rep.Classes = append(rep.Classes, m)

		macro.Precision += m.Precision
		macro.Recall += m.Recall
		macro.F1 += m.F1
		w := float64(m.Support)
		weighted.Precision += w * m.Precision
		weighted.Recall += w * m.Recall
		weighted.F1 += w * m.F1
	}

	if n := float64(len(rep.Classes)); n > 0 {
		macro.Precision /= n
		macro.Recall /= n
		macro.F1 /= n
	}
	if total > 0 {
		weighted.Precision /= float64(total)
		weighted.Recall /= float64(total)
		weighted.F1 /= float64(total)
	}
	macro.Label, macro.Support = "macro avg", total
	weighted.Label, weighted.Support = "weighted avg", total
	rep.MacroAvg, rep.WeightedAvg = macro, weighted
	return rep
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// FormatReport renders the report as a plain-text table.
func FormatReport(rep domain.ClassificationReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%14s %10s %10s %10s %10s\n", "", "precision", "recall", "f1-score", "support")
	row := func(m domain.ClassMetrics) {
		fmt.Fprintf(&b, "%14s %10.2f %10.2f %10.2f %10d\n", m.Label, m.Precision, m.Recall, m.F1, m.Support)
	}
	for _, m := range rep.Classes {
		row(m)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%14s %10s %10s %10.2f %10d\n", "accuracy", "", "", rep.Accuracy, rep.MacroAvg.Support)
	row(rep.MacroAvg)
	row(rep.WeightedAvg)
	return b.String()
}
