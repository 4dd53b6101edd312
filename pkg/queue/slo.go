package queue

import (
	"math"
	"sort"

	"github.com/pushpals/pushpals/pkg/models"
	"github.com/pushpals/pushpals/pkg/store"
)

// MetricSummary summarizes one metric over a terminal window. All pointer
// fields are nil when SampleSize is 0.
type MetricSummary struct {
	P50        *int64 `json:"p50"`
	P95        *int64 `json:"p95"`
	Avg        *int64 `json:"avg"`
	SampleSize int    `json:"sampleSize"`
}

// SLOSummary aggregates one queue's terminal rows in a rolling window.
type SLOSummary struct {
	Terminal    int           `json:"terminal"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	SuccessRate *float64      `json:"successRate"`
	DurationMs  MetricSummary `json:"durationMs"`
	QueueWaitMs MetricSummary `json:"queueWaitMs"`
}

// Summarize computes the SLO summary for a set of terminal samples.
func Summarize(samples []store.TerminalSample) SLOSummary {
	out := SLOSummary{Terminal: len(samples)}

	var durations, waits []int64
	for _, s := range samples {
		switch s.Status {
		case models.StatusCompleted:
			out.Completed++
		case models.StatusFailed:
			out.Failed++
		}
		durations = append(durations, s.DurationMs)
		waits = append(waits, s.QueueWaitMs)
	}

	if out.Terminal > 0 {
		rate := math.Round(float64(out.Completed)/float64(out.Terminal)*1e4) / 1e4
		out.SuccessRate = &rate
	}
	out.DurationMs = summarizeMetric(durations)
	out.QueueWaitMs = summarizeMetric(waits)
	return out
}

func summarizeMetric(values []int64) MetricSummary {
	s := MetricSummary{SampleSize: len(values)}
	if len(values) == 0 {
		return s
	}

	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	p50 := percentile(sorted, 50)
	p95 := percentile(sorted, 95)
	var sum int64
	for _, v := range sorted {
		sum += v
	}
	avg := int64(math.Round(float64(sum) / float64(len(sorted))))

	s.P50 = &p50
	s.P95 = &p95
	s.Avg = &avg
	return s
}

// percentile is the nearest-rank percentile over an ascending slice:
// rank index ceil(p/100*N)-1 clamped to [0, N-1].
func percentile(sorted []int64, p int) int64 {
	idx := int(math.Ceil(float64(p)/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
