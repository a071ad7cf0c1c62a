package main

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// outcome is how one contender's reservation attempt ended.
type outcome int

const (
	outcomeWin outcome = iota
	outcomeConflict
	outcomeError
)

func outcomeOf(status int) outcome {
	switch status {
	case http.StatusCreated:
		return outcomeWin
	case http.StatusConflict:
		return outcomeConflict
	default:
		return outcomeError
	}
}

type latencySummary struct {
	Count                   int
	Avg, Min, Max, P50, P95 time.Duration
}

func percentile(sorted []time.Duration, p int) time.Duration {
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func summarize(samples []time.Duration) latencySummary {
	if len(samples) == 0 {
		return latencySummary{}
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	return latencySummary{
		Count: len(sorted),
		Avg:   sum / time.Duration(len(sorted)),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P50:   percentile(sorted, 50),
		P95:   percentile(sorted, 95),
	}
}

func (l latencySummary) String() string {
	return fmt.Sprintf("avg=%s min=%s max=%s p50=%s p95=%s",
		l.Avg.Round(time.Millisecond), l.Min.Round(time.Millisecond), l.Max.Round(time.Millisecond),
		l.P50.Round(time.Millisecond), l.P95.Round(time.Millisecond))
}

// ContentionMetrics tallies a run where many contenders race for one slot
// per round. A healthy run has exactly one win per round.
type ContentionMetrics struct {
	mu sync.Mutex

	rounds       int
	doubleBooked int
	unclaimed    int

	wins      int
	conflicts int
	failed    int
	reserve   []time.Duration

	queryFailures int
	query         []time.Duration
}

func (m *ContentionMetrics) RecordAttempt(latency time.Duration, o outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch o {
	case outcomeWin:
		m.wins++
	case outcomeConflict:
		m.conflicts++
	default:
		m.failed++
	}
	m.reserve = append(m.reserve, latency)
}

// RecordRound closes a round with the number of contenders that won it.
func (m *ContentionMetrics) RecordRound(winners int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds++
	switch {
	case winners > 1:
		m.doubleBooked++
	case winners == 0:
		m.unclaimed++
	}
}

func (m *ContentionMetrics) RecordQuery(latency time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !ok {
		m.queryFailures++
	}
	m.query = append(m.query, latency)
}

func (m *ContentionMetrics) DoubleBooked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doubleBooked
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func (m *ContentionMetrics) Report(w io.Writer, contenders int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fmt.Fprintln(w, "\n"+rule())
	fmt.Fprintln(w, "CONTENTION REPORT")
	fmt.Fprintln(w, rule())
	fmt.Fprintf(w, "Rounds: %d (%d contenders each)\n", m.rounds, contenders)
	fmt.Fprintf(w, "Double-booked slots: %d\n", m.doubleBooked)
	if m.unclaimed > 0 {
		fmt.Fprintf(w, "Unclaimed slots: %d\n", m.unclaimed)
	}
	fmt.Fprintln(w)

	attempts := m.wins + m.conflicts + m.failed
	fmt.Fprintf(w, "Reservation attempts: %d\n", attempts)
	fmt.Fprintf(w, "  Wins: %d (%.1f%%)\n", m.wins, pct(m.wins, attempts))
	fmt.Fprintf(w, "  Conflicts: %d (%.1f%%)\n", m.conflicts, pct(m.conflicts, attempts))
	if m.failed > 0 {
		fmt.Fprintf(w, "  Errors: %d (%.1f%%)\n", m.failed, pct(m.failed, attempts))
	}
	if attempts > 0 {
		fmt.Fprintf(w, "  Latency: %s\n", summarize(m.reserve))
	}
	fmt.Fprintln(w)

	if len(m.query) > 0 {
		fmt.Fprintf(w, "Availability queries: %d (%d failed)\n", len(m.query), m.queryFailures)
		fmt.Fprintf(w, "  Latency: %s\n", summarize(m.query))
		fmt.Fprintln(w)
	}
}

func rule() string { return strings.Repeat("=", 80) }
