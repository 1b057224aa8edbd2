package loadrun

import (
	"fmt"
	"io"
	"sort"
	"time"
)

type Statistics struct {
	Total     int
	Succeeded int
	Failed    int
	// ByKind counts failures by error_kind; transport failures count as "transport".
	ByKind map[string]int
	// DuplicateHashes counts successes whose tx hash was already returned to
	// another request, a sign that two requests shared a nonce.
	DuplicateHashes int

	Elapsed time.Duration
	MinTime time.Duration
	MaxTime time.Duration
	AvgTime time.Duration
	P95Time time.Duration
	RPS     float64
}

func CalculateStatistics(results []Result, elapsed time.Duration) *Statistics {
	stats := &Statistics{
		Total:   len(results),
		ByKind:  make(map[string]int),
		Elapsed: elapsed,
	}
	if len(results) == 0 {
		return stats
	}

	seen := make(map[string]struct{}, len(results))
	durations := make([]time.Duration, 0, len(results))
	var total time.Duration
	stats.MinTime = results[0].Duration

	for _, r := range results {
		durations = append(durations, r.Duration)
		total += r.Duration
		if r.Duration < stats.MinTime {
			stats.MinTime = r.Duration
		}
		if r.Duration > stats.MaxTime {
			stats.MaxTime = r.Duration
		}

		if r.Success {
			stats.Succeeded++
			if _, dup := seen[r.TxHash]; dup {
				stats.DuplicateHashes++
			}
			seen[r.TxHash] = struct{}{}
			continue
		}
		stats.Failed++
		kind := r.ErrorKind
		if kind == "" {
			kind = "transport"
		}
		stats.ByKind[kind]++
	}

	stats.AvgTime = total / time.Duration(len(results))
	stats.P95Time = CalculatePercentile(durations, 95)
	if elapsed > 0 {
		stats.RPS = float64(len(results)) / elapsed.Seconds()
	}
	return stats
}

// CalculatePercentile returns the nth percentile of durations. It sorts
// durations in place.
func CalculatePercentile(durations []time.Duration, percentile float64) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	index := int(float64(len(durations)-1) * percentile / 100.0)
	return durations[index]
}

func (s *Statistics) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Total) * 100
}

func (s *Statistics) PrintReport(w io.Writer) {
	fmt.Fprintln(w, "\n┌─────────────────── Faucet Load Statistics ───────────────────┐")
	fmt.Fprintf(w, "│ Requests:            %-39d │\n", s.Total)
	fmt.Fprintf(w, "│ Succeeded:           %-39d │\n", s.Succeeded)
	fmt.Fprintf(w, "│ Failed:              %-39d │\n", s.Failed)
	fmt.Fprintf(w, "│ Success Rate:        %-38.2f%% │\n", s.SuccessRate())
	fmt.Fprintf(w, "│ Duplicate Tx Hashes: %-39d │\n", s.DuplicateHashes)
	fmt.Fprintln(w, "├──────────────────────────────────────────────────────────────┤")
	fmt.Fprintf(w, "│ Elapsed:             %-39s │\n", s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "│ Min:                 %-39s │\n", s.MinTime.Round(time.Millisecond))
	fmt.Fprintf(w, "│ Max:                 %-39s │\n", s.MaxTime.Round(time.Millisecond))
	fmt.Fprintf(w, "│ Avg:                 %-39s │\n", s.AvgTime.Round(time.Millisecond))
	fmt.Fprintf(w, "│ P95:                 %-39s │\n", s.P95Time.Round(time.Millisecond))
	fmt.Fprintf(w, "│ Throughput (req/s):  %-39.2f │\n", s.RPS)

	if len(s.ByKind) > 0 {
		fmt.Fprintln(w, "├──────────────────────── Failures ────────────────────────────┤")
		kinds := make([]string, 0, len(s.ByKind))
		for k := range s.ByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(w, "│ %-26s %-33d │\n", k, s.ByKind[k])
		}
	}
	fmt.Fprintln(w, "└──────────────────────────────────────────────────────────────┘")
}
