package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Stats aggregates one run's outcomes.
type Stats struct {
	RunID     string
	Mode      string
	Attempted int
	Succeeded int
	Failures  map[FailureKind]int

	// QualityScores holds the score of every successful place, in
	// processing order.
	QualityScores []float64
}

// NewStats creates an empty Stats for a run mode.
func NewStats(mode string) *Stats {
	return &Stats{Mode: mode, Failures: make(map[FailureKind]int)}
}

// Record folds one outcome into the stats.
func (s *Stats) Record(out *Outcome) {
	s.Attempted++
	if out.Failure != nil {
		s.Failures[out.Failure.Kind]++
		return
	}
	s.Succeeded++
	s.QualityScores = append(s.QualityScores, out.Validation.QualityScore)
}

// Failed returns the total number of failed places.
func (s *Stats) Failed() int {
	return s.Attempted - s.Succeeded
}

// SuccessRate returns the fraction of attempted places that succeeded.
func (s *Stats) SuccessRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Attempted)
}

// MeanQuality returns the mean quality score across successes.
func (s *Stats) MeanQuality() float64 {
	if len(s.QualityScores) == 0 {
		return 0
	}
	return stat.Mean(s.QualityScores, nil)
}

// StdDevQuality returns the quality score standard deviation across
// successes; zero when fewer than two.
func (s *Stats) StdDevQuality() float64 {
	if len(s.QualityScores) < 2 {
		return 0
	}
	return stat.StdDev(s.QualityScores, nil)
}

// Summary renders a one-line run summary for logs.
func (s *Stats) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d succeeded (%.0f%%)", s.Succeeded, s.Attempted, s.SuccessRate()*100)
	if len(s.QualityScores) > 0 {
		fmt.Fprintf(&b, ", quality %.2f±%.2f", s.MeanQuality(), s.StdDevQuality())
	}
	if len(s.Failures) > 0 {
		kinds := make([]FailureKind, 0, len(s.Failures))
		for k := range s.Failures {
			kinds = append(kinds, k)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
		parts := make([]string, len(kinds))
		for i, k := range kinds {
			parts[i] = fmt.Sprintf("%s=%d", k, s.Failures[k])
		}
		fmt.Fprintf(&b, ", failures: %s", strings.Join(parts, " "))
	}
	return b.String()
}
