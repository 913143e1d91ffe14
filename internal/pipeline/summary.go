package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/transcript-collector/internal/transcript"
)

// Summary describes one Run. Counts are per item: a retried item counts once,
// with its last outcome.
type Summary struct {
	RunID           string
	Input           int
	Skipped         int
	Processed       int
	Attempts        int
	Succeeded       int
	BySource        map[transcript.SourceKind]int
	ByErrorKind     map[transcript.ErrorKind]int
	RateLimitPauses int
	Duration        time.Duration
}

func newSummary(runID string) Summary {
	return Summary{
		RunID:       runID,
		BySource:    make(map[transcript.SourceKind]int),
		ByErrorKind: make(map[transcript.ErrorKind]int),
	}
}

func (s Summary) Failed() int {
	return s.Processed - s.Succeeded
}

func (s Summary) SuccessRatio() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Processed)
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "processed %d of %d (skipped %d already done), ok %d (%.1f%%), failed %d, rate limit pauses %d, took %s",
		s.Processed, s.Input, s.Skipped, s.Succeeded, 100*s.SuccessRatio(), s.Failed(), s.RateLimitPauses, s.Duration.Round(time.Second))
	for _, k := range transcript.ErrorKinds {
		if n := s.ByErrorKind[k]; n > 0 {
			fmt.Fprintf(&b, ", %s=%d", k, n)
		}
	}
	return b.String()
}

// tally rebuilds the per-item counts from the final outcome of each item.
func (s *Summary) tally(final map[string]transcript.Result) {
	clear(s.BySource)
	clear(s.ByErrorKind)
	s.Processed = len(final)
	s.Succeeded = 0
	for _, r := range final {
		if r.HasText {
			s.Succeeded++
			s.BySource[r.SourceKind]++
			continue
		}
		s.ByErrorKind[r.ErrorKind]++
	}
}
