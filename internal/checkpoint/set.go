package checkpoint

import (
	"sort"

	"github.com/MimeLyc/transcript-collector/internal/transcript"
)

// Set maps item ids to their latest result, in first-insertion order.
// Results put since the last Commit are pending until a store persists them.
type Set struct {
	order   []string
	results map[string]transcript.Result
	pending map[string]struct{}
}

func NewSet() *Set {
	return &Set{
		results: make(map[string]transcript.Result),
		pending: make(map[string]struct{}),
	}
}

// Put upserts r and marks it pending. It reports whether the item is new to the set.
func (s *Set) Put(r transcript.Result) bool {
	isNew := s.load(r)
	s.pending[r.ItemID] = struct{}{}
	return isNew
}

// load upserts without marking pending; stores use it while reading.
func (s *Set) load(r transcript.Result) bool {
	_, exists := s.results[r.ItemID]
	if !exists {
		s.order = append(s.order, r.ItemID)
	}
	s.results[r.ItemID] = r
	return !exists
}

// Merge puts every buffered result, later entries for the same item win.
func (s *Set) Merge(buffer []transcript.Result) {
	for _, r := range buffer {
		s.Put(r)
	}
}

func (s *Set) Get(itemID string) (transcript.Result, bool) {
	r, ok := s.results[itemID]
	return r, ok
}

func (s *Set) Len() int {
	return len(s.order)
}

// Results returns every result in insertion order.
func (s *Set) Results() []transcript.Result {
	ret := make([]transcript.Result, 0, len(s.order))
	for _, id := range s.order {
		ret = append(ret, s.results[id])
	}
	return ret
}

// Pending returns the results not yet persisted, in insertion order.
func (s *Set) Pending() []transcript.Result {
	ret := make([]transcript.Result, 0, len(s.pending))
	for _, id := range s.order {
		if _, ok := s.pending[id]; ok {
			ret = append(ret, s.results[id])
		}
	}
	return ret
}

func (s *Set) PendingCount() int {
	return len(s.pending)
}

// Commit marks every pending result as persisted.
func (s *Set) Commit() {
	clear(s.pending)
}

// Done reports whether itemID needs no further attempt. Failures whose kind is
// listed in retry are not done.
func (s *Set) Done(itemID string, retry map[transcript.ErrorKind]bool) bool {
	r, ok := s.results[itemID]
	if !ok {
		return false
	}
	if r.HasText {
		return true
	}
	return !retry[r.ErrorKind]
}

// Stats aggregates the whole set.
type Stats struct {
	Total       int
	Succeeded   int
	BySource    map[transcript.SourceKind]int
	ByErrorKind map[transcript.ErrorKind]int
}

func (s *Set) Stats() Stats {
	st := Stats{
		BySource:    make(map[transcript.SourceKind]int),
		ByErrorKind: make(map[transcript.ErrorKind]int),
	}
	for _, id := range s.order {
		r := s.results[id]
		st.Total++
		if r.HasText {
			st.Succeeded++
			st.BySource[r.SourceKind]++
			continue
		}
		st.ByErrorKind[r.ErrorKind]++
	}
	return st
}

func (st Stats) SuccessRatio() float64 {
	if st.Total == 0 {
		return 0
	}
	return float64(st.Succeeded) / float64(st.Total)
}

// KindCount is one row of an error breakdown.
type KindCount struct {
	Kind  transcript.ErrorKind
	Count int
}

// TopErrors returns up to n error kinds, most frequent first. n <= 0 returns all.
func (st Stats) TopErrors(n int) []KindCount {
	ret := make([]KindCount, 0, len(st.ByErrorKind))
	for k, c := range st.ByErrorKind {
		ret = append(ret, KindCount{Kind: k, Count: c})
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Count != ret[j].Count {
			return ret[i].Count > ret[j].Count
		}
		return ret[i].Kind < ret[j].Kind
	})
	if n > 0 && len(ret) > n {
		ret = ret[:n]
	}
	return ret
}
