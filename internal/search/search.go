package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/transcript-collector/internal/stem"
	"github.com/MimeLyc/transcript-collector/internal/transcript"
)

var (
	SearchRoutines = 8
	ContextWords   = 8
)

// Match is one transcript containing the query.
type Match struct {
	ItemID       string
	SourceKind   transcript.SourceKind
	LanguageCode string
	Hits         int
	// Snippet is the original text around the first hit.
	Snippet string
}

// Transcripts searches the text of every successful result for query.
// Query and transcript are stemmed, so "connected" finds "connection".
// Matches are ordered by hit count, then item id; limit <= 0 returns all.
func Transcripts(ctx context.Context, results []transcript.Result, query string, limit int) ([]Match, error) {
	needle := nonEmpty(stem.Words(query))
	if len(needle) == 0 {
		return nil, fmt.Errorf("query %q has no searchable words", query)
	}

	var (
		mu  sync.Mutex
		ret []Match
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(SearchRoutines)
	for _, r := range results {
		if !r.HasText {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, ok := matchText(r, needle)
			if !ok {
				return nil
			}
			mu.Lock()
			ret = append(ret, m)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("searching transcripts: %w", err)
	}

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Hits != ret[j].Hits {
			return ret[i].Hits > ret[j].Hits
		}
		return ret[i].ItemID < ret[j].ItemID
	})
	if limit > 0 && len(ret) > limit {
		ret = ret[:limit]
	}
	return ret, nil
}

// matchText looks for needle as a run of consecutive words, skipping words
// that stem to nothing.
func matchText(r transcript.Result, needle []string) (Match, bool) {
	fields := strings.Fields(r.Text)
	stems := stem.Words(r.Text)

	// positions maps the index into words back to the index into fields.
	words := make([]string, 0, len(stems))
	positions := make([]int, 0, len(stems))
	for i, s := range stems {
		if s == "" {
			continue
		}
		words = append(words, s)
		positions = append(positions, i)
	}

	m := Match{ItemID: r.ItemID, SourceKind: r.SourceKind, LanguageCode: r.LanguageCode}
	first := -1
	for i := 0; i+len(needle) <= len(words); i++ {
		if !equalAt(words, i, needle) {
			continue
		}
		if first < 0 {
			first = i
		}
		m.Hits++
		i += len(needle) - 1
	}
	if m.Hits == 0 {
		return m, false
	}

	from := max(positions[first]-ContextWords, 0)
	to := min(positions[first+len(needle)-1]+ContextWords+1, len(fields))
	m.Snippet = strings.Join(fields[from:to], " ")
	if from > 0 {
		m.Snippet = "..." + m.Snippet
	}
	if to < len(fields) {
		m.Snippet += "..."
	}
	return m, true
}

func equalAt(words []string, i int, needle []string) bool {
	for j, n := range needle {
		if words[i+j] != n {
			return false
		}
	}
	return true
}

func nonEmpty(words []string) []string {
	ret := words[:0]
	for _, w := range words {
		if w != "" {
			ret = append(ret, w)
		}
	}
	return ret
}
