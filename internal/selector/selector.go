package selector

import (
	"context"
	"fmt"
	"strings"

	"github.com/MimeLyc/transcript-collector/internal/caption"
	"github.com/MimeLyc/transcript-collector/internal/transcript"
	"github.com/MimeLyc/transcript-collector/pkg/log"
	"golang.org/x/text/language"
)

// TrackSource lists and downloads the caption tracks of an item.
type TrackSource interface {
	ListTracks(ctx context.Context, itemID string) ([]caption.Track, error)
	FetchText(ctx context.Context, track caption.Track) (string, error)
}

// Selection is the text chosen for an item.
type Selection struct {
	Text         string
	LanguageCode string
	Kind         transcript.SourceKind
	Tier         string
}

type Selector struct {
	source TrackSource
	tiers  []Tier
}

// New creates a selector over source. Without tiers, DefaultTiers apply.
func New(source TrackSource, tiers ...Tier) *Selector {
	if len(tiers) == 0 {
		tiers = DefaultTiers
	}
	return &Selector{
		source: source,
		tiers:  tiers,
	}
}

// Select returns the best transcript for itemID. When no tier matches the
// error wraps transcript.ErrNoTranscript; listing and download failures are
// returned as they come from the source.
func (s *Selector) Select(ctx context.Context, itemID string, preferred []language.Tag) (Selection, error) {
	tracks, err := s.source.ListTracks(ctx, itemID)
	if err != nil {
		return Selection{}, err
	}

	for _, tier := range s.tiers {
		track, ok := tier.Pick(tracks, preferred)
		if !ok {
			continue
		}

		log.Debug("Item %s: tier %s picked %s track", itemID, tier.Name, track.LanguageCode)
		text, err := s.source.FetchText(ctx, track)
		if err != nil {
			return Selection{}, fmt.Errorf("fetching %s track %q: %w", tier.Kind, track.LanguageCode, err)
		}
		if strings.TrimSpace(text) == "" {
			return Selection{}, fmt.Errorf("%s track %q is empty: %w", tier.Kind, track.LanguageCode, transcript.ErrNoTranscript)
		}

		return Selection{
			Text:         text,
			LanguageCode: track.LanguageCode,
			Kind:         tier.Kind,
			Tier:         tier.Name,
		}, nil
	}

	return Selection{}, fmt.Errorf("%d tracks, none usable: %w", len(tracks), transcript.ErrNoTranscript)
}
