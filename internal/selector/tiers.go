package selector

import (
	"github.com/MimeLyc/transcript-collector/internal/caption"
	"github.com/MimeLyc/transcript-collector/internal/transcript"
	"golang.org/x/text/language"
)

// Tier is one level of the source priority policy.
type Tier struct {
	Name string
	Kind transcript.SourceKind
	Pick func(tracks []caption.Track, preferred []language.Tag) (caption.Track, bool)
}

// ManualPreferred picks a manual track in one of the preferred languages, in list order.
var ManualPreferred = Tier{
	Name: "manual_preferred",
	Kind: transcript.SourceManual,
	Pick: func(tracks []caption.Track, preferred []language.Tag) (caption.Track, bool) {
		return pickPreferred(tracks, preferred, false)
	},
}

// AutoPreferred picks a generated track in one of the preferred languages, in list order.
var AutoPreferred = Tier{
	Name: "auto_preferred",
	Kind: transcript.SourceAuto,
	Pick: func(tracks []caption.Track, preferred []language.Tag) (caption.Track, bool) {
		return pickPreferred(tracks, preferred, true)
	},
}

var AnyManual = Tier{
	Name: "any_manual",
	Kind: transcript.SourceManual,
	Pick: func(tracks []caption.Track, _ []language.Tag) (caption.Track, bool) {
		return pickFirst(tracks, false)
	},
}

var AnyAuto = Tier{
	Name: "any_auto",
	Kind: transcript.SourceAuto,
	Pick: func(tracks []caption.Track, _ []language.Tag) (caption.Track, bool) {
		return pickFirst(tracks, true)
	},
}

// DefaultTiers is the four-tier policy, highest priority first.
var DefaultTiers = []Tier{ManualPreferred, AutoPreferred, AnyManual, AnyAuto}

func pickPreferred(tracks []caption.Track, preferred []language.Tag, generated bool) (caption.Track, bool) {
	for _, want := range preferred {
		// Exact code first, then a regional variant of the same base language.
		for _, t := range tracks {
			if t.Generated == generated && exactMatch(want, t.LanguageCode) {
				return t, true
			}
		}
		for _, t := range tracks {
			if t.Generated == generated && baseMatch(want, t.LanguageCode) {
				return t, true
			}
		}
	}
	return caption.Track{}, false
}

func pickFirst(tracks []caption.Track, generated bool) (caption.Track, bool) {
	for _, t := range tracks {
		if t.Generated == generated {
			return t, true
		}
	}
	return caption.Track{}, false
}

func exactMatch(want language.Tag, code string) bool {
	tag, err := language.Parse(code)
	if err != nil {
		return false
	}
	return tag.String() == want.String()
}

// baseMatch lets a bare preferred language ("en") accept regional tracks ("en-GB").
func baseMatch(want language.Tag, code string) bool {
	if _, _, region := want.Raw(); region != (language.Region{}) {
		return false
	}
	if _, script, _ := want.Raw(); script != (language.Script{}) {
		return false
	}
	tag, err := language.Parse(code)
	if err != nil {
		return false
	}
	wantBase, _ := want.Base()
	base, _ := tag.Base()
	return wantBase == base
}
