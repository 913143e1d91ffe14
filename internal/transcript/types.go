package transcript

import (
	"fmt"
	"strings"
	"time"
)

// SourceKind names the tier that produced a transcript.
type SourceKind string

const (
	SourceManual   SourceKind = "manual"
	SourceAuto     SourceKind = "auto"
	SourceFallback SourceKind = "fallback"
	SourceNone     SourceKind = "none"
)

func ParseSourceKind(s string) (SourceKind, error) {
	switch k := SourceKind(strings.TrimSpace(s)); k {
	case SourceManual, SourceAuto, SourceFallback, SourceNone:
		return k, nil
	case "":
		return SourceNone, nil
	default:
		return "", fmt.Errorf("unknown source kind %q", s)
	}
}

// ErrorKind is the failure taxonomy recorded with every unsuccessful result.
type ErrorKind string

const (
	ErrorNone            ErrorKind = ""
	ErrorNoTranscript    ErrorKind = "no_transcript"
	ErrorSourceDisabled  ErrorKind = "source_disabled"
	ErrorItemUnavailable ErrorKind = "item_unavailable"
	ErrorRateLimited     ErrorKind = "rate_limited"
	ErrorTimeout         ErrorKind = "timeout"
	ErrorFallback        ErrorKind = "fallback_failure"
	ErrorUnknown         ErrorKind = "unknown"
)

// ErrorKinds lists every non-empty kind in report order.
var ErrorKinds = []ErrorKind{
	ErrorNoTranscript,
	ErrorSourceDisabled,
	ErrorItemUnavailable,
	ErrorRateLimited,
	ErrorTimeout,
	ErrorFallback,
	ErrorUnknown,
}

func ParseErrorKind(s string) (ErrorKind, error) {
	k := ErrorKind(strings.TrimSpace(s))
	if k == ErrorNone {
		return ErrorNone, nil
	}
	for _, known := range ErrorKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown error kind %q", s)
}

// AllowsFallback reports whether the local transcriber may be tried after this failure.
func (k ErrorKind) AllowsFallback() bool {
	return k == ErrorNoTranscript || k == ErrorSourceDisabled
}

// Result is the outcome of one item attempt. Exactly one exists per item in a checkpoint.
type Result struct {
	ItemID       string     `json:"item_id"`
	HasText      bool       `json:"has_text"`
	Text         string     `json:"text,omitempty"`
	LanguageCode string     `json:"language_code,omitempty"`
	SourceKind   SourceKind `json:"source_kind"`
	ErrorKind    ErrorKind  `json:"error_kind,omitempty"`
	ErrorDetail  string     `json:"error_detail,omitempty"`
	FetchedAt    time.Time  `json:"fetched_at"`
	RunID        string     `json:"run_id,omitempty"`
}

// Success builds a result carrying text. Empty text is not a success and is
// turned into a no_transcript failure.
func Success(itemID, text, languageCode string, source SourceKind, fetchedAt time.Time) Result {
	if strings.TrimSpace(text) == "" {
		return Failure(itemID, ErrorNoTranscript, "transcript text is empty", fetchedAt)
	}
	return Result{
		ItemID:       itemID,
		HasText:      true,
		Text:         text,
		LanguageCode: languageCode,
		SourceKind:   source,
		FetchedAt:    fetchedAt.UTC(),
	}
}

func Failure(itemID string, kind ErrorKind, detail string, fetchedAt time.Time) Result {
	if kind == ErrorNone {
		kind = ErrorUnknown
	}
	return Result{
		ItemID:      itemID,
		SourceKind:  SourceNone,
		ErrorKind:   kind,
		ErrorDetail: detail,
		FetchedAt:   fetchedAt.UTC(),
	}
}

// Validate checks the has_text / error_kind / text invariant.
func (r Result) Validate() error {
	if strings.TrimSpace(r.ItemID) == "" {
		return fmt.Errorf("item_id is empty")
	}
	if r.HasText {
		if r.Text == "" {
			return fmt.Errorf("item %s: has_text set but text is empty", r.ItemID)
		}
		if r.ErrorKind != ErrorNone {
			return fmt.Errorf("item %s: has_text set with error_kind %q", r.ItemID, r.ErrorKind)
		}
		if r.SourceKind == SourceNone || r.SourceKind == "" {
			return fmt.Errorf("item %s: has_text set without a source kind", r.ItemID)
		}
		return nil
	}
	if r.Text != "" {
		return fmt.Errorf("item %s: text present on a failed result", r.ItemID)
	}
	if r.ErrorKind == ErrorNone {
		return fmt.Errorf("item %s: failed result without error_kind", r.ItemID)
	}
	return nil
}

func (r Result) String() string {
	if r.HasText {
		return fmt.Sprintf("%s ok source=%s lang=%s chars=%d", r.ItemID, r.SourceKind, r.LanguageCode, len(r.Text))
	}
	return fmt.Sprintf("%s fail kind=%s detail=%q", r.ItemID, r.ErrorKind, r.ErrorDetail)
}
