package classify

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/MimeLyc/transcript-collector/internal/transcript"
)

// Classify maps a failure from any source into the taxonomy and reports
// whether the upstream is throttling the caller. A nil error maps to ErrorNone.
func Classify(err error) (transcript.ErrorKind, bool) {
	kind := kindOf(err)
	return kind, kind == transcript.ErrorRateLimited
}

func kindOf(err error) transcript.ErrorKind {
	if err == nil {
		return transcript.ErrorNone
	}

	// An explicit kind wins, unless it is unknown and the cause says more.
	var itemErr *transcript.ItemError
	if errors.As(err, &itemErr) && itemErr.Kind != transcript.ErrorNone && itemErr.Kind != transcript.ErrorUnknown {
		return itemErr.Kind
	}

	switch {
	case errors.Is(err, transcript.ErrTooManyRequests):
		return transcript.ErrorRateLimited
	case errors.Is(err, context.DeadlineExceeded):
		return transcript.ErrorTimeout
	case errors.Is(err, transcript.ErrFallbackFailed), errors.Is(err, transcript.ErrFallbackNotConfig):
		return transcript.ErrorFallback
	case errors.Is(err, transcript.ErrDisabled):
		return transcript.ErrorSourceDisabled
	case errors.Is(err, transcript.ErrUnavailable):
		return transcript.ErrorItemUnavailable
	case errors.Is(err, transcript.ErrNoTranscript):
		return transcript.ErrorNoTranscript
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transcript.ErrorTimeout
	}

	return fromMessage(err.Error())
}

// Upstream libraries do not always expose typed errors; fall back to the message.
func fromMessage(msg string) transcript.ErrorKind {
	s := strings.ToLower(msg)
	switch {
	case strings.Contains(s, "429"),
		strings.Contains(s, "too many requests"),
		strings.Contains(s, "rate limit"),
		strings.Contains(s, "captcha"),
		strings.Contains(s, "quota"):
		return transcript.ErrorRateLimited
	case strings.Contains(s, "timeout"), strings.Contains(s, "timed out"), strings.Contains(s, "deadline exceeded"):
		return transcript.ErrorTimeout
	case strings.Contains(s, "transcripts disabled"), strings.Contains(s, "subtitles are disabled"):
		return transcript.ErrorSourceDisabled
	case strings.Contains(s, "video unavailable"), strings.Contains(s, "private video"):
		return transcript.ErrorItemUnavailable
	default:
		return transcript.ErrorUnknown
	}
}
