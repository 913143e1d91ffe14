package fallback

import (
	"fmt"
	"strings"

	"github.com/MimeLyc/transcript-collector/internal/transcript"
)

const (
	StageDownload   = "download"
	StageLocate     = "locate"
	StageTranscribe = "transcribe"
	StageParse      = "parse"
)

// StageError is a fallback failure tied to the step that produced it.
// It matches transcript.ErrFallbackFailed and its cause under errors.Is.
type StageError struct {
	Stage   string
	ItemID  string
	Message string
	Command CommandLog
	Err     error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("fallback %s of %s: %s", e.Stage, e.ItemID, e.Message)
	if e.Command.Command != "" {
		msg += fmt.Sprintf(" (cmd=%s exit=%d)", e.Command.Command, e.Command.ExitCode)
		if tail := lastLine(e.Command.Stderr); tail != "" {
			msg += ": " + tail
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{transcript.ErrFallbackFailed}
	}
	return []error{transcript.ErrFallbackFailed, e.Err}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
