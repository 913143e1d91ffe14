package service

import (
	"fmt"
	"strings"

	"github.com/MimeLyc/transcript-collector/internal/checkpoint"
	"github.com/MimeLyc/transcript-collector/internal/transcript"
)

var sourceOrder = []transcript.SourceKind{
	transcript.SourceManual,
	transcript.SourceAuto,
	transcript.SourceFallback,
}

// FormatStats renders checkpoint totals on one line, listing at most top error kinds.
func FormatStats(st checkpoint.Stats, top int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d items, %d with text (%.1f%%)", st.Total, st.Succeeded, 100*st.SuccessRatio())

	var sources []string
	for _, k := range sourceOrder {
		if n := st.BySource[k]; n > 0 {
			sources = append(sources, fmt.Sprintf("%s=%d", k, n))
		}
	}
	if len(sources) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(sources, " "))
	}

	errs := st.TopErrors(top)
	if len(errs) == 0 {
		return b.String()
	}
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = fmt.Sprintf("%s=%d", e.Kind, e.Count)
	}
	fmt.Fprintf(&b, ", top errors: %s", strings.Join(parts, ", "))
	return b.String()
}
