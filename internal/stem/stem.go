package stem

import (
	"strings"
	"sync"
	"unicode"

	"github.com/reiver/go-porterstemmer"
)

var builders = sync.Pool{
	New: func() any {
		return &strings.Builder{}
	},
}

// Word stems a single word after lower-casing it and trimming surrounding punctuation.
func Word(word string) string {
	word = strings.TrimFunc(strings.ToLower(word), trimPunctuation)
	if word == "" {
		return ""
	}
	return porterstemmer.StemString(word)
}

// Words stems every whitespace separated word of value, keeping positions:
// the i-th result belongs to the i-th field of value.
func Words(value string) []string {
	fields := strings.Fields(value)
	ret := make([]string, len(fields))
	for i, f := range fields {
		ret[i] = Word(f)
	}
	return ret
}

// Line stems a whole line, joining the stems with single spaces and dropping
// words that are nothing but punctuation.
func Line(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	b := builders.Get().(*strings.Builder)
	b.Reset()
	b.Grow(len(value))

	for _, f := range strings.Fields(value) {
		w := Word(f)
		if w == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}

	s := b.String()
	builders.Put(b)
	return s
}

func trimPunctuation(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
