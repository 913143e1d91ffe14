package stem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWord(t *testing.T) {
	tests := map[string]string{
		"Running":  "run",
		"running,": "run",
		"\"cats\"": "cat",
		"...":      "",
		"":         "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Word(in), in)
	}
}

func TestWordsKeepsPositions(t *testing.T) {
	got := Words("Hello, -- connected worlds!")
	assert.Equal(t, []string{"hello", "", "connect", "world"}, got)
}

func TestLine(t *testing.T) {
	assert.Equal(t, "connect the world", Line("  Connecting the worlds. "))
	assert.Equal(t, "", Line("   "))
	assert.Equal(t, Line("connection"), Line("connected"))
}
