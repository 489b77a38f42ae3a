package procrun

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineRingKeepsLastLines(t *testing.T) {
	r := NewLineRing(3)

	_, _ = r.Write([]byte("one\ntwo\n"))
	_, _ = r.Write([]byte("three\nfour\n"))

	assert.Equal(t, []string{"two", "three", "four"}, r.LastN(3))
	assert.Equal(t, []string{"four"}, r.LastN(1))
}

func TestLineRingUnderfilled(t *testing.T) {
	r := NewLineRing(10)

	_, _ = r.Write([]byte("only line\n"))

	assert.Equal(t, []string{"only line"}, r.LastN(5))
}

func TestLineRingNOverCapacity(t *testing.T) {
	r := NewLineRing(2)

	_, _ = r.Write([]byte("a\nb\nc\n"))

	assert.Equal(t, []string{"b", "c"}, r.LastN(100))
}

func TestLineRingIgnoresEmptyLines(t *testing.T) {
	r := NewLineRing(5)

	_, _ = r.Write([]byte("\n\nx\n\n"))

	assert.Equal(t, []string{"x"}, r.LastN(5))
}
