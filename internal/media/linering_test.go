package media

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineRingBasic(t *testing.T) {
	r := NewLineRing(4)
	r.Append("one")
	r.Append("two")
	r.Append("three")

	assert.Equal(t, []string{"one", "two", "three"}, r.LastN(10))
	assert.Equal(t, []string{"two", "three"}, r.LastN(2))
}

func TestLineRingWrapAround(t *testing.T) {
	r := NewLineRing(3)
	for i := 1; i <= 5; i++ {
		r.Append(fmt.Sprintf("line-%d", i))
	}

	assert.Equal(t, []string{"line-3", "line-4", "line-5"}, r.LastN(3))
	assert.Equal(t, []string{"line-5"}, r.LastN(1))
}

func TestLineRingDropsEmptyLines(t *testing.T) {
	r := NewLineRing(4)
	r.Append("a")
	r.Append("")
	r.Append("b")

	assert.Equal(t, []string{"a", "b"}, r.LastN(4))
}

func TestLineRingEmpty(t *testing.T) {
	r := NewLineRing(4)
	assert.Empty(t, r.LastN(3))
}
