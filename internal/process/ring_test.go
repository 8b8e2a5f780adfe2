package process

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineRing_Empty(t *testing.T) {
	r := newLineRing(3)
	assert.Equal(t, "", r.joined(20))
	assert.Empty(t, r.tail(5))
}

func TestLineRing_EvictsOldest(t *testing.T) {
	r := newLineRing(3)
	for i := 1; i <= 5; i++ {
		r.push(fmt.Sprintf("line %d", i))
	}

	assert.Equal(t, 3, r.len())
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, r.tail(10))
	assert.Equal(t, []string{"line 4", "line 5"}, r.tail(2))
	assert.Equal(t, "line 3\nline 4\nline 5", r.joined(0))
}

func TestLineRing_DefaultCapacity(t *testing.T) {
	r := newLineRing(0)
	for i := 0; i < DefaultStderrCapacity+10; i++ {
		r.push(fmt.Sprintf("%d", i))
	}
	assert.Equal(t, DefaultStderrCapacity, r.len())
	tail := r.tail(DefaultTailLines)
	assert.Len(t, tail, DefaultTailLines)
	assert.Equal(t, fmt.Sprintf("%d", DefaultStderrCapacity+9), tail[len(tail)-1])
}
