package random

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSameSeedSameSequence(t *testing.T) {
	a, b := New(42), New(42)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.IntN(1000), b.IntN(1000))
		assert.Equal(t, a.Float64(), b.Float64())
	}
}

func TestPick(t *testing.T) {
	opts := []string{"a", "b", "c"}
	assert.Equal(t, "a", Pick(nil, opts))
	assert.Equal(t, "", Pick(New(1), nil))
	assert.Contains(t, opts, Pick(New(7), opts))
}
