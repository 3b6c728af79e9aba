package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMean(t *testing.T) {
	var m Mean
	assert.Zero(t, m.Val())
	for _, v := range []float64{1, 2, 6} {
		m.Add(v)
	}
	assert.InDelta(t, 3.0, m.Val(), 1e-9)
	assert.Equal(t, 3, m.Count())
}
