package regularizers

import (
	"testing"

	"github.com/nodebias/nodebias/ml/params"
	"github.com/stretchr/testify/assert"
)

func TestL1(t *testing.T) {
	w := []float64{0, -1, 2, -3, 4}
	assert.Equal(t, 10.0, L1Norm(w))
	assert.InDelta(t, 1.0, L1(0.1)(w), 1e-12)
	assert.Equal(t, 0.0, L1(0)(w))
}

func TestL2(t *testing.T) {
	w := []float64{1, -2, 3}
	assert.InDelta(t, 1.4, L2(0.1)(w), 1e-12)
	assert.InDelta(t, 2.0, Combine(L1(0.1), L2(0.1), nil)(w), 1e-12)
}

func TestTree(t *testing.T) {
	p := params.New().
		Add("w", []float64{0, 1, 2, 3, 4, 0, 1, 2, 3, 4}, 2, 5).
		Add("b", []float64{-1, 1})
	assert.InDelta(t, 2.2, Tree(L1(0.1), p), 1e-12)
	assert.Equal(t, 0.0, Tree(nil, p))
}
