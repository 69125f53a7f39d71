package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMedian(t *testing.T) {
	for _, c := range []struct {
		in  []int
		out float64
	}{
		{[]int{5, 3, 4, 2, 1}, 3},
		{[]int{6, 3, 2, 4, 5, 1}, 3.5},
		{[]int{1}, 1},
		{[]int{}, 0},
	} {
		assert.Equal(t, c.out, Median(c.in), "%v", c.in)
	}

	in := []int{3, 1, 2}
	Median(in)
	assert.Equal(t, []int{3, 1, 2}, in, "input left untouched")
}
