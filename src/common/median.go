package common

import (
	"sort"
)

// Median returns the middle value of input, or the mean of the two middle
// values when the length is even. It is 0 for an empty slice. input is not
// modified.
func Median(input []int) float64 {
	l := len(input)
	if l == 0 {
		return 0
	}

	s := make([]int, l)
	copy(s, input)
	sort.Ints(s)

	if l%2 == 1 {
		return float64(s[l/2])
	}
	return float64(s[l/2-1]+s[l/2]) / 2
}
