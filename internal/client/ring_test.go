package client

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestRing_KeepsNewestItemsInOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("holds at most capacity items", prop.ForAll(
		func(capacity int, values []int) bool {
			r := NewRing[int](capacity)
			for _, v := range values {
				r.Push(v)
			}
			return r.Len() <= capacity && r.Len() == min(len(values), capacity)
		},
		gen.IntRange(1, 30),
		gen.SliceOf(gen.Int()),
	))

	properties.Property("keeps the last capacity pushes oldest first", prop.ForAll(
		func(capacity int, values []int) bool {
			r := NewRing[int](capacity)
			for _, v := range values {
				r.Push(v)
			}
			want := values
			if len(want) > capacity {
				want = want[len(want)-capacity:]
			}
			got := r.Items()
			if len(got) != len(want) {
				return false
			}
			for i := range want {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 30),
		gen.SliceOf(gen.Int()),
	))

	properties.TestingRun(t)
}

func TestRing_PushReportsEviction(t *testing.T) {
	r := NewRing[string](2)

	assert.False(t, r.Push("a"))
	assert.False(t, r.Push("b"))
	assert.True(t, r.Push("c"))
	assert.Equal(t, []string{"b", "c"}, r.Items())
	assert.Equal(t, 2, r.Len())
}

func TestRing_NonPositiveCapacity(t *testing.T) {
	r := NewRing[int](0)
	r.Push(1)
	r.Push(2)

	assert.Equal(t, []int{2}, r.Items())
}
