package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackground_DefersUntilRunAll(t *testing.T) {
	bg := NewBackground()
	var order []int

	bg.Go(func() { order = append(order, 1) })
	bg.Go(func() {
		order = append(order, 2)
		bg.Go(func() { order = append(order, 3) })
	})

	assert.Empty(t, order)
	assert.Equal(t, 2, bg.Pending())

	assert.Equal(t, 3, bg.RunAll())
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, 0, bg.Pending())
}

func TestBackground_Discard(t *testing.T) {
	bg := NewBackground()
	ran := false
	bg.Go(func() { ran = true })

	assert.Equal(t, 1, bg.Discard())
	assert.Equal(t, 0, bg.RunAll())
	assert.False(t, ran)
}
