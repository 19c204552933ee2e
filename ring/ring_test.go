package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddBelowCapacity(t *testing.T) {
	b := New[int](3)
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Items())

	b.Add(1)
	b.Add(2)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 3, b.Cap())
	assert.Equal(t, []int{1, 2}, b.Items())
}

func TestEvictsOldest(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 4; i++ {
		b.Add(i)
	}
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []int{2, 3, 4}, b.Items())

	for i := 5; i <= 9; i++ {
		b.Add(i)
	}
	assert.Equal(t, []int{7, 8, 9}, b.Items())
}

func TestLast(t *testing.T) {
	b := New[string](4)
	b.Add("a")
	b.Add("b")
	b.Add("c")
	b.Add("d")
	b.Add("e")

	assert.Equal(t, []string{"d", "e"}, b.Last(2))
	assert.Equal(t, []string{"b", "c", "d", "e"}, b.Last(10))
	assert.Empty(t, b.Last(0))
	assert.Empty(t, b.Last(-1))
}

func TestItemsIsCopy(t *testing.T) {
	b := New[int](2)
	b.Add(1)
	items := b.Items()
	items[0] = 100
	assert.Equal(t, []int{1}, b.Items())
}

func TestZeroCapacity(t *testing.T) {
	b := New[int](0)
	b.Add(1)
	b.Add(2)
	assert.Equal(t, []int{2}, b.Items())
}

func TestConcurrentReaders(t *testing.T) {
	b := New[int](50)
	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.Add(i)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			assert.LessOrEqual(t, len(b.Items()), 50)
		}
	}()
	wg.Wait()
	items := b.Items()
	assert.Len(t, items, 50)
	assert.Equal(t, 999, items[49])
	for i := 1; i < len(items); i++ {
		assert.Equal(t, items[i-1]+1, items[i])
	}
}
