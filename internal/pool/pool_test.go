package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	val int
}

func (i *item) Reset() { i.val = 0 }

func TestPoolAcquireRelease(t *testing.T) {
	p := New[item, *item](4)
	assert.Equal(t, 4, p.Available())

	h1, ok := p.Acquire()
	require.True(t, ok)
	assert.Equal(t, 3, p.Available())

	p.Get(h1).val = 42
	assert.Equal(t, 42, p.Get(h1).val)

	p.Release(h1)
	assert.Equal(t, 4, p.Available())
	assert.Equal(t, 0, p.Get(h1).val) // reset on release
}

func TestPoolExhaustion(t *testing.T) {
	p := New[item, *item](2)
	_, ok1 := p.Acquire()
	_, ok2 := p.Acquire()
	_, ok3 := p.Acquire()
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3)
	assert.Equal(t, 0, p.Available())
}

func TestPoolDoubleReleaseIgnored(t *testing.T) {
	p := New[item, *item](2)
	h, _ := p.Acquire()
	p.Release(h)
	assert.NotPanics(t, func() { p.Release(h) })
	assert.Equal(t, 2, p.Available())
}

func TestLockFreePoolConcurrent(t *testing.T) {
	const n = 100
	p := NewLockFree[item, *item](n)

	var wg sync.WaitGroup
	acquired := make(chan Handle, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, ok := p.Acquire()
			if ok {
				acquired <- h
			}
		}()
	}
	wg.Wait()
	close(acquired)

	seen := map[Handle]bool{}
	count := 0
	for h := range acquired {
		assert.False(t, seen[h], "handle acquired twice: %v", h)
		seen[h] = true
		count++
	}
	assert.Equal(t, n, count)

	_, ok := p.Acquire()
	assert.False(t, ok, "pool should be exhausted")
}
