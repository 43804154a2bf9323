package ports

import (
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junctionhq/junction/pkg/types"
)

func TestFindAvailable_SkipsLeasedPort(t *testing.T) {
	a := NewAllocator(20000, 20999)

	first, err := a.FindAvailable(20100, 10, "owner-a")
	require.NoError(t, err)

	second, err := a.FindAvailable(first, 10, "owner-b")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, a.Leased(first))
	assert.True(t, a.Leased(second))
}

func TestFindAvailable_SkipsBoundPort(t *testing.T) {
	a := NewAllocator(20000, 29999)

	// Occupy a port with a real listener
	ln, err := net.Listen("tcp4", "0.0.0.0:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	bound := ln.Addr().(*net.TCPAddr).Port
	if bound < 20000 || bound > 29999 {
		t.Skipf("ephemeral port %d outside test range", bound)
	}

	got, err := a.FindAvailable(bound, 10, "owner")
	require.NoError(t, err)
	assert.NotEqual(t, bound, got)
	assert.False(t, a.Leased(bound))
}

func TestFindAvailable_Exhausted(t *testing.T) {
	a := NewAllocator(21000, 21002)

	for port := 21000; port <= 21002; port++ {
		require.NoError(t, a.Acquire(port, "owner"))
	}

	_, err := a.FindAvailable(21000, 10, "late")
	require.Error(t, err)
	assert.Equal(t, types.KindPortExhausted, types.KindOf(err))
}

func TestFindAvailable_RangeBound(t *testing.T) {
	a := NewAllocator(22000, 22000)
	require.NoError(t, a.Acquire(22000, "owner"))

	_, err := a.FindAvailable(22000, 100, "late")
	assert.Equal(t, types.KindPortExhausted, types.KindOf(err))
}

func TestAcquireRelease(t *testing.T) {
	a := NewAllocator(3000, 9999)

	require.NoError(t, a.Acquire(4567, "owner-a"))
	assert.Error(t, a.Acquire(4567, "owner-b"))

	a.Release(4567)
	assert.False(t, a.Leased(4567))
	require.NoError(t, a.Acquire(4567, "owner-b"))
}

func TestFindAvailable_ConcurrentNoDuplicates(t *testing.T) {
	a := NewAllocator(23000, 23999)

	const n = 20
	results := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			port, err := a.FindAvailable(23100, 200, fmt.Sprintf("owner-%d", i))
			if err != nil {
				t.Errorf("FindAvailable: %v", err)
				return
			}
			results <- port
		}(i)
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for port := range results {
		assert.False(t, seen[port], "port %d allocated twice", port)
		seen[port] = true
	}
}
