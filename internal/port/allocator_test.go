package port

import (
	"net"
	"sync"
	"testing"

	"orchestra/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allFree() Prober {
	return ProberFunc(func(int) bool { return true })
}

func TestNewAllocatorRejectsBadRange(t *testing.T) {
	_, err := NewAllocator(4000, 3000, allFree())
	assert.True(t, errors.HasCode(err, errors.ErrInvalidPort))

	_, err = NewAllocator(0, 10, allFree())
	assert.Error(t, err)

	_, err = NewAllocator(65000, 70000, allFree())
	assert.Error(t, err)
}

func TestAllocateLowestFirstAndReuse(t *testing.T) {
	a, err := NewAllocator(3001, 3003, allFree())
	require.NoError(t, err)

	p1, err := a.Allocate()
	require.NoError(t, err)
	p2, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 3001, p1)
	assert.Equal(t, 3002, p2)

	a.Release(p1)
	p3, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 3001, p3, "released port is handed out again")
}

func TestAllocateExhaustion(t *testing.T) {
	a, err := NewAllocator(3001, 3001, allFree())
	require.NoError(t, err)

	_, err = a.Allocate()
	require.NoError(t, err)

	_, err = a.Allocate()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrPortsExhausted))
}

func TestAllocateSkipsPortsBoundElsewhere(t *testing.T) {
	bound := map[int]bool{3001: true, 3002: true}
	a, err := NewAllocator(3001, 3005, ProberFunc(func(p int) bool { return !bound[p] }))
	require.NoError(t, err)

	p, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 3003, p)
	assert.False(t, a.IsAvailable(3001))
	assert.True(t, a.IsBound(3001))
	assert.False(t, a.IsAvailable(3003), "handed out ports are unavailable")
	assert.True(t, a.IsAvailable(3004))
	assert.False(t, a.IsAvailable(2000), "out of range")
}

func TestReleaseIsIdempotent(t *testing.T) {
	a, err := NewAllocator(3001, 3002, allFree())
	require.NoError(t, err)

	p, err := a.Allocate()
	require.NoError(t, err)
	a.Release(p)
	a.Release(p)
	a.Release(9999)

	assert.Equal(t, 0, a.Stats().Allocated)
}

func TestReserve(t *testing.T) {
	a, err := NewAllocator(3001, 3003, allFree())
	require.NoError(t, err)

	require.NoError(t, a.Reserve(3001))
	assert.Error(t, a.Reserve(3001), "double reservation")
	assert.Error(t, a.Reserve(4000), "outside range")
	assert.True(t, a.IsAllocated(3001))

	p, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 3002, p)

	stats := a.Stats()
	assert.Equal(t, Stats{Allocated: 2, Available: 1, Total: 3, Min: 3001, Max: 3003}, stats)
}

func TestConcurrentAllocateNeverDuplicates(t *testing.T) {
	a, err := NewAllocator(3001, 3100, allFree())
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		seen  = map[int]int{}
		fails int
	)
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := a.Allocate()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fails++
				return
			}
			seen[p]++
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 100)
	assert.Equal(t, 50, fails)
	for p, n := range seen {
		assert.Equal(t, 1, n, "port %d handed out twice", p)
	}
}

func TestScannerDetectsBoundPort(t *testing.T) {
	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	assert.False(t, NewScanner().IsPortAvailable(port))
}
