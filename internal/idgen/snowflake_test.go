package idgen

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGenerator(t *testing.T) {
	tests := []struct {
		name      string
		machineID int64
		wantErr   error
	}{
		{"zero machine id", 0, nil},
		{"max machine id", 1023, nil},
		{"negative machine id", -1, ErrMachineIDOutOfRange},
		{"machine id too large", 1024, ErrMachineIDOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGenerator(tt.machineID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, g)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, g)
		})
	}
}

func TestGenerator_NextID_Unique(t *testing.T) {
	g, err := NewGenerator(1)
	require.NoError(t, err)

	const n = 10000
	seen := make(map[int64]struct{}, n)
	var lastTS int64
	for i := 0; i < n; i++ {
		id, err := g.NextID()
		require.NoError(t, err)

		_, dup := seen[id]
		require.False(t, dup, "duplicate id %d at iteration %d", id, i)
		seen[id] = struct{}{}

		// Decoded timestamps must be non-decreasing.
		ts, machineID, _ := DecomposeID(id)
		assert.GreaterOrEqual(t, ts, lastTS)
		assert.Equal(t, int64(1), machineID)
		lastTS = ts
	}
}

func TestGenerator_NextID_Concurrent(t *testing.T) {
	g, err := NewGenerator(7)
	require.NoError(t, err)

	const goroutines = 8
	const perGoroutine = 2000

	var mu sync.Mutex
	seen := make(map[int64]struct{}, goroutines*perGoroutine)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perGoroutine)
			for j := 0; j < perGoroutine; j++ {
				id, err := g.NextID()
				if err != nil {
					t.Error(err)
					return
				}
				local = append(local, id)
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine, "expected all concurrently generated ids to be unique")
}

func TestGenerator_ClockMovedBackwards(t *testing.T) {
	g, err := NewGenerator(3)
	require.NoError(t, err)

	ts := int64(1700000000000)
	g.now = func() int64 { return ts }

	_, err = g.NextID()
	require.NoError(t, err)

	ts -= 5
	_, err = g.NextID()
	assert.ErrorIs(t, err, ErrClockMovedBackwards)
}

func TestGenerator_SequenceOverflowWaits(t *testing.T) {
	g, err := NewGenerator(0)
	require.NoError(t, err)

	base := int64(1700000000000)
	calls := 0
	g.now = func() int64 {
		calls++
		// Stay in the same millisecond long enough to exhaust the
		// 12-bit sequence, then advance.
		if calls <= maxSequence+2 {
			return base
		}
		return base + 1
	}

	seen := make(map[int64]struct{})
	for i := 0; i <= maxSequence+1; i++ {
		id, err := g.NextID()
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestMachineID_InRange(t *testing.T) {
	id := MachineID()
	assert.GreaterOrEqual(t, id, int64(0))
	assert.LessOrEqual(t, id, int64(MaxMachineID))
}
