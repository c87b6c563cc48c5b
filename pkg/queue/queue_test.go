// Copyright (c) 2025 A Bit of Help, Inc.

package queue

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainUpTo_FIFOPartitions(t *testing.T) {
	tests := []struct {
		n, k int
	}{
		{0, 3}, {1, 3}, {3, 3}, {7, 3}, {10, 10}, {25, 4}, {5, 100},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprintf("n=%d_k=%d", tc.n, tc.k), func(t *testing.T) {
			q := New[int]()
			for i := 0; i < tc.n; i++ {
				q.Push(i)
			}
			require.Equal(t, tc.n, q.Len())

			var groups [][]int
			for {
				group := q.DrainUpTo(tc.k)
				if len(group) == 0 {
					break
				}
				groups = append(groups, group)
			}

			expectedGroups := (tc.n + tc.k - 1) / tc.k
			assert.Len(t, groups, expectedGroups)

			var flat []int
			for i, g := range groups {
				if i < len(groups)-1 {
					assert.Len(t, g, tc.k, "only the last group may be partial")
				}
				flat = append(flat, g...)
			}
			assert.Len(t, flat, tc.n)
			for i, v := range flat {
				assert.Equal(t, i, v, "records must come out in push order")
			}
			assert.Zero(t, q.Len())
		})
	}
}

func TestDrainUpTo_EmptyAndInvalid(t *testing.T) {
	q := New[string]()
	assert.Nil(t, q.DrainUpTo(5))

	q.Push("a")
	assert.Nil(t, q.DrainUpTo(0))
	assert.Nil(t, q.DrainUpTo(-1))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, []string{"a"}, q.DrainUpTo(1))
}

func TestBatchQueue_ConcurrentPushAndDrain(t *testing.T) {
	const producers = 4
	const perProducer = 2500

	q := New[int]()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(base + i)
			}
		}(p * perProducer)
	}

	done := make(chan struct{})
	var drained []int
	go func() {
		defer close(done)
		for len(drained) < producers*perProducer {
			drained = append(drained, q.DrainUpTo(7)...)
		}
	}()

	wg.Wait()
	<-done

	require.Len(t, drained, producers*perProducer)
	assert.Zero(t, q.Len())

	// Each producer's entries keep their relative order.
	last := make(map[int]int)
	for _, v := range drained {
		owner := v / perProducer
		if prev, ok := last[owner]; ok {
			assert.Less(t, prev, v)
		}
		last[owner] = v
	}

	// No loss, no duplicates.
	sort.Ints(drained)
	for i, v := range drained {
		if v != i {
			t.Fatalf("expected %d at position %d, got %d", i, i, v)
		}
	}
}
