// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFanPool(t *testing.T) {
	f := NewFanPool(3, 2)
	require.Equal(t, uint64(3), f.Size())
	require.Equal(t, 2, cap(f.columns[0]))

	f.Close()
	f.Wait()
	require.Equal(t, uint64(0), f.Size())
}

func TestNewFanPoolAtLeastOneColumn(t *testing.T) {
	f := NewFanPool(0, 1)
	require.Equal(t, uint64(1), f.Size())

	done := make(chan bool)
	require.True(t, f.Enqueue("a", func() { done <- true }))
	require.True(t, <-done)
	f.Close()
	f.Wait()
}

func TestFanPoolColumnStable(t *testing.T) {
	f := NewFanPool(8, 1)
	defer f.Close()

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("client-%d", i)
		c := f.column(key)
		require.GreaterOrEqual(t, c, 0)
		require.Less(t, c, 8)
		require.Equal(t, c, f.column(key))
	}
}

func TestFanPoolSameKeyInOrder(t *testing.T) {
	f := NewFanPool(4, 16)
	var got []int
	for i := 0; i < 10; i++ {
		i := i
		require.True(t, f.Enqueue("client-1", func() {
			got = append(got, i)
		}))
	}

	f.Close()
	f.Wait()
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestFanPoolKeysRunConcurrently(t *testing.T) {
	f := NewFanPool(64, 1)

	// find two keys on different columns
	a, b := "a", ""
	for i := 0; b == ""; i++ {
		if k := fmt.Sprintf("b%d", i); f.column(k) != f.column(a) {
			b = k
		}
	}

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	require.True(t, f.Enqueue(a, func() { <-release }))
	require.True(t, f.Enqueue(b, func() {
		close(release)
		wg.Done()
	}))

	wg.Wait()
	f.Close()
	f.Wait()
}

func TestFanPoolCloseRunsQueued(t *testing.T) {
	f := NewFanPool(1, 4)
	var n int
	for i := 0; i < 4; i++ {
		require.True(t, f.Enqueue("a", func() { n++ }))
	}

	f.Close()
	f.Close()
	f.Wait()
	require.Equal(t, 4, n)
	require.False(t, f.Enqueue("a", func() {}))
}
