package index

import (
	"bufio"
	"bytes"
	"cmp"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestIndex_ConcurrentOperations(t *testing.T) {
	const (
		workers             = 10
		initialInserts      = 10
		operationsPerWorker = 1000
		keySpace            = 129 // Keys are drawn from [0, 128].
	)
	ix := newTestIndex(t, 7)

	{ // Populate the index from all workers at once.
		var group errgroup.Group
		for worker := 0; worker < workers; worker++ {
			rnd := rand.New(rand.NewSource(int64(worker) + 1))
			group.Go(func() error {
				for i := 0; i < initialInserts; i++ {
					key := rnd.Intn(keySpace)
					_ = ix.Insert(key, key*10)
				}
				return nil
			})
		}
		require.NoError(t, group.Wait())
	}

	{ // Hammer the index with a random mix of operations.
		var group errgroup.Group
		for worker := 0; worker < workers; worker++ {
			rnd := rand.New(rand.NewSource(int64(worker) + 100))
			group.Go(func() error {
				for i := 0; i < operationsPerWorker; i++ {
					key := rnd.Intn(keySpace)
					switch rnd.Intn(3) {
					case 0:
						_ = ix.Insert(key, key*10)
					case 1:
						ix.Delete(key)
					case 2:
						if value, err := ix.Search(key); err == nil && value != key*10 {
							return fmt.Errorf("key %d holds %d, want %d", key, value, key*10)
						}
					}
				}
				return nil
			})
		}
		require.NoError(t, group.Wait())
	}

	// At quiescence the structural invariants hold and every surviving key
	// still maps to its value.
	checkStructure(t, ix)
	for key := 0; key < keySpace; key++ {
		if value, err := ix.Search(key); err == nil {
			assert.Equal(t, key*10, value)
		}
	}
}

func TestIndex_ConcurrentDisjointWriters(t *testing.T) {
	const (
		workers       = 8
		keysPerWorker = 200
	)
	ix := newTestIndex(t, 12)

	var group errgroup.Group
	for worker := 0; worker < workers; worker++ {
		base := worker * keysPerWorker
		group.Go(func() error {
			for offset := 0; offset < keysPerWorker; offset++ {
				if err := ix.Insert(base+offset, base+offset); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())

	assert.Equal(t, workers*keysPerWorker, ix.Len())
	checkStructure(t, ix)
	for key := 0; key < workers*keysPerWorker; key++ {
		value, err := ix.Search(key)
		assert.NoError(t, err)
		assert.Equal(t, key, value)
	}
}

func TestIndex_ConcurrentInsertSameKey(t *testing.T) {
	const workers = 8
	ix := newTestIndex(t, 6)

	var winners atomic.Int32
	var group errgroup.Group
	for worker := 0; worker < workers; worker++ {
		value := worker
		group.Go(func() error {
			if err := ix.Insert(42, value); err == nil {
				winners.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())

	assert.Equal(t, int32(1), winners.Load(), "exactly one insert may win")
	assert.Equal(t, 1, ix.Len())
	value, err := ix.Search(42)
	assert.NoError(t, err)
	assert.Less(t, value, workers)
	checkStructure(t, ix)
}

func TestIndex_ConcurrentDeleteSameKey(t *testing.T) {
	const workers = 8
	ix := newTestIndex(t, 6)
	require.NoError(t, ix.Insert(7, 70))

	var group errgroup.Group
	for worker := 0; worker < workers; worker++ {
		group.Go(func() error {
			ix.Delete(7) // Only one delete can pass the equality check.
			return nil
		})
	}
	require.NoError(t, group.Wait())

	assert.Equal(t, 0, ix.Len())
	_, err := ix.Search(7)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	checkStructure(t, ix)
}

func TestIndex_DumpDuringTraffic(t *testing.T) {
	const keySpace = 200
	ix := newTestIndex(t, 8)
	for key := 0; key < keySpace; key += 2 {
		require.NoError(t, ix.Insert(key, key))
	}

	stop := make(chan struct{})
	var writersGroup errgroup.Group
	for worker := 0; worker < 4; worker++ {
		rnd := rand.New(rand.NewSource(int64(worker) + 11))
		writersGroup.Go(func() error {
			for {
				select {
				case <-stop:
					return nil
				default:
				}
				key := rnd.Intn(keySpace)
				if rnd.Intn(2) == 0 {
					_ = ix.Insert(key, key)
				} else {
					ix.Delete(key)
				}
			}
		})
	}

	format := func(key, value int) string { return strconv.Itoa(key) + ":" + strconv.Itoa(value) }
	for round := 0; round < 5; round++ {
		var buffer bytes.Buffer
		_, err := ix.DumpTo(&buffer, format)
		require.NoError(t, err)

		// The walk follows the bottom level, so even a dump taken under
		// concurrent writes emits strictly increasing keys.
		prevKey := -1
		scanner := bufio.NewScanner(&buffer)
		for scanner.Scan() {
			rawKey, _, found := strings.Cut(scanner.Text(), ":")
			require.True(t, found)
			key, err := strconv.Atoi(rawKey)
			require.NoError(t, err)
			assert.Greater(t, key, prevKey)
			prevKey = key
		}
		require.NoError(t, scanner.Err())
	}
	close(stop)
	require.NoError(t, writersGroup.Wait())
	checkStructure(t, ix)
}

func TestIndex_ConcurrentStringIndex(t *testing.T) {
	// Same-direction coverage for a non-numeric key type.
	ix, err := New[string, string](6, cmp.Compare, WithRandomSource(rand.NewSource(9)))
	require.NoError(t, err)

	var group errgroup.Group
	for worker := 0; worker < 6; worker++ {
		prefix := string(rune('a' + worker))
		group.Go(func() error {
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("%s-%03d", prefix, i)
				if err := ix.Insert(key, key); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())

	assert.Equal(t, 600, ix.Len())
	checkStructure(t, ix)
}
