// Searches for keys that were never stored still pay a full descent. The
// presence filter answers "definitely absent" for those without taking a
// single node lock, at the price of re-walking for keys that were deleted.

package index

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
)

// presenceFilter fronts Search with a bloom filter over inserted keys.
// Deleted keys are never removed from the filter; a stale positive only costs
// the regular traversal, while a negative answer is always exact.
type presenceFilter[K any] struct {
	mtx      sync.RWMutex
	filter   *bloom.BloomFilter
	keyBytes func(key K) []byte
	size     uint
	fpRate   float64
}

func newPresenceFilter[K any](n uint, fpRate float64) *presenceFilter[K] {
	return &presenceFilter[K]{
		filter:   bloom.NewWithEstimates(n, fpRate),
		keyBytes: keyBytesFn[K](),
		size:     n,
		fpRate:   fpRate,
	}
}

// fingerprint folds a key of any width into a fixed 8-byte digest.
func (p *presenceFilter[K]) fingerprint(key K) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], xxhash.Sum64(p.keyBytes(key)))
	return buf[:]
}

func (p *presenceFilter[K]) add(key K) {
	fingerprint := p.fingerprint(key)
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.filter.Add(fingerprint)
}

func (p *presenceFilter[K]) mayContain(key K) bool {
	fingerprint := p.fingerprint(key)
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.filter.Test(fingerprint)
}

func (p *presenceFilter[K]) reset() {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.filter = bloom.NewWithEstimates(p.size, p.fpRate)
}

// keyBytesFn picks a byte encoding for the key type once. Strings and byte
// slices are used as is; int, int32, int64 and uint64 are written in their
// binary representation, with int widened to 64 bits first since its size is
// architecture-dependent. Every other type, including the remaining numeric
// types, falls back to its printed form, which works for anything printable.
func keyBytesFn[K any]() func(key K) []byte {
	switch any(*new(K)).(type) {
	case string:
		return func(key K) []byte { return []byte(any(key).(string)) }
	case []byte:
		return func(key K) []byte { return any(key).([]byte) }
	case int:
		return func(key K) []byte {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(any(key).(int)))
			return b[:]
		}
	case int32:
		return func(key K) []byte {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(any(key).(int32)))
			return b[:]
		}
	case int64:
		return func(key K) []byte {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(any(key).(int64)))
			return b[:]
		}
	case uint64:
		return func(key K) []byte {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], any(key).(uint64))
			return b[:]
		}
	default:
		return func(key K) []byte { return []byte(fmt.Sprintf("%v", key)) }
	}
}
