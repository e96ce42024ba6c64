package port

import (
	"cmp"
	"errors"
	"flag"
	"fmt"

	"github.com/nobletooth/loquat/pkg/index"
	"github.com/nobletooth/loquat/pkg/snapshot"
)

var (
	maxLevel = flag.Int("index_max_level", 12,
		"Maximum tower height of the index; typical values are 6 to 20.")
	snapshotPath = flag.String("snapshot_path", "store/dumpFile",
		"Path of the snapshot file used by SAVE and load-on-start.")
	snapshotCompression = flag.Bool("snapshot_compression", false,
		"Gzip snapshot files on save and expect gzipped files on load.")
	searchFilterKeys = flag.Uint("search_filter_keys", 0,
		"Expected key count for the negative-lookup filter; 0 disables it.")
	searchFilterFpRate = flag.Float64("search_filter_fp_rate", 0.01,
		"False positive rate of the negative-lookup filter.")
)

// Store is the storage backend used by Loquat ports: the concurrent index
// plus its snapshot file. The index carries its own per-node locking, so the
// store adds no synchronization of its own.
type Store struct {
	idx   *index.Index[string, string]
	files *snapshot.FileStore[string, string]
}

// NewStore builds a Store from the configured flags.
func NewStore() (*Store, error) {
	var indexOpts []index.Option
	if *searchFilterKeys > 0 {
		indexOpts = append(indexOpts, index.WithBloomFilter(*searchFilterKeys, *searchFilterFpRate))
	}
	idx, err := index.New[string, string](*maxLevel, cmp.Compare, indexOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	var storeOpts []snapshot.Option
	if *snapshotCompression {
		storeOpts = append(storeOpts, snapshot.WithCompression())
	}
	files, err := snapshot.NewFileStore(*snapshotPath, snapshot.StringKeys(), storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	return &Store{idx: idx, files: files}, nil
}

// Get looks up the given key and returns its value, or index.ErrKeyNotFound.
func (s *Store) Get(key string) (string, error) {
	return s.idx.Search(key)
}

// Set stores the pair. An existing key keeps its stored value and the call
// returns index.ErrKeyExists; the first writer wins.
func (s *Store) Set(key, value string) error {
	return s.idx.Insert(key, value)
}

// Delete removes the key and reports whether it was present. The existence
// probe and the unlink are separate steps; a concurrent writer can win
// between them, which the protocol tolerates.
func (s *Store) Delete(key string) bool {
	_, err := s.idx.Search(key)
	s.idx.Delete(key)
	return !errors.Is(err, index.ErrKeyNotFound)
}

// Exists reports whether the key is currently stored.
func (s *Store) Exists(key string) bool {
	_, err := s.idx.Search(key)
	return err == nil
}

// Len reports the number of stored pairs.
func (s *Store) Len() int {
	return s.idx.Len()
}

// Save snapshots the index into the backing file.
func (s *Store) Save() (int, uint64, error) {
	return s.files.Save(s.idx)
}

// Load restores the backing file into the index.
func (s *Store) Load() (inserted, skipped int, err error) {
	return s.files.Load(s.idx)
}

// Flush discards every stored pair.
func (s *Store) Flush() {
	s.idx.Clear()
}
