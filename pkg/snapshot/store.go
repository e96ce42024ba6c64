package snapshot

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nobletooth/loquat/pkg/index"
)

var recordsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "snapshot_records_total",
	Help: "Total number of snapshot records processed.",
}, []string{"op" /* saved | loaded | skipped */})

// FileStore saves and loads one index against one backing file. A store-wide
// mutex serializes saves and loads, so at most one snapshot operation touches
// the file at a time; index traffic keeps flowing around the walk window.
type FileStore[K any, V any] struct {
	mtx      sync.Mutex // Serializes dumps and loads against the file.
	path     string
	rec      Recorder[K, V]
	compress bool
}

type storeOptions struct {
	compress bool
}

// Option configures a FileStore at construction time.
type Option func(*storeOptions)

// WithCompression gzips the snapshot file. The line format inside the stream
// is unchanged, and the content digest is computed before compression.
func WithCompression() Option {
	return func(o *storeOptions) { o.compress = true }
}

// NewFileStore creates a store over the given path. The parent directory is
// created lazily on the first save.
func NewFileStore[K any, V any](path string, rec Recorder[K, V], opts ...Option) (*FileStore[K, V], error) {
	if path == "" {
		return nil, errors.New("expected a non-empty snapshot path")
	}
	if rec.Format == nil || rec.Parse == nil {
		return nil, errors.New("expected a recorder with both format and parse")
	}
	o := storeOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	return &FileStore[K, V]{path: path, rec: rec, compress: o.compress}, nil
}

// Path returns the backing file path.
func (fs *FileStore[K, V]) Path() string {
	return fs.path
}

// Save dumps the index into the backing file, replacing its previous content.
// It returns the number of records written and the xxhash digest of the
// serialized records, taken before any compression.
func (fs *FileStore[K, V]) Save(ix *index.Index[K, V]) (int, uint64, error) {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()

	if dir := filepath.Dir(fs.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, 0, fmt.Errorf("failed to create snapshot directory %s: %w", dir, err)
		}
	}
	file, err := os.Create(fs.path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create snapshot file %s: %w", fs.path, err)
	}

	digest := xxhash.New()
	var sink io.Writer = io.MultiWriter(file, digest)
	var gz *gzip.Writer
	if fs.compress {
		gz = gzip.NewWriter(file)
		sink = io.MultiWriter(gz, digest)
	}

	records, dumpErr := ix.DumpTo(sink, fs.rec.Format)
	var closeErr error
	if gz != nil {
		closeErr = gz.Close()
	}
	closeErr = errors.Join(closeErr, file.Close())
	if err := errors.Join(dumpErr, closeErr); err != nil {
		return records, 0, fmt.Errorf("failed to save snapshot %s: %w", fs.path, err)
	}

	recordsMetric.WithLabelValues("saved").Add(float64(records))
	slog.Info("Saved snapshot.",
		"path", fs.path, "records", records, "digest", fmt.Sprintf("%016x", digest.Sum64()))
	return records, digest.Sum64(), nil
}

// Load reads the backing file and inserts every well-formed record into the
// index through the normal insert protocol. Malformed records and keys that
// are already present are skipped. A missing file is an error the caller may
// choose to tolerate.
func (fs *FileStore[K, V]) Load(ix *index.Index[K, V]) (inserted, skipped int, err error) {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()

	file, err := os.Open(fs.path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open snapshot file %s: %w", fs.path, err)
	}
	defer func() { _ = file.Close() }()

	var source io.Reader = file
	if fs.compress {
		gz, gzErr := gzip.NewReader(file)
		if gzErr != nil {
			return 0, 0, fmt.Errorf("failed to open compressed snapshot %s: %w", fs.path, gzErr)
		}
		defer func() { _ = gz.Close() }()
		source = gz
	}

	inserted, skipped, err = ix.LoadFrom(source, fs.rec.Parse)
	if err != nil {
		return inserted, skipped, fmt.Errorf("failed to load snapshot %s: %w", fs.path, err)
	}
	recordsMetric.WithLabelValues("loaded").Add(float64(inserted))
	recordsMetric.WithLabelValues("skipped").Add(float64(skipped))
	if skipped > 0 {
		slog.Warn("Skipped snapshot records.", "path", fs.path, "skipped", skipped)
	}
	return inserted, skipped, nil
}
