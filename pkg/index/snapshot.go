// Snapshots walk the bottom level only: level 0 contains every pair in key
// order. The walk uses the same lock coupling as a search, so mutations
// outside the window currently being serialized proceed freely. The result is
// a consistent-prefix snapshot, not a linearizable one: each emitted pair
// reflects a legal state at some moment during the walk.

package index

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// DumpTo writes one formatted record per stored pair to w, in key order, and
// returns the number of records written. The format callback renders a single
// record without the trailing newline.
func (ix *Index[K, V]) DumpTo(w io.Writer, format func(key K, value V) string) (int, error) {
	records := 0
	ix.header.mtx.Lock()
	cur := ix.header
	for next := cur.forward[0]; next != nil; next = cur.forward[0] {
		next.mtx.Lock()
		cur.mtx.Unlock()
		cur = next
		if _, err := fmt.Fprintln(w, format(cur.key, cur.value)); err != nil {
			cur.mtx.Unlock()
			return records, fmt.Errorf("failed to write record %d: %w", records, err)
		}
		records++
	}
	cur.mtx.Unlock()
	return records, nil
}

// LoadFrom reads newline-delimited records from r and funnels each through
// the normal insert protocol, so loading tolerates live traffic. Lines that
// are empty or fail to parse are skipped; keys already present keep their
// stored value. Both cases count as skipped.
func (ix *Index[K, V]) LoadFrom(r io.Reader, parse func(line string) (K, V, error)) (inserted, skipped int, err error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			skipped++
			continue
		}
		key, value, parseErr := parse(line)
		if parseErr != nil {
			slog.Debug("Skipping malformed snapshot record.", "line", line, "error", parseErr)
			skipped++
			continue
		}
		if insertErr := ix.Insert(key, value); errors.Is(insertErr, ErrKeyExists) {
			skipped++
		} else {
			inserted++
		}
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return inserted, skipped, fmt.Errorf("failed to read records: %w", scanErr)
	}
	return inserted, skipped, nil
}
