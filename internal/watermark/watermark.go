// Package watermark persists the high-water timestamp per table so a
// loader cycle can resume incrementally after restarts.
package watermark

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"lakeloader/internal/common"
	"lakeloader/pkg/errors"
)

// InitialWatermark is returned for tables never loaded before
var InitialWatermark = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// Store is a file-backed watermark store. The file holds one
// "table=RFC3339" line per table; the last line for a table wins so a
// crash mid-append never loses earlier state.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a watermark store backed by the given file path
func NewStore(path string) (*Store, error) {
	cleaned, err := common.CleanPath(path)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid watermark file: %v", err), "load.watermark_file")
	}
	return &Store{path: cleaned}, nil
}

// Get returns the stored watermark for a table, or InitialWatermark when
// the table has never been loaded
func (s *Store) Get(table string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	marks, err := s.read()
	if err != nil {
		return time.Time{}, err
	}
	if wm, ok := marks[table]; ok {
		return wm, nil
	}
	return InitialWatermark, nil
}

// Set records a new watermark for a table. The whole file is rewritten
// through a temp file and rename so readers never see a torn write.
func (s *Store) Set(table string, wm time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	marks, err := s.read()
	if err != nil {
		return err
	}
	marks[table] = wm.UTC()

	tables := make([]string, 0, len(marks))
	for t := range marks {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	var b strings.Builder
	for _, t := range tables {
		fmt.Fprintf(&b, "%s=%s\n", t, marks[t].Format(time.RFC3339))
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrap(err, errors.ErrCodeWriteFault, "Failed to create watermark directory").
			WithContext("path", dir)
	}

	tmp, err := os.CreateTemp(dir, ".watermarks-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeWriteFault, "Failed to create watermark temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrCodeWriteFault, "Failed to write watermarks")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrCodeWriteFault, "Failed to flush watermarks")
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrCodeWriteFault, "Failed to replace watermark file").
			WithContext("path", s.path)
	}
	return nil
}

// read parses the watermark file, last line per table winning. Malformed
// lines are skipped rather than failing the whole store.
func (s *Store) read() (map[string]time.Time, error) {
	marks := make(map[string]time.Time)

	data, err := os.ReadFile(s.path) // #nosec G304 - path is validated
	if err != nil {
		if os.IsNotExist(err) {
			return marks, nil
		}
		return nil, errors.ReadFaultError("Failed to read watermark file", err).
			WithContext("path", s.path)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		table, raw, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		wm, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			continue
		}
		marks[table] = wm
	}
	return marks, nil
}
