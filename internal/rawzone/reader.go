// Package rawzone reads newly landed records from the bronze ingestion
// zone. Batches are newline-delimited JSON files laid out as
// <bronze>/<source_system>/<table>/<batch_id>.ndjson; re-reading the same
// batch id always yields the same records, so a failed cycle can be
// retried safely.
package rawzone

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"lakeloader/internal/common"
	"lakeloader/internal/observability"
	"lakeloader/pkg/errors"
)

// RawRecord is one landed record as read from the bronze zone
type RawRecord struct {
	Fields       map[string]interface{}
	Line         int
	SourceSystem string
	Table        string
	BatchID      string
}

// Reader reads landed batches from the bronze zone root
type Reader struct {
	root    string
	timeout time.Duration
	logger  *observability.Logger
}

// NewReader creates a bronze zone reader. timeout bounds how long a full
// batch read may take before it surfaces a retryable fault.
func NewReader(root string, timeout time.Duration, logger *observability.Logger) *Reader {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = observability.Default()
	}
	return &Reader{root: root, timeout: timeout, logger: logger}
}

// BatchPath returns the zone path a batch lands at
func (r *Reader) BatchPath(sourceSystem, table, batchID string) (string, error) {
	return common.JoinPath(r.root, sourceSystem, table, batchID+".ndjson")
}

// ReadBatch opens the landed batch for lazy iteration. It fails with
// BatchNotFound when no file landed for the batch and with ReadFault on
// storage errors. Calling ReadBatch again restarts the sequence from the
// beginning.
func (r *Reader) ReadBatch(sourceSystem, table, batchID string) (*BatchIterator, error) {
	path, err := r.BatchPath(sourceSystem, table, batchID)
	if err != nil {
		return nil, errors.ReadFaultError("invalid batch path", err)
	}

	f, err := os.Open(path) // #nosec G304 - path is validated
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.BatchNotFoundError(sourceSystem, batchID).
				WithContext("table", table)
		}
		return nil, errors.ReadFaultError(fmt.Sprintf("failed to open batch %s/%s", sourceSystem, batchID), err)
	}

	r.logger.DebugWithFields("opened batch", map[string]interface{}{
		"source_system": sourceSystem,
		"table":         table,
		"batch_id":      batchID,
	})

	return &BatchIterator{
		file:         f,
		scanner:      bufio.NewScanner(f),
		deadline:     time.Now().Add(r.timeout),
		sourceSystem: sourceSystem,
		table:        table,
		batchID:      batchID,
	}, nil
}

// BatchIterator iterates the records of one landed batch lazily
type BatchIterator struct {
	file         *os.File
	scanner      *bufio.Scanner
	deadline     time.Time
	line         int
	sourceSystem string
	table        string
	batchID      string
}

// Next returns the next record in the batch. It returns io.EOF when the
// batch is exhausted. A malformed line yields a record with nil Fields
// and a validation error so the caller can quarantine it and keep
// iterating; storage faults end the iteration with a retryable ReadFault.
func (it *BatchIterator) Next() (*RawRecord, error) {
	if time.Now().After(it.deadline) {
		return nil, errors.New(errors.ErrCodeTimeout,
			fmt.Sprintf("batch read exceeded deadline at line %d", it.line)).
			AsRecoverable()
	}

	if !it.scanner.Scan() {
		if err := it.scanner.Err(); err != nil {
			return nil, errors.ReadFaultError(
				fmt.Sprintf("storage error reading batch %s/%s", it.sourceSystem, it.batchID), err)
		}
		return nil, io.EOF
	}
	it.line++

	rec := &RawRecord{
		Line:         it.line,
		SourceSystem: it.sourceSystem,
		Table:        it.table,
		BatchID:      it.batchID,
	}

	line := it.scanner.Bytes()
	if len(line) == 0 {
		return it.Next()
	}

	if err := json.Unmarshal(line, &rec.Fields); err != nil {
		rec.Fields = nil
		return rec, errors.New(errors.ErrCodeValidationFailed,
			fmt.Sprintf("malformed record at line %d", it.line)).
			WithContext("line", it.line).
			WithContext("batch_id", it.batchID).
			WithSeverity(errors.SeverityWarning)
	}

	return rec, nil
}

// Close releases the underlying file handle
func (it *BatchIterator) Close() error {
	return it.file.Close()
}
