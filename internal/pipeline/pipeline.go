// Package pipeline orchestrates one load cycle: read landed bronze
// batches, conform them to the silver shape, merge dimension history,
// resolve fact references and swap gold partitions, then advance the
// per-table watermarks.
package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"lakeloader/internal/conform"
	"lakeloader/internal/dimension"
	"lakeloader/internal/facts"
	"lakeloader/internal/observability"
	"lakeloader/internal/rawzone"
	"lakeloader/internal/registry"
	"lakeloader/internal/watermark"
	"lakeloader/pkg/errors"
)

// QuarantinedRecord reports a record excluded from a cycle with its reason
type QuarantinedRecord struct {
	Line   int
	Key    string
	Reason error
}

// TableReport is the per-table outcome of one load cycle
type TableReport struct {
	Table       string
	Kind        registry.TableKind
	Skipped     bool // no batch landed for this table
	Read        int
	Quarantined []QuarantinedRecord

	// Dimension outcome
	Inserted          int
	Expired           int
	Unchanged         int
	DuplicatesDropped int
	FailedKeys        int

	// Fact outcome
	Accepted         int
	Rejected         []QuarantinedRecord
	FailedPartitions int

	Err error
}

// LoadReport is the outcome of one full load cycle
type LoadReport struct {
	CycleID      uuid.UUID
	SourceSystem string
	BatchID      string
	AsOf         time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
	Tables       []TableReport
}

// Pipeline wires the zones together for load cycles. It implements
// facts.DimensionResolver so fact reference checks read the same
// dimension stores the merge engine writes.
type Pipeline struct {
	reg     *registry.Registry
	raw     *rawzone.Reader
	stores  map[string]*dimension.Store
	swapper facts.Swapper
	marks   *watermark.Store
	logger  *observability.Logger
	workers int
}

// New creates a pipeline over the registered tables
func New(reg *registry.Registry, raw *rawzone.Reader, swapper facts.Swapper,
	marks *watermark.Store, logger *observability.Logger, workers int) *Pipeline {
	if logger == nil {
		logger = observability.Default()
	}
	if workers <= 0 {
		workers = 4
	}
	return &Pipeline{
		reg:     reg,
		raw:     raw,
		stores:  make(map[string]*dimension.Store),
		swapper: swapper,
		marks:   marks,
		logger:  logger,
		workers: workers,
	}
}

// DimensionStore returns the version store for a dimension table,
// creating it on first use
func (p *Pipeline) DimensionStore(table string) *dimension.Store {
	store, ok := p.stores[table]
	if !ok {
		store = dimension.NewStore()
		p.stores[table] = store
	}
	return store
}

// IsCurrentSurrogate implements facts.DimensionResolver
func (p *Pipeline) IsCurrentSurrogate(table string, key int64) bool {
	store, ok := p.stores[table]
	if !ok {
		return false
	}
	return store.IsCurrentSurrogate(key)
}

// Run executes one load cycle for a source system's landed batch.
// Dimensions merge before facts so reference checks see the post-merge
// current rows. A table without a landed batch is skipped; the cycle
// fails only when no registered table had data at all.
func (p *Pipeline) Run(ctx context.Context, sourceSystem, batchID string, asOf time.Time) (*LoadReport, error) {
	report := &LoadReport{
		CycleID:      uuid.New(),
		SourceSystem: sourceSystem,
		BatchID:      batchID,
		AsOf:         asOf,
		StartedAt:    time.Now(),
	}

	logger := p.logger.WithFields(map[string]interface{}{
		"cycle_id":      report.CycleID.String(),
		"source_system": sourceSystem,
		"batch_id":      batchID,
	})
	logger.Info("load cycle started")

	tables := p.reg.TablesForSource(sourceSystem)
	if len(tables) == 0 {
		return nil, errors.ConfigError("no tables registered for source system", "tables.source_system").
			WithContext("source_system", sourceSystem)
	}

	loaded := 0
	for _, desc := range tables {
		tr := p.runTable(ctx, desc, sourceSystem, batchID, asOf, logger)
		report.Tables = append(report.Tables, tr)
		if !tr.Skipped && tr.Err == nil {
			loaded++
		}
	}

	report.FinishedAt = time.Now()

	if loaded == 0 {
		return report, errors.BatchNotFoundError(sourceSystem, batchID)
	}

	logger.InfoWithFields("load cycle finished", map[string]interface{}{
		"tables_loaded": loaded,
		"elapsed":       report.FinishedAt.Sub(report.StartedAt).String(),
	})
	return report, nil
}

func (p *Pipeline) runTable(ctx context.Context, desc registry.TableDescriptor,
	sourceSystem, batchID string, asOf time.Time, logger *observability.Logger) TableReport {

	tr := TableReport{Table: desc.Name, Kind: desc.Kind}

	records, err := p.readAndConform(ctx, &tr, desc, sourceSystem, batchID, asOf)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeBatchNotFound) {
			tr.Skipped = true
			return tr
		}
		tr.Err = err
		return tr
	}

	switch desc.Kind {
	case registry.KindDimension:
		p.mergeDimension(ctx, &tr, desc, records, asOf)
	case registry.KindFact:
		p.loadFacts(ctx, &tr, desc, records, logger)
	}

	if tr.Err == nil {
		if err := p.marks.Set(desc.Name, asOf); err != nil {
			tr.Err = err
		}
	}
	return tr
}

// readAndConform drains the landed batch for one table. Malformed and
// unconformable records are quarantined with their line numbers; the
// healthy remainder continues through the cycle.
func (p *Pipeline) readAndConform(ctx context.Context, tr *TableReport, desc registry.TableDescriptor,
	sourceSystem, batchID string, asOf time.Time) ([]*conform.ConformedRecord, error) {

	// BatchNotFound is terminal and never retried; ReadFault is.
	var it *rawzone.BatchIterator
	err := errors.RetryWithBackoff(ctx, func(ctx context.Context) error {
		var openErr error
		it, openErr = p.raw.ReadBatch(sourceSystem, desc.Name, batchID)
		return openErr
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	lineage := conform.Lineage{
		SourceSystem: sourceSystem,
		BatchID:      batchID,
		IngestedAt:   asOf,
	}

	var records []*conform.ConformedRecord
	position := 0
	for {
		raw, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if raw == nil {
				// Storage fault or deadline, the table load fails
				return nil, err
			}
			tr.Read++
			tr.Quarantined = append(tr.Quarantined, QuarantinedRecord{Line: raw.Line, Reason: err})
			continue
		}

		tr.Read++
		rec, err := conform.Conform(raw, desc, lineage)
		if err != nil {
			tr.Quarantined = append(tr.Quarantined, QuarantinedRecord{Line: raw.Line, Reason: err})
			continue
		}
		rec.Position = position
		position++
		records = append(records, rec)
	}
	return records, nil
}

func (p *Pipeline) mergeDimension(ctx context.Context, tr *TableReport,
	desc registry.TableDescriptor, records []*conform.ConformedRecord, asOf time.Time) {

	engine := dimension.NewEngine(p.DimensionStore(desc.Name), desc, p.logger, p.workers)
	res := engine.MergeBatch(ctx, records, asOf)

	tr.Inserted = res.Inserted
	tr.Expired = res.Expired
	tr.Unchanged = res.Unchanged
	tr.DuplicatesDropped = res.DuplicatesDropped
	tr.FailedKeys = len(res.Failed)
	for _, q := range res.Quarantined {
		tr.Quarantined = append(tr.Quarantined, QuarantinedRecord{Key: q.NaturalKey, Reason: q.Reason})
	}
}

func (p *Pipeline) loadFacts(ctx context.Context, tr *TableReport,
	desc registry.TableDescriptor, records []*conform.ConformedRecord, logger *observability.Logger) {

	rows := make([]facts.Record, 0, len(records))
	for _, rec := range records {
		row, err := p.buildFactRow(desc, rec)
		if err != nil {
			tr.Quarantined = append(tr.Quarantined, QuarantinedRecord{Reason: err})
			continue
		}
		rows = append(rows, row)
	}

	loader := facts.NewLoader(desc, p.swapper, p, logger)
	res := loader.Load(ctx, rows)

	tr.Accepted = res.Accepted
	for _, rej := range res.Rejected {
		tr.Rejected = append(tr.Rejected, QuarantinedRecord{Reason: rej.Reason})
	}
	tr.FailedPartitions = len(res.Failed)
	if len(res.Failed) > 0 {
		tr.Err = res.Failed[0].Err
	}
}

// buildFactRow splits a conformed record into reference keys and measure
// values. A string-typed reference column carries the dimension's natural
// key and resolves to the current surrogate; an int column carries the
// surrogate key directly.
func (p *Pipeline) buildFactRow(desc registry.TableDescriptor, rec *conform.ConformedRecord) (facts.Record, error) {
	row := facts.Record{
		Table:        desc.Name,
		Values:       make(map[string]interface{}),
		Keys:         make(map[string]int64),
		SourceSystem: rec.Lineage.SourceSystem,
		BatchID:      rec.Lineage.BatchID,
		IngestedAt:   rec.Lineage.IngestedAt,
	}

	refs := make(map[string]registry.Reference, len(desc.References))
	for _, ref := range desc.References {
		refs[ref.Column] = ref
	}

	for name, value := range rec.Attributes {
		ref, isRef := refs[name]
		if !isRef {
			row.Values[name] = value
			continue
		}

		switch v := value.(type) {
		case int64:
			row.Keys[name] = v
		case string:
			store, ok := p.stores[ref.Table]
			if !ok {
				return facts.Record{}, errors.DanglingReferenceError(name, 0).
					WithContext("dimension", ref.Table)
			}
			key, ok := store.CurrentSurrogate(v)
			if !ok {
				return facts.Record{}, errors.DanglingReferenceError(name, 0).
					WithContext("dimension", ref.Table).
					WithContext("natural_key", v)
			}
			row.Keys[name] = key
		default:
			return facts.Record{}, errors.TypeMismatchError(name, value, "surrogate or natural key")
		}
	}

	if desc.Partition.Kind == registry.PartitionRangeRight {
		v, ok := row.Values[desc.Partition.Column]
		if !ok {
			return facts.Record{}, errors.RequiredFieldError(desc.Partition.Column)
		}
		ts, ok := v.(time.Time)
		if !ok {
			return facts.Record{}, errors.TypeMismatchError(desc.Partition.Column, v, "date")
		}
		row.PartitionKey = ts
	}

	return row, nil
}
