// Package registry holds the dimension and fact table definitions used by
// every other stage of the loader. Definitions are loaded once at process
// start and are immutable for the process lifetime.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lakeloader/internal/common"
	"lakeloader/pkg/errors"
	"lakeloader/pkg/models"
)

// ColumnType is the canonical type a conformed column is coerced to
type ColumnType string

const (
	TypeString    ColumnType = "string"
	TypeInt       ColumnType = "int"
	TypeFloat     ColumnType = "float"
	TypeBool      ColumnType = "bool"
	TypeDate      ColumnType = "date"
	TypeTimestamp ColumnType = "timestamp"
)

// Column describes a single declared column
type Column struct {
	Name     string
	Type     ColumnType
	Required bool
}

// TableKind distinguishes dimension tables from fact tables
type TableKind string

const (
	KindDimension TableKind = "dimension"
	KindFact      TableKind = "fact"
)

// DistributionKind selects how the warehouse distributes table rows
type DistributionKind string

const (
	DistReplicate DistributionKind = "REPLICATE"
	DistHash      DistributionKind = "HASH"
)

// Distribution is the distribution strategy for a table. Column is set
// only for hash distribution.
type Distribution struct {
	Kind   DistributionKind
	Column string
}

// PartitionKind selects the partition strategy for a table
type PartitionKind string

const (
	PartitionNone       PartitionKind = "NONE"
	PartitionRangeRight PartitionKind = "RANGE_RIGHT"
)

// PartitionScheme describes a range-right partition layout over a date
// column. A value equal to a boundary belongs to the partition on the
// boundary's right.
type PartitionScheme struct {
	Kind       PartitionKind
	Column     string
	Boundaries []time.Time
}

// Count returns the number of partitions the scheme produces
func (p PartitionScheme) Count() int {
	if p.Kind == PartitionNone {
		return 1
	}
	return len(p.Boundaries) + 1
}

// PartitionFor returns the partition ordinal for a partition key value
func (p PartitionScheme) PartitionFor(v time.Time) int {
	if p.Kind == PartitionNone {
		return 0
	}
	idx := 0
	for _, b := range p.Boundaries {
		if v.Before(b) {
			break
		}
		idx++
	}
	return idx
}

// Reference declares a fact column that must carry the surrogate key of a
// current row in the named dimension table
type Reference struct {
	Column string
	Table  string
}

// TableDescriptor is the full registered definition of one table
type TableDescriptor struct {
	Name            string
	Kind            TableKind
	SourceSystem    string
	Columns         []Column
	KeyColumns      []string
	Distribution    Distribution
	Partition       PartitionScheme
	References      []Reference
	CriticalColumns []string
}

// Column returns the declared column with the given name
func (d TableDescriptor) Column(name string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// IsKeyColumn reports whether name is one of the natural key columns
func (d TableDescriptor) IsKeyColumn(name string) bool {
	for _, k := range d.KeyColumns {
		if k == name {
			return true
		}
	}
	return false
}

// TrackedColumns returns the columns whose changes produce new dimension
// versions: every declared column that is not part of the natural key.
func (d TableDescriptor) TrackedColumns() []string {
	tracked := make([]string, 0, len(d.Columns))
	for _, c := range d.Columns {
		if !d.IsKeyColumn(c.Name) {
			tracked = append(tracked, c.Name)
		}
	}
	return tracked
}

// Registry is the immutable set of table descriptors
type Registry struct {
	tables map[string]TableDescriptor
}

// New builds a registry from table definitions, validating each one
func New(defs []models.TableDef) (*Registry, error) {
	tables := make(map[string]TableDescriptor, len(defs))
	for _, def := range defs {
		desc, err := parseTableDef(def)
		if err != nil {
			return nil, err
		}
		if _, exists := tables[desc.Name]; exists {
			return nil, errors.ConfigError(fmt.Sprintf("table %q defined twice", desc.Name), "tables")
		}
		tables[desc.Name] = desc
	}
	return &Registry{tables: tables}, nil
}

// Describe returns the descriptor for a registered table name
func (r *Registry) Describe(name string) (TableDescriptor, error) {
	desc, ok := r.tables[name]
	if !ok {
		return TableDescriptor{}, errors.UnknownTableError(name)
	}
	return desc, nil
}

// Tables returns all descriptors in name order
func (r *Registry) Tables() []TableDescriptor {
	out := make([]TableDescriptor, 0, len(r.tables))
	for _, d := range r.tables {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TablesForSource returns the descriptors registered for a source system,
// dimensions before facts so a cycle merges dimension history before fact
// references are validated.
func (r *Registry) TablesForSource(sourceSystem string) []TableDescriptor {
	out := make([]TableDescriptor, 0, len(r.tables))
	for _, d := range r.tables {
		if d.SourceSystem == sourceSystem {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == KindDimension
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func parseTableDef(def models.TableDef) (TableDescriptor, error) {
	if def.Name == "" {
		return TableDescriptor{}, errors.ConfigError("table definition missing name", "tables.name")
	}

	kind := TableKind(strings.ToLower(def.Kind))
	if kind != KindDimension && kind != KindFact {
		return TableDescriptor{}, errors.ConfigError(
			fmt.Sprintf("table %q has invalid kind %q", def.Name, def.Kind), "tables.kind")
	}

	if len(def.Columns) == 0 {
		return TableDescriptor{}, errors.ConfigError(
			fmt.Sprintf("table %q declares no columns", def.Name), "tables.columns")
	}

	desc := TableDescriptor{
		Name:            def.Name,
		Kind:            kind,
		SourceSystem:    def.SourceSystem,
		KeyColumns:      def.KeyColumns,
		CriticalColumns: def.Critical,
	}

	for _, c := range def.Columns {
		ct := ColumnType(strings.ToLower(c.Type))
		switch ct {
		case TypeString, TypeInt, TypeFloat, TypeBool, TypeDate, TypeTimestamp:
		default:
			return TableDescriptor{}, errors.ConfigError(
				fmt.Sprintf("column %s.%s has unknown type %q", def.Name, c.Name, c.Type), "tables.columns.type")
		}
		desc.Columns = append(desc.Columns, Column{Name: c.Name, Type: ct, Required: c.Required})
	}

	if kind == KindDimension && len(def.KeyColumns) == 0 {
		return TableDescriptor{}, errors.ConfigError(
			fmt.Sprintf("dimension %q declares no key columns", def.Name), "tables.key_columns")
	}
	for _, k := range def.KeyColumns {
		if _, ok := desc.Column(k); !ok {
			return TableDescriptor{}, errors.ConfigError(
				fmt.Sprintf("key column %q of table %q is not declared", k, def.Name), "tables.key_columns")
		}
	}

	dist, err := parseDistribution(def.Name, def.Distribution, desc)
	if err != nil {
		return TableDescriptor{}, err
	}
	desc.Distribution = dist

	part, err := parsePartition(def.Name, def.Partition, desc)
	if err != nil {
		return TableDescriptor{}, err
	}
	desc.Partition = part

	for _, ref := range def.References {
		if _, ok := desc.Column(ref.Column); !ok {
			return TableDescriptor{}, errors.ConfigError(
				fmt.Sprintf("reference column %q of table %q is not declared", ref.Column, def.Name), "tables.references")
		}
		desc.References = append(desc.References, Reference{Column: ref.Column, Table: ref.Table})
	}

	return desc, nil
}

func parseDistribution(table, raw string, desc TableDescriptor) (Distribution, error) {
	switch {
	case raw == "" || strings.EqualFold(raw, "replicate"):
		return Distribution{Kind: DistReplicate}, nil
	case strings.HasPrefix(strings.ToLower(raw), "hash:"):
		col := raw[len("hash:"):]
		if _, ok := desc.Column(col); !ok {
			return Distribution{}, errors.ConfigError(
				fmt.Sprintf("hash distribution column %q of table %q is not declared", col, table), "tables.distribution")
		}
		return Distribution{Kind: DistHash, Column: col}, nil
	default:
		return Distribution{}, errors.ConfigError(
			fmt.Sprintf("table %q has invalid distribution %q", table, raw), "tables.distribution")
	}
}

func parsePartition(table string, def *models.PartitionDef, desc TableDescriptor) (PartitionScheme, error) {
	if def == nil {
		return PartitionScheme{Kind: PartitionNone}, nil
	}

	col, ok := desc.Column(def.Column)
	if !ok {
		return PartitionScheme{}, errors.ConfigError(
			fmt.Sprintf("partition column %q of table %q is not declared", def.Column, table), "tables.partition.column")
	}
	if col.Type != TypeDate && col.Type != TypeTimestamp {
		return PartitionScheme{}, errors.ConfigError(
			fmt.Sprintf("partition column %q of table %q must be date or timestamp", def.Column, table), "tables.partition.column")
	}

	scheme := PartitionScheme{Kind: PartitionRangeRight, Column: def.Column}
	var prev time.Time
	for i, raw := range def.Boundaries {
		b, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return PartitionScheme{}, errors.ConfigError(
				fmt.Sprintf("partition boundary %q of table %q is not an ISO date", raw, table), "tables.partition.boundaries")
		}
		if i > 0 && !b.After(prev) {
			return PartitionScheme{}, errors.ConfigError(
				fmt.Sprintf("partition boundaries of table %q must be strictly increasing", table), "tables.partition.boundaries")
		}
		scheme.Boundaries = append(scheme.Boundaries, b)
		prev = b
	}
	if len(scheme.Boundaries) == 0 {
		return PartitionScheme{}, errors.ConfigError(
			fmt.Sprintf("partition of table %q declares no boundaries", table), "tables.partition.boundaries")
	}
	return scheme, nil
}

// defFile is the YAML shape of a table definition file
type defFile struct {
	Tables []models.TableDef `yaml:"tables"`
}

// LoadDefsDir reads table definitions from every .yaml file in a directory
func LoadDefsDir(dir string) ([]models.TableDef, error) {
	cleaned, err := common.CleanPath(dir)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid schema directory: %v", err), "schema_source.path")
	}

	matches, err := filepath.Glob(filepath.Join(cleaned, "*.yaml"))
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("failed to list schema files: %v", err), "schema_source.path")
	}
	more, err := filepath.Glob(filepath.Join(cleaned, "*.yml"))
	if err == nil {
		matches = append(matches, more...)
	}
	sort.Strings(matches)

	var defs []models.TableDef
	for _, file := range matches {
		data, err := os.ReadFile(file) // #nosec G304 - path is validated
		if err != nil {
			return nil, errors.ReadFaultError(fmt.Sprintf("failed to read schema file %s", file), err)
		}
		var f defFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, errors.ConfigError(fmt.Sprintf("failed to parse schema file %s: %v", file, err), "schema_source.path")
		}
		defs = append(defs, f.Tables...)
	}
	return defs, nil
}
