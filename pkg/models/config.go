package models

type Config struct {
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Zones     ZonesConfig     `yaml:"zones"`
	Tables    []TableDef      `yaml:"tables"`
	Schema    SchemaSource    `yaml:"schema_source"`
	Load      LoadConfig      `yaml:"load"`
}

type WarehouseConfig struct {
	Account    string `yaml:"account"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Role       string `yaml:"role"`
	Warehouse  string `yaml:"warehouse"`
	Database   string `yaml:"database"`
	Schema     string `yaml:"schema"`
	UseKeyring bool   `yaml:"use_keyring"`
	TimeoutSec int    `yaml:"timeout_seconds"`
}

type ZonesConfig struct {
	Bronze string `yaml:"bronze"`
	Silver string `yaml:"silver"`
	Gold   string `yaml:"gold"`
}

// SchemaSource selects where table definitions are loaded from. When GitURL
// is set definitions are read from the repository at the given ref,
// otherwise from the local Path directory; inline Tables win over both.
type SchemaSource struct {
	Path   string `yaml:"path"`
	GitURL string `yaml:"git_url"`
	GitRef string `yaml:"git_ref"`
}

type LoadConfig struct {
	Workers       int    `yaml:"workers"`
	WatermarkFile string `yaml:"watermark_file"`
}

// TableDef is the YAML shape of a registered table definition
type TableDef struct {
	Name         string         `yaml:"name"`
	Kind         string         `yaml:"kind"` // dimension | fact
	SourceSystem string         `yaml:"source_system"`
	Columns      []ColumnDef    `yaml:"columns"`
	KeyColumns   []string       `yaml:"key_columns"`
	Distribution string         `yaml:"distribution"` // replicate | hash:<column>
	Partition    *PartitionDef  `yaml:"partition,omitempty"`
	References   []ReferenceDef `yaml:"references,omitempty"`
	Critical     []string       `yaml:"critical_columns,omitempty"`
}

type ColumnDef struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // string | int | float | bool | date | timestamp
	Required bool   `yaml:"required"`
}

// PartitionDef describes a range-right partition scheme. Boundaries are
// ISO dates; a value equal to a boundary lands in the partition to the
// right of it.
type PartitionDef struct {
	Column     string   `yaml:"column"`
	Boundaries []string `yaml:"boundaries"`
}

// ReferenceDef declares a fact column that must resolve to a current
// dimension row's surrogate key
type ReferenceDef struct {
	Column string `yaml:"column"`
	Table  string `yaml:"table"`
}
