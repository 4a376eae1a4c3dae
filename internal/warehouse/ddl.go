package warehouse

import (
	"fmt"
	"strings"

	"lakeloader/internal/registry"
)

// sqlType maps a declared column type to its warehouse type
func sqlType(t registry.ColumnType) string {
	switch t {
	case registry.TypeString:
		return "STRING"
	case registry.TypeInt:
		return "BIGINT"
	case registry.TypeFloat:
		return "DOUBLE"
	case registry.TypeBool:
		return "BOOLEAN"
	case registry.TypeDate:
		return "DATE"
	case registry.TypeTimestamp:
		return "TIMESTAMP_NTZ"
	default:
		return "STRING"
	}
}

// CreateTableSQL renders the DDL for a registered table, including its
// distribution strategy and range-right partition layout
func CreateTableSQL(desc registry.TableDescriptor) string {
	var b strings.Builder

	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", desc.Name)

	cols := make([]string, 0, len(desc.Columns)+1)
	if desc.Kind == registry.KindDimension {
		cols = append(cols,
			"    surrogate_key BIGINT NOT NULL",
			"    natural_key STRING NOT NULL",
		)
	}
	for _, c := range desc.Columns {
		line := fmt.Sprintf("    %s %s", c.Name, sqlType(c.Type))
		if c.Required {
			line += " NOT NULL"
		}
		cols = append(cols, line)
	}
	if desc.Kind == registry.KindDimension {
		cols = append(cols,
			"    effective_date DATE NOT NULL",
			"    expiration_date DATE",
			"    is_current BOOLEAN NOT NULL",
		)
	}
	b.WriteString(strings.Join(cols, ",\n"))
	b.WriteString("\n)")

	switch desc.Distribution.Kind {
	case registry.DistHash:
		fmt.Fprintf(&b, "\nDISTRIBUTION = HASH(%s)", desc.Distribution.Column)
	default:
		b.WriteString("\nDISTRIBUTION = REPLICATE")
	}

	if desc.Partition.Kind == registry.PartitionRangeRight {
		bounds := make([]string, 0, len(desc.Partition.Boundaries))
		for _, bd := range desc.Partition.Boundaries {
			bounds = append(bounds, fmt.Sprintf("'%s'", bd.Format("2006-01-02")))
		}
		fmt.Fprintf(&b, "\nPARTITION (%s RANGE RIGHT FOR VALUES (%s))",
			desc.Partition.Column, strings.Join(bounds, ", "))
	}

	return b.String()
}

// stageTableName returns the staging table name for one partition swap
func stageTableName(table string, partition int) string {
	return fmt.Sprintf("%s__stage_p%d", table, partition)
}

// createStageSQL renders the DDL cloning the target's structure for staging
func createStageSQL(table string, partition int) string {
	return fmt.Sprintf("CREATE OR REPLACE TABLE %s LIKE %s", stageTableName(table, partition), table)
}

// insertStageSQL renders a multi-row parameterized insert into the stage
func insertStageSQL(table string, partition int, columns []string, rowCount int) string {
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	rows := make([]string, rowCount)
	for i := range rows {
		rows[i] = placeholders
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		stageTableName(table, partition), strings.Join(columns, ", "), strings.Join(rows, ", "))
}

// switchPartitionSQL renders the atomic swap of the staged partition into
// the target, discarding the target's prior partition contents
func switchPartitionSQL(table string, partition int) string {
	return fmt.Sprintf("ALTER TABLE %s SWITCH PARTITION %d TO %s PARTITION %d WITH (TRUNCATE_TARGET = ON)",
		stageTableName(table, partition), partition, table, partition)
}

// dropStageSQL renders the stage cleanup statement
func dropStageSQL(table string, partition int) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", stageTableName(table, partition))
}
