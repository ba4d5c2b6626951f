package model

import "strings"

// TableMetadata contains the structure information for a warehouse table
type TableMetadata struct {
	Owner   string   // Owning schema
	Table   string   // Table name
	Columns []Column // Column definitions in ordinal order
}

// Column represents metadata about a warehouse column
type Column struct {
	Name     string // Column name
	DataType string // Catalog data type
	Nullable bool   // Whether column allows NULL values
}

// GetColumnByName returns a column by name (case-insensitive)
// Returns nil if column not found
func (tm *TableMetadata) GetColumnByName(name string) *Column {
	normalized := strings.ToLower(name)
	for i, col := range tm.Columns {
		if strings.ToLower(col.Name) == normalized {
			return &tm.Columns[i]
		}
	}
	return nil
}

// IsLOB reports whether the column holds large-object data. LOB columns
// are skipped by the column-count check: counting non-null CLOBs is both
// slow and meaningless for load auditing.
func (col *Column) IsLOB() bool {
	switch strings.ToUpper(col.DataType) {
	case "CLOB", "BLOB", "NCLOB", "BFILE", "LONG", "LONG RAW",
		"TEXT", "BYTEA", "BINARY", "VARBINARY", "VARIANT", "OBJECT", "ARRAY":
		return true
	}
	return false
}
