package sqlite

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/recnav/pkg/types"
)

// columnType maps a field type to its SQLite storage class.
func columnType(t types.FieldType) string {
	switch t {
	case types.TypeInt, types.TypeUint, types.TypeSerial,
		types.TypeBool, types.TypeCheck, types.TypeUnlock:
		return "INTEGER"
	case types.TypeDouble:
		return "REAL"
	default:
		return "TEXT"
	}
}

// CreateTableDDL returns the CREATE TABLE statement for a table. Query
// metadata has no table of its own and yields an empty string.
func CreateTableDDL(m *types.TableMetadata) string {
	if m.IsQuery() {
		return ""
	}
	cols := make([]string, 0, len(m.Fields))
	for _, f := range m.Fields {
		col := f.Name + " " + columnType(f.Type)
		switch {
		case f.PrimaryKey || strings.EqualFold(f.Name, m.PrimaryKey):
			col += " PRIMARY KEY"
		case !f.AllowNull:
			col += " NOT NULL"
		}
		if f.Unique && !f.PrimaryKey {
			col += " UNIQUE"
		}
		cols = append(cols, col)
	}
	for _, group := range m.CompoundKeys() {
		cols = append(cols, "UNIQUE ("+strings.Join(group, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n);", m.Name, strings.Join(cols, ",\n    "))
}

// CreateTable creates the table described by m if it does not exist.
func (b *Backend) CreateTable(m *types.TableMetadata) error {
	ddl := CreateTableDDL(m)
	if ddl == "" {
		return nil
	}
	if _, err := b.Exec(ddl); err != nil {
		return fmt.Errorf("creating table %s: %w", m.Name, err)
	}
	return nil
}
