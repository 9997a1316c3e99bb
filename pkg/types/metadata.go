package types

import (
	"errors"
	"fmt"
	"strings"
)

// QuerySource makes a TableMetadata describe a query (view) instead of a
// plain table. Rows are read from From; writes target Table only.
type QuerySource struct {
	From  string // FROM clause, e.g. "orders JOIN customers ON ...".
	Table string // Primary table that receives INSERT/UPDATE/DELETE.
}

// TableMetadata holds the read-only facts about a table or query. It is
// shared by every cursor opened on the table and must not be mutated after
// it is handed to a MetadataProvider.
type TableMetadata struct {
	Name        string
	Alias       string
	PrimaryKey  string
	Fields      []*FieldMetadata
	Query       *QuerySource
	DetectLocks bool
}

// MetadataProvider serves table metadata by name.
type MetadataProvider interface {
	// Table returns the metadata of the named table.
	// Returns ErrTableNotFound if the table is unknown.
	Table(name string) (*TableMetadata, error)
}

// Metadata errors.
var (
	ErrTableNotFound      = errors.New("table not found")
	ErrFieldNotFound      = errors.New("field not found")
	ErrNoPrimaryKey       = errors.New("table has no primary key")
	ErrDuplicateField     = errors.New("duplicate field name")
	ErrUnknownFieldType   = errors.New("unknown field type")
	ErrInvalidRelation    = errors.New("invalid relation")
	ErrInvalidAssociation = errors.New("invalid associated field")
)

// IsQuery reports whether the metadata describes a query (view).
func (m *TableMetadata) IsQuery() bool {
	return m.Query != nil
}

// Label returns the alias, falling back to the name.
func (m *TableMetadata) Label() string {
	if m.Alias != "" {
		return m.Alias
	}
	return m.Name
}

// Source returns the FROM clause used when reading rows.
func (m *TableMetadata) Source() string {
	if m.Query != nil && m.Query.From != "" {
		return m.Query.From
	}
	return m.Name
}

// WriteTable returns the table that receives writes.
func (m *TableMetadata) WriteTable() string {
	if m.Query != nil && m.Query.Table != "" {
		return m.Query.Table
	}
	return m.Name
}

// Field returns the named field, or nil.
func (m *TableMetadata) Field(name string) *FieldMetadata {
	for _, f := range m.Fields {
		if strings.EqualFold(f.Name, name) {
			return f
		}
	}
	return nil
}

// PrimaryKeyField returns the primary key field, or nil.
func (m *TableMetadata) PrimaryKeyField() *FieldMetadata {
	return m.Field(m.PrimaryKey)
}

// FieldNames returns the field names in declaration order.
func (m *TableMetadata) FieldNames() []string {
	names := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		names[i] = f.Name
	}
	return names
}

// Generated reports whether f takes part in INSERT, UPDATE and DELETE
// statements. Fields owned by a joined table of a query are not generated.
func (m *TableMetadata) Generated(f *FieldMetadata) bool {
	if f.Table == "" {
		return true
	}
	return strings.EqualFold(f.Table, m.WriteTable())
}

// CompoundKeys returns the field names of each compound key group, in the
// order the groups first appear.
func (m *TableMetadata) CompoundKeys() [][]string {
	var order []string
	groups := make(map[string][]string)
	for _, f := range m.Fields {
		if f.CompoundKey == "" {
			continue
		}
		if _, ok := groups[f.CompoundKey]; !ok {
			order = append(order, f.CompoundKey)
		}
		groups[f.CompoundKey] = append(groups[f.CompoundKey], f.Name)
	}
	out := make([][]string, 0, len(order))
	for _, g := range order {
		out = append(out, groups[g])
	}
	return out
}

// UnlockFields returns the names of the fields of type unlock.
func (m *TableMetadata) UnlockFields() []string {
	var out []string
	for _, f := range m.Fields {
		if f.Type == TypeUnlock {
			out = append(out, f.Name)
		}
	}
	return out
}

// Validate checks the structural consistency of the metadata.
func (m *TableMetadata) Validate() error {
	if m.PrimaryKeyField() == nil {
		return fmt.Errorf("%s: %w", m.Name, ErrNoPrimaryKey)
	}
	seen := make(map[string]bool, len(m.Fields))
	for _, f := range m.Fields {
		key := strings.ToLower(f.Name)
		if seen[key] {
			return fmt.Errorf("%s.%s: %w", m.Name, f.Name, ErrDuplicateField)
		}
		seen[key] = true
		if !f.Type.Valid() {
			return fmt.Errorf("%s.%s (%q): %w", m.Name, f.Name, f.Type, ErrUnknownFieldType)
		}
		for _, r := range f.Relations {
			if r.ForeignTable == "" || r.ForeignField == "" {
				return fmt.Errorf("%s.%s: %w", m.Name, f.Name, ErrInvalidRelation)
			}
			if r.Card != CardManyToOne && r.Card != CardOneToMany {
				return fmt.Errorf("%s.%s (card %q): %w", m.Name, f.Name, r.Card, ErrInvalidRelation)
			}
		}
		if f.Associated != nil {
			if f.RelationM1() == nil || m.Field(f.Associated.Field) == nil || f.Associated.FilterBy == "" {
				return fmt.Errorf("%s.%s: %w", m.Name, f.Name, ErrInvalidAssociation)
			}
		}
	}
	return nil
}
