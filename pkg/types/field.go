package types

import "strings"

// FieldType is the semantic type of a field.
type FieldType string

// Field types.
const (
	TypeInt        FieldType = "int"
	TypeUint       FieldType = "uint"
	TypeDouble     FieldType = "double"
	TypeString     FieldType = "string"
	TypeDate       FieldType = "date"
	TypeTime       FieldType = "time"
	TypeTimestamp  FieldType = "timestamp"
	TypeBool       FieldType = "bool"
	TypeSerial     FieldType = "serial"
	TypePixmap     FieldType = "pixmap"
	TypeStringList FieldType = "stringlist"
	TypeCheck      FieldType = "check"
	TypeUnlock     FieldType = "unlock"
)

// validFieldTypes is the set of recognized field types.
var validFieldTypes = map[FieldType]bool{
	TypeInt:        true,
	TypeUint:       true,
	TypeDouble:     true,
	TypeString:     true,
	TypeDate:       true,
	TypeTime:       true,
	TypeTimestamp:  true,
	TypeBool:       true,
	TypeSerial:     true,
	TypePixmap:     true,
	TypeStringList: true,
	TypeCheck:      true,
	TypeUnlock:     true,
}

// Valid reports whether t is a recognized field type.
func (t FieldType) Valid() bool {
	return validFieldTypes[t]
}

// IsNumeric reports whether values of t are numbers.
func (t FieldType) IsNumeric() bool {
	switch t {
	case TypeInt, TypeUint, TypeDouble, TypeSerial:
		return true
	}
	return false
}

// IsBool reports whether values of t are booleans.
func (t FieldType) IsBool() bool {
	return t == TypeBool || t == TypeUnlock || t == TypeCheck
}

// IsTemporal reports whether values of t are dates or times.
func (t FieldType) IsTemporal() bool {
	return t == TypeDate || t == TypeTime || t == TypeTimestamp
}

// Cardinality is the direction of a relation seen from the owning field.
type Cardinality string

// Relation cardinalities.
const (
	CardManyToOne Cardinality = "M1"
	CardOneToMany Cardinality = "1M"
)

// Relation links a field to a field of another (or the same) table.
type Relation struct {
	Field         string      // Local field name.
	ForeignTable  string      // Related table.
	ForeignField  string      // Related field in ForeignTable.
	Card          Cardinality // M1 or 1M.
	DeleteCascade bool        // On an M1 relation: this row is deleted with its parent.
	CheckIn       bool        // Existence is enforced by the integrity checker.
}

// Association describes a denormalized field whose value must agree with a
// row reachable through the field's many-to-one relation.
type Association struct {
	Field    string // Driving field in the same table.
	FilterBy string // Column of the foreign table matched against Field.
}

// FieldMetadata holds the read-only facts about a single field.
type FieldMetadata struct {
	Name             string
	Alias            string
	Type             FieldType
	Length           int
	PartInteger      int
	PartDecimal      int
	AllowNull        bool
	Unique           bool
	PrimaryKey       bool
	Editable         bool
	Visible          bool
	Calculated       bool
	OutOfTransaction bool
	Default          any
	Table            string // Owning table in a query-backed cursor; empty means the primary table.
	CompoundKey      string // Compound key group; empty when the field is in none.
	Relations        []Relation
	Associated       *Association
}

// Label returns the alias, falling back to the name.
func (f *FieldMetadata) Label() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// HasDefault reports whether the field declares a default value.
func (f *FieldMetadata) HasDefault() bool {
	if f.Default == nil {
		return false
	}
	if s, ok := f.Default.(string); ok {
		return s != ""
	}
	return true
}

// RelationM1 returns the field's many-to-one relation, or nil.
func (f *FieldMetadata) RelationM1() *Relation {
	for i := range f.Relations {
		if f.Relations[i].Card == CardManyToOne {
			return &f.Relations[i]
		}
	}
	return nil
}

// RelationsOneToMany returns the field's one-to-many relations.
func (f *FieldMetadata) RelationsOneToMany() []Relation {
	var out []Relation
	for _, r := range f.Relations {
		if r.Card == CardOneToMany {
			out = append(out, r)
		}
	}
	return out
}

// RelationTo returns the relation of the field pointing at table.field, or nil.
func (f *FieldMetadata) RelationTo(table, field string) *Relation {
	for i := range f.Relations {
		r := &f.Relations[i]
		if strings.EqualFold(r.ForeignTable, table) && strings.EqualFold(r.ForeignField, field) {
			return r
		}
	}
	return nil
}

// CascadesFrom reports whether rows holding this field are deleted along
// with the row of table.field they reference. Only the field's many-to-one
// relation decides; a one-to-many flag on the parent side is ignored.
func (f *FieldMetadata) CascadesFrom(table, field string) bool {
	back := f.RelationTo(table, field)
	return back != nil && back.Card == CardManyToOne && back.DeleteCascade
}
