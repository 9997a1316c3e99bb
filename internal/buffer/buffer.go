// Package buffer implements the staging area of a cursor: a backing record
// loaded from the database (or freshly defaulted for an insert) plus the
// field edits staged on top of it.
//
// Values pass through two stages. SetValue stores the raw value, converting
// only booleans; Apply coerces every staged value to its canonical type and
// writes it onto the backing record.
package buffer

import (
	"github.com/pkg/errors"

	"github.com/mesh-intelligence/recnav/pkg/types"
)

// FetchFunc loads the row with the given primary key. Values are returned in
// the field order of the table metadata. A nil row means the record no
// longer exists.
type FetchFunc func(key any) (types.Row, error)

// Buffer holds the backing record and the staged edits of one cursor.
type Buffer struct {
	meta      *types.TableMetadata
	fetch     FetchFunc
	record    map[string]any
	staged    map[string]any
	generated map[string]bool
	key       any
	isNew     bool
}

// New returns an empty buffer for the table described by meta.
func New(meta *types.TableMetadata, fetch FetchFunc) *Buffer {
	b := &Buffer{meta: meta, fetch: fetch}
	b.Clear()
	return b
}

// Metadata returns the table metadata of the buffer.
func (b *Buffer) Metadata() *types.TableMetadata {
	return b.meta
}

// Clear drops the backing record and every staged value.
func (b *Buffer) Clear() {
	b.record = nil
	b.staged = make(map[string]any)
	b.key = nil
	b.isNew = false
	b.generated = make(map[string]bool, len(b.meta.Fields))
	for _, f := range b.meta.Fields {
		b.generated[f.Name] = b.meta.Generated(f)
	}
}

// IsEmpty reports whether the buffer has no backing record.
func (b *Buffer) IsEmpty() bool {
	return b.record == nil
}

// IsNew reports whether the buffer was primed for an insert.
func (b *Buffer) IsNew() bool {
	return b.isNew
}

// PrimeInsert clears the buffer and creates a fresh backing record with the
// declared default of every field, coerced to the field type.
func (b *Buffer) PrimeInsert() error {
	b.Clear()
	rec := make(map[string]any, len(b.meta.Fields))
	for _, f := range b.meta.Fields {
		rec[f.Name] = nil
		if !f.HasDefault() {
			continue
		}
		v, err := types.Coerce(f, f.Default)
		if err != nil {
			return errors.Wrapf(err, "default of %s.%s", b.meta.Name, f.Name)
		}
		rec[f.Name] = v
	}
	b.record = rec
	b.isNew = true
	return nil
}

// PrimeUpdate clears the buffer and loads the backing record with the given
// primary key. Returns ErrConcurrentDelete when the record no longer exists;
// the buffer is then left empty.
func (b *Buffer) PrimeUpdate(key any) error {
	b.Clear()
	if b.fetch == nil {
		return errors.Wrap(types.ErrNoBuffer, "buffer has no fetch function")
	}
	row, err := b.fetch(key)
	if err != nil {
		return errors.Wrapf(err, "loading %s %v", b.meta.Name, key)
	}
	if row == nil {
		return errors.Wrapf(types.ErrConcurrentDelete, "%s %v", b.meta.Name, key)
	}
	rec := make(map[string]any, len(b.meta.Fields))
	for i, f := range b.meta.Fields {
		if i >= len(row) {
			rec[f.Name] = nil
			continue
		}
		v, err := types.Coerce(f, row[i])
		if err != nil {
			return errors.Wrapf(err, "decoding %s.%s", b.meta.Name, f.Name)
		}
		rec[f.Name] = v
	}
	b.record = rec
	b.key = rec[b.meta.PrimaryKeyField().Name]
	return nil
}

// Key returns the primary key the backing record was loaded with. For an
// insert buffer it is the current primary key value.
func (b *Buffer) Key() any {
	if b.isNew {
		return b.Value(b.meta.PrimaryKey)
	}
	return b.key
}

// IsValid reports whether the backing record exists and its primary key can
// be read.
func (b *Buffer) IsValid() bool {
	if b.record == nil {
		return false
	}
	if b.isNew {
		return true
	}
	return b.key != nil
}

// Invalidate marks the backing record as gone, e.g. after it was found to
// be deleted concurrently.
func (b *Buffer) Invalidate() {
	b.key = nil
}

// Value returns the staged value of the field, falling back to the backing
// record.
func (b *Buffer) Value(name string) any {
	f := b.meta.Field(name)
	if f == nil {
		return nil
	}
	if v, ok := b.staged[f.Name]; ok {
		return v
	}
	if b.record == nil {
		return nil
	}
	return b.record[f.Name]
}

// IsNull reports whether the field's current value counts as NULL.
func (b *Buffer) IsNull(name string) bool {
	f := b.meta.Field(name)
	if f == nil {
		return true
	}
	return types.IsNullValue(f.Type, b.Value(name), false)
}

// SetValue stages a value for the field. Only boolean types are converted
// now; other values are kept as given until Apply.
func (b *Buffer) SetValue(name string, v any) error {
	f := b.meta.Field(name)
	if f == nil {
		return errors.Wrapf(types.ErrFieldNotFound, "%s.%s", b.meta.Name, name)
	}
	if b.record == nil {
		return errors.Wrapf(types.ErrNoBuffer, "set %s.%s", b.meta.Name, name)
	}
	staged, err := types.Stage(f.Type, v)
	if err != nil {
		return errors.Wrapf(err, "%s.%s", b.meta.Name, name)
	}
	b.staged[f.Name] = staged
	return nil
}

// IsStaged reports whether the field has a staged value.
func (b *Buffer) IsStaged(name string) bool {
	f := b.meta.Field(name)
	if f == nil {
		return false
	}
	_, ok := b.staged[f.Name]
	return ok
}

// Staged returns the names of the staged fields in declaration order.
func (b *Buffer) Staged() []string {
	var out []string
	for _, f := range b.meta.Fields {
		if _, ok := b.staged[f.Name]; ok {
			out = append(out, f.Name)
		}
	}
	return out
}

// Apply coerces every staged value to its canonical type and writes it onto
// the backing record. It fails on the first field that cannot be converted,
// leaving both the record and the staged values untouched.
func (b *Buffer) Apply() error {
	if b.record == nil {
		return errors.Wrapf(types.ErrNoBuffer, "apply %s", b.meta.Name)
	}
	converted := make(map[string]any, len(b.staged))
	for _, name := range b.Staged() {
		v, err := types.Coerce(b.meta.Field(name), b.staged[name])
		if err != nil {
			return errors.Wrapf(err, "applying %s", b.meta.Name)
		}
		converted[name] = v
	}
	for name, v := range converted {
		b.record[name] = v
	}
	b.staged = make(map[string]any)
	return nil
}

// SetGenerated marks whether the field takes part in INSERT, UPDATE and
// DELETE statements.
func (b *Buffer) SetGenerated(name string, on bool) {
	if f := b.meta.Field(name); f != nil {
		b.generated[f.Name] = on
	}
}

// IsGenerated reports whether the field takes part in writes.
func (b *Buffer) IsGenerated(name string) bool {
	f := b.meta.Field(name)
	return f != nil && b.generated[f.Name]
}

// GeneratedFields returns the generated fields in declaration order.
func (b *Buffer) GeneratedFields() []*types.FieldMetadata {
	var out []*types.FieldMetadata
	for _, f := range b.meta.Fields {
		if b.generated[f.Name] {
			out = append(out, f)
		}
	}
	return out
}

// Values returns every field's current value.
func (b *Buffer) Values() map[string]any {
	out := make(map[string]any, len(b.meta.Fields))
	for _, f := range b.meta.Fields {
		out[f.Name] = b.Value(f.Name)
	}
	return out
}

// Snapshot returns an independent buffer whose backing record holds this
// buffer's current values and which has nothing staged.
func (b *Buffer) Snapshot() *Buffer {
	s := &Buffer{
		meta:      b.meta,
		fetch:     b.fetch,
		staged:    make(map[string]any),
		generated: make(map[string]bool, len(b.generated)),
		key:       b.key,
		isNew:     b.isNew,
	}
	for k, v := range b.generated {
		s.generated[k] = v
	}
	if b.record != nil {
		s.record = b.Values()
	}
	return s
}

// ModifiedFields returns the fields whose value differs from other's.
func (b *Buffer) ModifiedFields(other *Buffer) []string {
	var out []string
	for _, f := range b.meta.Fields {
		var ov any
		if other != nil {
			ov = other.Value(f.Name)
		}
		if !types.Equal(f.Type, b.Value(f.Name), ov) {
			out = append(out, f.Name)
		}
	}
	return out
}

// IsModified reports whether any field differs from other's.
func (b *Buffer) IsModified(other *Buffer) bool {
	return len(b.ModifiedFields(other)) > 0
}
