// Package integrity validates a staged record against the structural and
// referential rules of its table before it is written. Every violation is
// collected into one message, one line per violation, so that a user can
// correct them all at once.
package integrity

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/recnav/internal/logging"
	"github.com/mesh-intelligence/recnav/pkg/types"
)

// Record is the view of a buffer the checker reads and, for associated
// fields, corrects.
type Record interface {
	Value(name string) any
	IsNull(name string) bool
	SetValue(name string, v any) error
}

// Querier runs the lookups the checks need.
type Querier interface {
	Query(query string, args ...any) ([]types.Row, error)
	Count(query string, args ...any) (int, error)
	FormatValue(t types.FieldType, v any, upper bool) string
	FormatAssign(f *types.FieldMetadata, v any, upper bool) string
}

// Checker validates records of one table.
type Checker struct {
	meta     *types.TableMetadata
	provider types.MetadataProvider
	q        Querier
	log      *slog.Logger
}

// New returns a checker for the table described by meta. provider resolves
// the metadata of related tables.
func New(meta *types.TableMetadata, provider types.MetadataProvider, q Querier, log *slog.Logger) *Checker {
	if log == nil {
		log = logging.Discard()
	}
	return &Checker{meta: meta, provider: provider, q: q, log: log}
}

// Check validates rec for a commit in the given mode and returns the
// aggregated message; an empty message means the record passes. The error
// is reserved for failed lookups.
func (c *Checker) Check(mode types.AccessMode, rec Record) (string, error) {
	var (
		msg strings.Builder
		err error
	)
	switch mode {
	case types.ModeInsert, types.ModeEdit:
		err = c.checkWrite(mode, rec, &msg)
	case types.ModeDel:
		err = c.checkDelete(rec, &msg)
	default:
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if msg.Len() > 0 {
		c.log.Warn("integrity check failed", "table", c.meta.Name, "mode", mode.String(), "violations", strings.Count(msg.String(), "\n"))
	}
	return msg.String(), nil
}

func (c *Checker) checkWrite(mode types.AccessMode, rec Record, msg *strings.Builder) error {
	table := c.meta.WriteTable()
	pk := c.meta.PrimaryKeyField()

	for _, f := range c.meta.Fields {
		if !c.meta.Generated(f) {
			continue
		}
		if f.Associated != nil {
			if err := c.checkAssociated(f, rec, msg); err != nil {
				return err
			}
		}

		null := rec.IsNull(f.Name)
		if null {
			if !f.AllowNull && f.Type != types.TypeSerial {
				c.report(msg, f, "value is required")
			}
			continue
		}
		v := rec.Value(f.Name)

		if f.Unique && !f.PrimaryKey {
			where := c.q.FormatAssign(f, v, false)
			if mode == types.ModeEdit && !rec.IsNull(pk.Name) {
				where += " AND " + pk.Name + " <> " + c.q.FormatValue(pk.Type, rec.Value(pk.Name), false)
			}
			n, err := c.count(table, where)
			if err != nil {
				return err
			}
			if n > 0 {
				c.report(msg, f, fmt.Sprintf("value %s already exists and must be unique", display(v)))
			}
		}

		if mode == types.ModeInsert && f == pk {
			n, err := c.count(table, c.q.FormatAssign(f, v, false))
			if err != nil {
				return err
			}
			if n > 0 {
				c.report(msg, f, fmt.Sprintf("primary key %s already exists", display(v)))
			}
		}

		if rel := f.RelationM1(); rel != nil && rel.CheckIn && !strings.EqualFold(rel.ForeignTable, table) {
			if types.IsNullValue(f.Type, v, true) {
				continue
			}
			ff := c.foreignField(rel, f)
			n, err := c.count(rel.ForeignTable, c.q.FormatAssign(ff, v, false))
			if err != nil {
				return err
			}
			if n == 0 {
				c.report(msg, f, fmt.Sprintf("value %s does not exist in %s", display(v), rel.ForeignTable))
			}
		}
	}

	if mode == types.ModeInsert {
		return c.checkCompoundKeys(rec, msg)
	}
	return nil
}

// checkAssociated verifies a field whose value must belong to the row
// selected by its driving field, adopting the authoritative driving value
// when the row exists.
func (c *Checker) checkAssociated(f *types.FieldMetadata, rec Record, msg *strings.Builder) error {
	rel := f.RelationM1()
	driving := c.meta.Field(f.Associated.Field)
	if rel == nil || driving == nil {
		return nil
	}
	v := rec.Value(f.Name)
	av := rec.Value(driving.Name)
	if types.IsNullValue(f.Type, v, true) || types.IsNullValue(driving.Type, av, true) {
		return nil
	}

	ff := c.foreignField(rel, f)
	by := &types.FieldMetadata{Name: f.Associated.FilterBy, Type: driving.Type}
	if fm, err := c.foreignTable(rel.ForeignTable); err == nil {
		if bf := fm.Field(f.Associated.FilterBy); bf != nil {
			by = bf
		}
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s AND %s",
		by.Name, rel.ForeignTable, c.q.FormatAssign(ff, v, false), c.q.FormatAssign(by, av, false))
	rows, err := c.q.Query(query)
	if err != nil {
		return errors.Wrapf(err, "checking %s.%s", c.meta.Name, f.Name)
	}
	if len(rows) == 0 {
		c.report(msg, f, fmt.Sprintf("%s does not belong to %s", display(v), display(av)))
		return nil
	}
	if auth := rows[0][0]; !types.Equal(driving.Type, auth, av) {
		if err := rec.SetValue(driving.Name, auth); err != nil {
			return errors.Wrapf(err, "adopting %s.%s", c.meta.Name, driving.Name)
		}
	}
	return nil
}

func (c *Checker) checkCompoundKeys(rec Record, msg *strings.Builder) error {
	for _, group := range c.meta.CompoundKeys() {
		var (
			terms  []string
			values []string
			skip   bool
		)
		for _, name := range group {
			f := c.meta.Field(name)
			if rec.IsNull(name) {
				skip = true
				break
			}
			v := rec.Value(name)
			terms = append(terms, c.q.FormatAssign(f, v, false))
			values = append(values, display(v))
		}
		if skip {
			continue
		}
		n, err := c.count(c.meta.WriteTable(), strings.Join(terms, " AND "))
		if err != nil {
			return err
		}
		if n > 0 {
			fmt.Fprintf(msg, "\n%s: compound key (%s) already exists with values %s",
				c.meta.Label(), strings.Join(group, ", "), strings.Join(values, ", "))
		}
	}
	return nil
}

// checkDelete reports every dependent row that blocks the delete. Relations
// whose dependent side cascades are left to the cascade step.
func (c *Checker) checkDelete(rec Record, msg *strings.Builder) error {
	table := c.meta.WriteTable()
	for _, f := range c.meta.Fields {
		rels := f.RelationsOneToMany()
		if len(rels) == 0 || rec.IsNull(f.Name) {
			continue
		}
		v := rec.Value(f.Name)
		for _, rel := range rels {
			fm, err := c.foreignTable(rel.ForeignTable)
			if err != nil {
				return err
			}
			ff := fm.Field(rel.ForeignField)
			if ff == nil {
				return errors.Wrapf(types.ErrFieldNotFound, "%s.%s", rel.ForeignTable, rel.ForeignField)
			}
			back := ff.RelationTo(table, f.Name)
			if back == nil || !back.CheckIn || ff.CascadesFrom(table, f.Name) {
				continue
			}
			n, err := c.count(fm.WriteTable(), c.q.FormatAssign(ff, v, false))
			if err != nil {
				return err
			}
			if n > 0 {
				c.report(msg, f, fmt.Sprintf("value %s is referenced by %d row(s) of %s", display(v), n, fm.Label()))
			}
		}
	}
	return nil
}

func (c *Checker) count(table, where string) (int, error) {
	n, err := c.q.Count(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, where))
	if err != nil {
		return 0, errors.Wrapf(err, "integrity lookup on %s", table)
	}
	return n, nil
}

func (c *Checker) foreignTable(name string) (*types.TableMetadata, error) {
	if c.provider == nil {
		return nil, errors.Wrapf(types.ErrTableNotFound, "%s (no metadata provider)", name)
	}
	m, err := c.provider.Table(name)
	if err != nil {
		return nil, errors.Wrapf(err, "relation target %s", name)
	}
	return m, nil
}

// foreignField returns the metadata of the relation's foreign field, or a
// stand-in with the local field's type when it cannot be resolved.
func (c *Checker) foreignField(rel *types.Relation, local *types.FieldMetadata) *types.FieldMetadata {
	if fm, err := c.foreignTable(rel.ForeignTable); err == nil {
		if ff := fm.Field(rel.ForeignField); ff != nil {
			return ff
		}
	}
	return &types.FieldMetadata{Name: rel.ForeignField, Type: local.Type}
}

func (c *Checker) report(msg *strings.Builder, f *types.FieldMetadata, text string) {
	fmt.Fprintf(msg, "\n%s:%s : %s", c.meta.Label(), f.Label(), text)
}

func display(v any) string {
	c, err := types.CoerceType(types.TypeString, v)
	if err != nil {
		return fmt.Sprint(v)
	}
	s, _ := c.(string)
	return "'" + s + "'"
}
