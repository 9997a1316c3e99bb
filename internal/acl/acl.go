// Package acl computes the effective read/write permissions of a cursor's
// current row. A static permission set can be overridden by a condition on
// the row's content, and is degraded to read-only while the row is locked.
package acl

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mesh-intelligence/recnav/pkg/types"
)

// Perm is a two-character permission string: read flag then write flag.
type Perm string

// Permission strings.
const (
	PermReadWrite Perm = "rw"
	PermReadOnly  Perm = "r-"
	PermWriteOnly Perm = "-w"
	PermNone      Perm = "--"
)

// ACL errors.
var (
	ErrInvalidPerm      = errors.New("invalid permission string")
	ErrInvalidCondition = errors.New("invalid acl condition")
)

// ParsePerm validates s as a permission string.
func ParsePerm(s string) (Perm, error) {
	switch p := Perm(strings.ToLower(s)); p {
	case PermReadWrite, PermReadOnly, PermWriteOnly, PermNone:
		return p, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrInvalidPerm)
}

// CanRead reports whether p grants read access.
func (p Perm) CanRead() bool { return len(p) == 2 && p[0] == 'r' }

// CanWrite reports whether p grants write access.
func (p Perm) CanWrite() bool { return len(p) == 2 && p[1] == 'w' }

// readOnly drops the write flag of p.
func (p Perm) readOnly() Perm {
	if p.CanRead() {
		return PermReadOnly
	}
	return PermNone
}

// Permissions is a table-level permission plus per-field overrides. An
// empty Table permission grants read and write.
type Permissions struct {
	Table  Perm
	Fields map[string]Perm
}

// Field returns the permission of the named field, falling back to the
// table permission.
func (p Permissions) Field(name string) Perm {
	if fp, ok := p.Fields[strings.ToLower(name)]; ok {
		return fp
	}
	return p.table()
}

func (p Permissions) table() Perm {
	if p.Table == "" {
		return PermReadWrite
	}
	return p.Table
}

// merge returns p with every permission set in o replacing it.
func (p Permissions) merge(o Permissions) Permissions {
	out := Permissions{Table: p.table(), Fields: make(map[string]Perm, len(p.Fields)+len(o.Fields))}
	for k, v := range p.Fields {
		out.Fields[k] = v
	}
	if o.Table != "" {
		out.Table = o.Table
	}
	for k, v := range o.Fields {
		out.Fields[strings.ToLower(k)] = v
	}
	return out
}

func (p Permissions) readOnly() Permissions {
	out := Permissions{Table: p.table().readOnly(), Fields: make(map[string]Perm, len(p.Fields))}
	for k, v := range p.Fields {
		out.Fields[k] = v.readOnly()
	}
	return out
}

func normalize(p Permissions) Permissions {
	out := Permissions{Table: p.Table, Fields: make(map[string]Perm, len(p.Fields))}
	for k, v := range p.Fields {
		out.Fields[strings.ToLower(k)] = v
	}
	return out
}

// ConditionKind selects how a Condition is evaluated.
type ConditionKind int

// Condition kinds.
const (
	CondValue ConditionKind = iota + 1
	CondRegExp
	CondFunction
)

// State is the row a condition is evaluated against.
type State interface {
	Value(name string) any
}

// Condition overrides the static permissions while it holds for the
// current row.
type Condition struct {
	Kind ConditionKind

	// Field is the field read by Value and RegExp conditions.
	Field string

	// Value is the constant the field (CondValue) or the function result
	// (CondFunction) must equal. A nil Value makes a function condition hold
	// when it returns true.
	Value any

	// Pattern is the regular expression of a CondRegExp condition.
	Pattern string

	// Func computes the value compared by a CondFunction condition.
	Func func(State) any

	// Override is applied on top of the static permissions.
	Override Permissions
}

// ACL holds the permission state of one cursor. It is not safe for
// concurrent use; the owning cursor serializes access.
type ACL struct {
	base    Permissions
	cond    *Condition
	re      *regexp.Regexp
	current Permissions

	evaluated bool
	lastRow   int
	lastKey   string
	lastLock  bool
	holds     bool
}

// New returns an ACL whose effective permissions start at base.
func New(base Permissions) *ACL {
	b := normalize(base)
	return &ACL{base: b, current: b}
}

// SetCondition installs c, or removes the condition when c is nil. The
// effective permissions are reset to the static set.
func (a *ACL) SetCondition(c *Condition) error {
	a.cond, a.re = nil, nil
	if c != nil {
		switch c.Kind {
		case CondValue:
			if c.Field == "" {
				return fmt.Errorf("value condition without field: %w", ErrInvalidCondition)
			}
		case CondRegExp:
			re, err := regexp.Compile(c.Pattern)
			if err != nil {
				return fmt.Errorf("pattern %q: %w", c.Pattern, errors.Join(ErrInvalidCondition, err))
			}
			a.re = re
		case CondFunction:
			if c.Func == nil {
				return fmt.Errorf("function condition without function: %w", ErrInvalidCondition)
			}
		default:
			return fmt.Errorf("kind %d: %w", c.Kind, ErrInvalidCondition)
		}
		cp := *c
		cp.Override = normalize(c.Override)
		a.cond = &cp
	}
	a.Undo()
	return nil
}

// Process recomputes the effective permissions for the record with primary
// key key at position row. Nothing is evaluated in insert mode, or when
// neither the record, its position nor its lock state changed since the
// last evaluation. Callers that reload changed content for the same record
// must Undo first. Reports whether the permissions were recomputed.
func (a *ACL) Process(row int, key any, mode types.AccessMode, state State, locked bool) bool {
	if mode == types.ModeInsert {
		return false
	}
	k := text(key)
	if a.evaluated && a.lastRow == row && a.lastKey == k && a.lastLock == locked {
		return false
	}
	a.evaluated, a.lastRow, a.lastKey, a.lastLock = true, row, k, locked

	a.holds = a.cond != nil && state != nil && a.eval(state)
	perms := a.base
	if a.holds {
		perms = a.base.merge(a.cond.Override)
	}
	if locked {
		perms = perms.readOnly()
	}
	a.current = perms
	return true
}

// Undo restores the static permissions and forgets the last evaluation.
func (a *ACL) Undo() {
	a.current = a.base
	a.evaluated = false
	a.lastRow = -1
	a.lastKey = ""
	a.lastLock = false
	a.holds = false
}

// Condition returns the installed condition, or nil.
func (a *ACL) Condition() *Condition { return a.cond }

// Holds reports whether the condition held at the last evaluation.
func (a *ACL) Holds() bool { return a.holds }

// Table returns the effective table permission.
func (a *ACL) Table() Perm { return a.current.table() }

// Field returns the effective permission of the named field.
func (a *ACL) Field(name string) Perm { return a.current.Field(name) }

// CanWrite reports whether the named field may be written. The table must
// be writable too.
func (a *ACL) CanWrite(field string) bool {
	return a.Table().CanWrite() && a.Field(field).CanWrite()
}

func (a *ACL) eval(state State) bool {
	switch a.cond.Kind {
	case CondValue:
		return text(state.Value(a.cond.Field)) == text(a.cond.Value)
	case CondRegExp:
		return a.re.MatchString(text(state.Value(a.cond.Field)))
	case CondFunction:
		got := a.cond.Func(state)
		if a.cond.Value == nil {
			b, ok := got.(bool)
			return ok && b
		}
		return text(got) == text(a.cond.Value)
	}
	return false
}

func text(v any) string {
	c, err := types.CoerceType(types.TypeString, v)
	if err != nil {
		return fmt.Sprint(v)
	}
	s, _ := c.(string)
	return s
}
