package cursor

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/recnav/pkg/types"
)

// Phase is a point of the commit where a hook runs.
type Phase int

// Hook phases.
const (
	BeforeCommit Phase = iota + 1
	AfterCommit
	BeforeDelete
	AfterDelete
	RiskLock
)

var phaseNames = map[Phase]string{
	BeforeCommit: "beforeCommit",
	AfterCommit:  "afterCommit",
	BeforeDelete: "recordDelBefore",
	AfterDelete:  "recordDelAfter",
	RiskLock:     "riskLock",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

// HookFunc runs at a commit phase. Returning false aborts the commit.
type HookFunc func(h *HookContext) (bool, error)

// CalculateFunc computes the value of a calculated field after another
// field of the buffer changed.
type CalculateFunc func(h *HookContext, field string) (any, error)

type hookKey struct {
	table string
	phase Phase
}

// Hooks maps (table, phase) to the callbacks a session runs. It is
// populated at startup and read on every commit.
type Hooks struct {
	mu    sync.RWMutex
	hooks map[hookKey]HookFunc
	calc  map[string]CalculateFunc
}

// NewHooks returns an empty hook registry.
func NewHooks() *Hooks {
	return &Hooks{
		hooks: make(map[hookKey]HookFunc),
		calc:  make(map[string]CalculateFunc),
	}
}

// Register sets the hook of table for phase, replacing any previous one. A
// nil fn removes it.
func (h *Hooks) Register(table string, phase Phase, fn HookFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := hookKey{table: strings.ToLower(table), phase: phase}
	if fn == nil {
		delete(h.hooks, k)
		return
	}
	h.hooks[k] = fn
}

// RegisterCalculated sets the calculateField callback of table.
func (h *Hooks) RegisterCalculated(table string, fn CalculateFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn == nil {
		delete(h.calc, strings.ToLower(table))
		return
	}
	h.calc[strings.ToLower(table)] = fn
}

func (h *Hooks) lookup(table string, phase Phase) HookFunc {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.hooks[hookKey{table: strings.ToLower(table), phase: phase}]
}

func (h *Hooks) calculator(table string) CalculateFunc {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.calc[strings.ToLower(table)]
}

// run calls the hook of table for phase. A missing hook passes.
func (h *Hooks) run(table string, phase Phase, ctx *HookContext) error {
	fn := h.lookup(table, phase)
	if fn == nil {
		return nil
	}
	ok, err := fn(ctx)
	if err != nil {
		return errors.Wrapf(fmt.Errorf("%w: %w", types.ErrHookFailed, err), "%s %s", phase, table)
	}
	if !ok {
		return errors.Wrapf(types.ErrHookFailed, "%s %s", phase, table)
	}
	return nil
}

// HookContext is the view of a cursor handed to hooks and ACL functions.
// It reads and writes the buffer directly and is only valid during the
// callback it was passed to.
type HookContext struct {
	c *Cursor
}

// Table returns the table name of the cursor.
func (h *HookContext) Table() string { return h.c.meta.Name }

// Mode returns the access mode of the cursor.
func (h *HookContext) Mode() types.AccessMode { return h.c.mode }

// Key returns the primary key of the buffer.
func (h *HookContext) Key() any { return h.c.buf.Key() }

// Value returns the buffer value of the field.
func (h *HookContext) Value(field string) any { return h.c.buf.Value(field) }

// IsNull reports whether the buffer value of the field is null.
func (h *HookContext) IsNull(field string) bool { return h.c.buf.IsNull(field) }

// SetValue stages a value in the buffer, bypassing access checks.
func (h *HookContext) SetValue(field string, v any) error {
	return h.c.buf.SetValue(field, v)
}
