// Package txn coordinates nested transactions on one connection. The first
// level opens a real transaction and deeper levels push savepoints. Every
// level is owned by the Scope that opened it, and a Scope may only close the
// levels it opened, in LIFO order.
package txn

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mesh-intelligence/recnav/internal/logging"
	"github.com/mesh-intelligence/recnav/pkg/types"
)

// Conn is the subset of types.Conn the coordinator drives.
type Conn interface {
	Begin() error
	Commit() error
	Rollback() error
	Savepoint(name string) error
	ReleaseSavepoint(name string) error
	RollbackToSavepoint(name string) error
}

// Coordinator holds the nesting state shared by every cursor of a
// connection.
type Coordinator struct {
	mu    sync.Mutex
	conn  Conn
	log   *slog.Logger
	stack []level
}

type level struct {
	id    string
	owner *Scope
}

// New returns a coordinator for conn.
func New(conn Conn, log *slog.Logger) *Coordinator {
	if log == nil {
		log = logging.Discard()
	}
	return &Coordinator{conn: conn, log: log}
}

// Depth returns the number of open levels on the connection.
func (c *Coordinator) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stack)
}

// Scope returns a new ownership view named owner.
func (c *Coordinator) Scope(owner string) *Scope {
	return &Scope{coord: c, owner: owner}
}

// Scope is the set of levels one cursor opened. It is the only handle
// through which those levels can be committed or rolled back.
type Scope struct {
	coord  *Coordinator
	owner  string
	ids    []string
	begins int
	closes int
}

// Owner returns the scope name.
func (s *Scope) Owner() string {
	return s.owner
}

// Open returns the number of levels this scope holds.
func (s *Scope) Open() int {
	s.coord.mu.Lock()
	defer s.coord.mu.Unlock()
	return len(s.ids)
}

// Balance returns the number of Begin calls and the number of CommitOne or
// RollbackOne calls that closed a level.
func (s *Scope) Balance() (begins, closes int) {
	s.coord.mu.Lock()
	defer s.coord.mu.Unlock()
	return s.begins, s.closes
}

// Begin opens one level: a real transaction when none is open on the
// connection, a savepoint otherwise.
func (s *Scope) Begin() error {
	c := s.coord
	c.mu.Lock()
	defer c.mu.Unlock()

	id := savepointName()
	if len(c.stack) == 0 {
		if err := c.conn.Begin(); err != nil {
			return errors.Wrapf(joinErr(types.ErrTransaction, err), "begin (%s)", s.owner)
		}
	} else if err := c.conn.Savepoint(id); err != nil {
		return errors.Wrapf(joinErr(types.ErrTransaction, err), "savepoint %s (%s)", id, s.owner)
	}
	c.stack = append(c.stack, level{id: id, owner: s})
	s.ids = append(s.ids, id)
	s.begins++
	c.log.Debug("transaction level opened", "owner", s.owner, "savepoint", id, "depth", len(c.stack))
	return nil
}

// CommitOne closes the most recent level opened by this scope, keeping its
// work. The outermost level performs the real commit. A failing commit or
// release is rolled back before the error is returned.
func (s *Scope) CommitOne() error {
	c := s.coord
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := s.topLocked()
	if err != nil {
		return err
	}
	defer s.popLocked()

	if len(c.stack) == 1 {
		if err := c.conn.Commit(); err != nil {
			rbErr := c.conn.Rollback()
			c.log.Warn("commit failed, rolled back", "owner", s.owner, "err", err, "rollback_err", rbErr)
			return errors.Wrapf(joinErr(types.ErrTransaction, err), "commit (%s)", s.owner)
		}
		c.log.Debug("transaction committed", "owner", s.owner)
		return nil
	}
	if err := c.conn.ReleaseSavepoint(id); err != nil {
		rbErr := c.conn.RollbackToSavepoint(id)
		c.log.Warn("release failed, rolled back to savepoint", "owner", s.owner, "savepoint", id, "err", err, "rollback_err", rbErr)
		return errors.Wrapf(joinErr(types.ErrTransaction, err), "release %s (%s)", id, s.owner)
	}
	c.log.Debug("savepoint released", "owner", s.owner, "savepoint", id, "depth", len(c.stack)-1)
	return nil
}

// RollbackOne closes the most recent level opened by this scope, discarding
// its work.
func (s *Scope) RollbackOne() error {
	c := s.coord
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := s.topLocked()
	if err != nil {
		return err
	}
	defer s.popLocked()

	if len(c.stack) == 1 {
		err = c.conn.Rollback()
	} else {
		err = c.conn.RollbackToSavepoint(id)
	}
	if err != nil {
		return errors.Wrapf(joinErr(types.ErrTransaction, err), "rollback %s (%s)", id, s.owner)
	}
	c.log.Debug("transaction level rolled back", "owner", s.owner, "savepoint", id, "depth", len(c.stack)-1)
	return nil
}

// RollbackAll rolls back every level this scope still holds.
func (s *Scope) RollbackAll() error {
	var first error
	for s.Open() > 0 {
		if err := s.RollbackOne(); err != nil {
			if errors.Is(err, types.ErrSavepointNotOwned) {
				return err
			}
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// topLocked returns the scope's most recent level after checking that it is
// also the connection's most recent level.
func (s *Scope) topLocked() (string, error) {
	c := s.coord
	if len(s.ids) == 0 {
		return "", errors.Wrapf(types.ErrNoTransaction, "scope %s", s.owner)
	}
	id := s.ids[len(s.ids)-1]
	top := c.stack[len(c.stack)-1]
	if top.id != id || top.owner != s {
		return "", errors.Wrapf(types.ErrSavepointNotOwned,
			"scope %s cannot close %s while %s is open (owner %s)", s.owner, id, top.id, top.owner.owner)
	}
	return id, nil
}

func (s *Scope) popLocked() {
	c := s.coord
	c.stack = c.stack[:len(c.stack)-1]
	s.ids = s.ids[:len(s.ids)-1]
	s.closes++
}

// savepointName returns a unique SQL identifier.
func savepointName() string {
	return "sv_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// joinErr lets callers match both the sentinel and the driver error.
func joinErr(sentinel, cause error) error {
	return fmt.Errorf("%w: %w", sentinel, cause)
}
