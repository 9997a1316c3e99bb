package cursor

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mesh-intelligence/recnav/internal/acl"
	"github.com/mesh-intelligence/recnav/internal/buffer"
	"github.com/mesh-intelligence/recnav/internal/integrity"
	"github.com/mesh-intelligence/recnav/internal/logging"
	"github.com/mesh-intelligence/recnav/internal/txn"
	"github.com/mesh-intelligence/recnav/pkg/types"
)

// Session binds the cursors of one connection: they share its metadata
// provider, transaction coordinator and hooks.
type Session struct {
	conn     types.Conn
	provider types.MetadataProvider
	coord    *txn.Coordinator
	hooks    *Hooks
	registry *Registry
	config   types.Config
	log      *slog.Logger

	mu      sync.Mutex
	cursors []*Cursor
	closed  bool
}

// NewSession returns a session over conn. Cursors are registered in the
// process-wide registry.
func NewSession(conn types.Conn, provider types.MetadataProvider, config types.Config, log *slog.Logger) *Session {
	if log == nil {
		log = logging.Discard()
	}
	if config.PageSize <= 0 {
		config.PageSize = types.DefaultPageSize
	}
	if config.RefreshDelay <= 0 {
		config.RefreshDelay = types.DefaultRefreshDelay
	}
	s := &Session{
		conn:     conn,
		provider: provider,
		coord:    txn.New(conn, log),
		hooks:    NewHooks(),
		registry: DefaultRegistry(),
		config:   config,
		log:      log,
	}
	log.Info("session opened", "driver", config.Driver, "database", config.Database)
	return s
}

// Hooks returns the hook registry of the session.
func (s *Session) Hooks() *Hooks {
	return s.hooks
}

// Coordinator returns the transaction coordinator of the connection.
func (s *Session) Coordinator() *txn.Coordinator {
	return s.coord
}

// Provider returns the metadata provider.
func (s *Session) Provider() types.MetadataProvider {
	return s.provider
}

// Open returns a cursor over the named table or query. The cursor holds no
// result set until Select is called.
func (s *Session) Open(table string) (*Cursor, error) {
	meta, err := s.provider.Table(table)
	if err != nil {
		return nil, err
	}
	return s.open(meta)
}

// OpenChild returns a cursor over table bound to parent by rel. The child
// shows the rows whose rel.Field equals the parent's rel.ParentField and
// follows the parent's buffer.
func (s *Session) OpenChild(parent *Cursor, table string, rel Relation) (*Cursor, error) {
	meta, err := s.provider.Table(table)
	if err != nil {
		return nil, err
	}
	if meta.Field(rel.Field) == nil {
		return nil, errors.Wrapf(types.ErrFieldNotFound, "relation field %s.%s", table, rel.Field)
	}
	if parent.meta == nil || parent.meta.Field(rel.ParentField) == nil {
		return nil, errors.Wrapf(types.ErrFieldNotFound, "relation parent field %s", rel.ParentField)
	}
	c, err := s.open(meta)
	if err != nil {
		return nil, err
	}
	c.attach(parent, rel)
	if err := c.Select("", ""); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (s *Session) open(meta *types.TableMetadata) (*Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, types.ErrSessionDone
	}
	id := uuid.NewString()
	c := &Cursor{
		id:    id,
		name:  meta.Name,
		sess:  s,
		meta:  meta,
		log:   logging.WithCursor(s.log, id, meta.Name),
		scope: s.coord.Scope(meta.Name + "/" + id),
		perms: acl.New(acl.Permissions{}),
		mode:  types.ModeBrowse,
		pos:   PosInvalid,
	}
	c.checker = integrity.New(meta, s.provider, s.conn, c.log)
	c.buf = buffer.New(meta, c.fetch)
	s.cursors = append(s.cursors, c)
	s.registry.Register(c)
	return c, nil
}

func (s *Session) forget(c *Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, x := range s.cursors {
		if x == c {
			s.cursors = append(s.cursors[:i], s.cursors[i+1:]...)
			break
		}
	}
}

// Cursors returns the open cursors of the session.
func (s *Session) Cursors() []*Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Cursor(nil), s.cursors...)
}

// Close closes every cursor of the session, rolling back the transaction
// levels they left open. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cursors := append([]*Cursor(nil), s.cursors...)
	s.mu.Unlock()

	var first error
	for i := len(cursors) - 1; i >= 0; i-- {
		if err := cursors[i].Close(); err != nil {
			s.log.Warn("closing cursor", "cursor", cursors[i].id, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	s.log.Info("session closed", "cursors", len(cursors))
	return first
}
