package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/mesh-intelligence/recnav/internal/cursor"
	"github.com/mesh-intelligence/recnav/internal/logging"
	"github.com/mesh-intelligence/recnav/internal/schema"
	"github.com/mesh-intelligence/recnav/internal/sqlite"
	"github.com/mesh-intelligence/recnav/pkg/types"
)

// workspace is an attached backend, the loaded schema and a cursor session
// over them. The caller must Close it.
type workspace struct {
	backend  *sqlite.Backend
	provider *schema.Provider
	session  *cursor.Session
}

// openWorkspace attaches the configured database and loads the schema.
func openWorkspace(env *cmdEnv) (*workspace, error) {
	log := logging.Get()
	provider, err := schema.Load(env.cfg.engine.Schema)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	backend := sqlite.NewBackend(log)
	if err := backend.Attach(env.cfg.engine); err != nil {
		return nil, fmt.Errorf("attach backend: %w", err)
	}
	return &workspace{
		backend:  backend,
		provider: provider,
		session:  cursor.NewSession(backend, provider, env.cfg.engine, log),
	}, nil
}

func (w *workspace) Close() error {
	err := w.session.Close()
	if derr := w.backend.Detach(); err == nil {
		err = derr
	}
	return err
}

// openAt opens a cursor on table positioned at the row whose primary key
// is key. Returns a user error when no such row exists.
func (w *workspace) openAt(table, key string) (*cursor.Cursor, error) {
	meta, err := w.provider.Table(table)
	if err != nil {
		return nil, err
	}
	pk, err := types.Coerce(meta.PrimaryKeyField(), key)
	if err != nil {
		return nil, err
	}
	c, err := w.session.Open(table)
	if err != nil {
		return nil, err
	}
	if err := c.Select(w.backend.FormatAssign(meta.PrimaryKeyField(), pk, false), ""); err != nil {
		return nil, err
	}
	ok, err := c.First()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, userErrorf("%s %q not found", table, key)
	}
	return c, nil
}

// parseAssignments splits field=value arguments. An empty value stands for
// NULL.
func parseAssignments(args []string) ([][2]string, error) {
	out := make([][2]string, 0, len(args))
	for _, arg := range args {
		field, value, ok := strings.Cut(arg, "=")
		if !ok || field == "" {
			return nil, userErrorf("invalid assignment %q (expected field=value)", arg)
		}
		out = append(out, [2]string{field, value})
	}
	return out, nil
}

// assign stages every assignment on the cursor buffer.
func assign(c *cursor.Cursor, assignments [][2]string) error {
	for _, a := range assignments {
		var v any = a[1]
		if a[1] == "" {
			v = nil
		}
		if err := c.SetValue(a[0], v); err != nil {
			return err
		}
	}
	return nil
}

// commit commits the cursor buffer. A rejected commit returns the
// integrity error.
func commit(c *cursor.Cursor) error {
	ok, err := c.CommitBuffer()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("commit %s: not committed", c.Name())
	}
	return nil
}

// printRows writes rows as a JSON array or as a tab-aligned table.
func printRows(env *cmdEnv, w io.Writer, meta *types.TableMetadata, rows []map[string]any) error {
	if env.flags.jsonMode {
		out := make([]map[string]any, len(rows))
		for i, row := range rows {
			out[i] = encodeRow(meta, row)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	var visible []*types.FieldMetadata
	for _, f := range meta.Fields {
		if f.Visible {
			visible = append(visible, f)
		}
	}
	labels := make([]string, len(visible))
	for i, f := range visible {
		labels[i] = f.Label()
	}
	fmt.Fprintln(tw, strings.Join(labels, "\t"))
	for _, row := range rows {
		cells := make([]string, len(visible))
		for i, f := range visible {
			cells[i] = display(f, row[f.Name])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func encodeRow(meta *types.TableMetadata, row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for _, f := range meta.Fields {
		v := row[f.Name]
		if _, isBool := v.(bool); isBool {
			out[f.Name] = v
			continue
		}
		out[f.Name] = types.Encode(f.Type, v)
	}
	return out
}

func display(f *types.FieldMetadata, v any) string {
	if v == nil {
		return ""
	}
	if _, isBool := v.(bool); isBool {
		return fmt.Sprint(v)
	}
	return fmt.Sprint(types.Encode(f.Type, v))
}
