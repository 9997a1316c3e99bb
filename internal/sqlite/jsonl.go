package sqlite

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mesh-intelligence/recnav/pkg/types"
)

// maxJSONLLine bounds a single JSONL record.
const maxJSONLLine = 16 << 20

// eachJSONL calls fn with every line of path that decodes to a JSON object.
// Blank and malformed lines are skipped.
func eachJSONL(path string, fn func(rec map[string]any) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJSONLLine)
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil || rec == nil {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning %s: %w", path, err)
	}
	return nil
}

// writeAtomic streams JSONL records produced by fill into a temp file next
// to path, syncs it and renames it over path. On error path is untouched.
func writeAtomic(path string, fill func(enc *json.Encoder) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	if err := fill(json.NewEncoder(w)); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming onto %s: %w", path, err)
	}
	return nil
}

// Export writes every row of the table described by m to path, one JSON
// object per line, ordered by primary key. Temporal values are written in
// their canonical text layouts. Returns the number of rows written.
func (b *Backend) Export(m *types.TableMetadata, path string) (int, error) {
	names := m.FieldNames()
	rows, err := b.Query(fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(names, ", "), m.WriteTable(), m.PrimaryKey))
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", m.Name, err)
	}
	err = writeAtomic(path, func(enc *json.Encoder) error {
		for _, row := range rows {
			rec := make(map[string]any, len(names))
			for i, f := range m.Fields {
				v, err := types.Coerce(f, row[i])
				if err != nil {
					return fmt.Errorf("exporting %s: %w", m.Name, err)
				}
				if _, isBool := v.(bool); isBool {
					rec[f.Name] = v
					continue
				}
				rec[f.Name] = types.Encode(f.Type, v)
			}
			if err := enc.Encode(rec); err != nil {
				return fmt.Errorf("encoding %s row: %w", m.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Import inserts the records of a JSONL file into the table described by m.
// Loading is transactional: all records are inserted or none. Malformed lines
// are skipped and unknown keys are ignored. Returns the number of rows
// inserted.
func (b *Backend) Import(m *types.TableMetadata, path string) (n int, err error) {
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("importing %s: %w", m.Name, err)
	}
	if err := b.Begin(); err != nil {
		return 0, fmt.Errorf("beginning import: %w", err)
	}
	defer func() {
		if err != nil {
			_ = b.Rollback()
		}
	}()

	names := m.FieldNames()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", m.WriteTable(), strings.Join(names, ", "), placeholders)
	err = eachJSONL(path, func(rec map[string]any) error {
		args := make([]any, len(m.Fields))
		for i, f := range m.Fields {
			v, err := types.Coerce(f, rec[f.Name])
			if err != nil {
				return fmt.Errorf("importing %s: %w", m.Name, err)
			}
			args[i] = types.Encode(f.Type, v)
		}
		if _, err := b.Exec(stmt, args...); err != nil {
			return fmt.Errorf("importing %s: %w", m.Name, err)
		}
		n++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := b.Commit(); err != nil {
		return 0, fmt.Errorf("committing import: %w", err)
	}
	return n, nil
}
