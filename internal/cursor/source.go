package cursor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/recnav/internal/rowindex"
	"github.com/mesh-intelligence/recnav/pkg/types"
)

// keySource reads the primary keys and sort values of a filtered, sorted
// select in pages. where is updated in place when the persistent filter
// grows, so the row index keeps paging over the predicate that contains
// the rows patched into it.
type keySource struct {
	conn  types.Conn
	meta  *types.TableMetadata
	main  string
	where string
	order []rowindex.SortKey
}

func (s *keySource) columns() string {
	cols := make([]string, 0, len(s.order)+1)
	cols = append(cols, s.meta.PrimaryKey)
	for _, k := range s.order {
		cols = append(cols, k.Field)
	}
	return strings.Join(cols, ", ")
}

func (s *keySource) Fetch(offset, limit int) ([]rowindex.Entry, error) {
	query := "SELECT " + s.columns() + " FROM " + s.meta.Source() + whereClause(s.where) +
		" ORDER BY " + orderByClause(s.order) + " LIMIT ? OFFSET ?"
	rows, err := s.conn.Query(query, limit, offset)
	if err != nil {
		return nil, errors.Wrapf(err, "reading keys of %s", s.meta.Name)
	}
	pk := s.meta.PrimaryKeyField()
	out := make([]rowindex.Entry, 0, len(rows))
	for _, row := range rows {
		key, err := types.Coerce(pk, row[0])
		if err != nil {
			return nil, errors.Wrapf(err, "key of %s", s.meta.Name)
		}
		e := rowindex.Entry{Key: key, Sort: make([]any, len(s.order))}
		for i, k := range s.order {
			v, err := types.CoerceType(k.Type, row[i+1])
			if err != nil {
				return nil, errors.Wrapf(err, "sort value %s of %s", k.Field, s.meta.Name)
			}
			e.Sort[i] = v
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *keySource) count() (int, error) {
	n, err := s.conn.Count("SELECT COUNT(*) FROM " + s.meta.Source() + whereClause(s.where))
	if err != nil {
		return 0, errors.Wrapf(err, "counting %s", s.meta.Name)
	}
	return n, nil
}

// entry builds the index entry of a record from its values.
func (s *keySource) entry(value func(string) any) (rowindex.Entry, error) {
	key, err := types.Coerce(s.meta.PrimaryKeyField(), value(s.meta.PrimaryKey))
	if err != nil {
		return rowindex.Entry{}, err
	}
	e := rowindex.Entry{Key: key, Sort: make([]any, len(s.order))}
	for i, k := range s.order {
		v, err := types.CoerceType(k.Type, value(k.Field))
		if err != nil {
			return rowindex.Entry{}, err
		}
		e.Sort[i] = v
	}
	return e, nil
}

func whereClause(where string) string {
	if strings.TrimSpace(where) == "" {
		return ""
	}
	return " WHERE " + where
}

// composeFilter joins the main and ad-hoc filters with AND and ORs the
// persistent filter onto the result. Without a restricting filter every row
// is already visible and the persistent filter is dropped.
func composeFilter(main, adhoc, persistent string) string {
	var parts []string
	for _, f := range []string{main, adhoc} {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, "("+f+")")
		}
	}
	where := strings.Join(parts, " AND ")
	if where == "" || strings.TrimSpace(persistent) == "" {
		return where
	}
	return "(" + where + ") OR (" + persistent + ")"
}

var orderByRe = regexp.MustCompile(`(?i)\s*\border\s+by\b`)

// splitOrderBy separates an ORDER BY embedded in a filter.
func splitOrderBy(filter string) (where, sort string) {
	loc := orderByRe.FindStringIndex(filter)
	if loc == nil {
		return filter, ""
	}
	return strings.TrimSpace(filter[:loc[0]]), strings.TrimSpace(filter[loc[1]:])
}

// parseSort turns "a, b DESC" into sort keys and appends the primary key
// as the final tie-break so that the order is total.
func parseSort(meta *types.TableMetadata, sort string) ([]rowindex.SortKey, error) {
	var keys []rowindex.SortKey
	hasPK := false
	for _, term := range strings.Split(sort, ",") {
		fields := strings.Fields(term)
		if len(fields) == 0 {
			continue
		}
		if len(fields) > 2 {
			return nil, fmt.Errorf("sort term %q: %w", term, types.ErrInvalidSort)
		}
		f := meta.Field(fields[0])
		if f == nil {
			return nil, errors.Wrapf(types.ErrFieldNotFound, "sort on %s.%s", meta.Name, fields[0])
		}
		k := rowindex.SortKey{Field: f.Name, Type: f.Type}
		if len(fields) == 2 {
			switch strings.ToUpper(fields[1]) {
			case "ASC":
			case "DESC":
				k.Desc = true
			default:
				return nil, fmt.Errorf("sort direction %q: %w", fields[1], types.ErrInvalidSort)
			}
		}
		hasPK = hasPK || strings.EqualFold(f.Name, meta.PrimaryKey)
		keys = append(keys, k)
	}
	if !hasPK {
		pk := meta.PrimaryKeyField()
		keys = append(keys, rowindex.SortKey{Field: pk.Name, Type: pk.Type})
	}
	return keys, nil
}

func orderByClause(keys []rowindex.SortKey) string {
	terms := make([]string, len(keys))
	for i, k := range keys {
		terms[i] = k.Field
		if k.Desc {
			terms[i] += " DESC"
		}
	}
	return strings.Join(terms, ", ")
}
