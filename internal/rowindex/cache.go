// Package rowindex materializes the ordered primary keys of a filtered,
// sorted result set in pages and keeps them consistent with inserts, updates
// and deletes without re-running the query.
package rowindex

import (
	"github.com/pkg/errors"

	"github.com/mesh-intelligence/recnav/pkg/types"
)

// DefaultPageSize is the number of keys fetched per page.
const DefaultPageSize = types.DefaultPageSize

// NotFound is returned by IndexOf when a key is not in the result set.
const NotFound = -1

// Entry is one row of the index: its primary key and the values of the
// sort keys, aligned with the cache's order.
type Entry struct {
	Key  any
	Sort []any
}

// SortKey is one term of the ORDER BY the cache mirrors.
type SortKey struct {
	Field string
	Type  types.FieldType
	Desc  bool
}

// Source returns rows of the underlying query, in order, starting at offset.
type Source interface {
	Fetch(offset, limit int) ([]Entry, error)
}

// Cache is an append-only, lazily grown prefix of the result set.
// Invariant: Materialized() <= Len().
type Cache struct {
	src      Source
	order    []SortKey
	keyType  types.FieldType
	pageSize int
	total    int
	entries  []Entry
}

// New builds a cache over src holding total rows and fetches the first page.
// order describes the ORDER BY of src and is used to place inserted rows;
// keyType is the primary key type used by IndexOf.
func New(src Source, total, pageSize int, keyType types.FieldType, order []SortKey) (*Cache, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if total < 0 {
		total = 0
	}
	c := &Cache{
		src:      src,
		order:    order,
		keyType:  keyType,
		pageSize: pageSize,
		total:    total,
	}
	if _, err := c.FetchMore(min(pageSize, total)); err != nil {
		return nil, err
	}
	return c, nil
}

// Len returns the authoritative number of rows.
func (c *Cache) Len() int {
	return c.total
}

// Materialized returns the length of the fetched prefix.
func (c *Cache) Materialized() int {
	return len(c.entries)
}

// Order returns the sort keys the cache mirrors.
func (c *Cache) Order() []SortKey {
	return c.order
}

// Get returns the primary key at pos, fetching more keys when pos lies past
// the materialized prefix. ok is false when pos is out of range.
func (c *Cache) Get(pos int) (key any, ok bool, err error) {
	e, ok, err := c.entry(pos)
	if !ok || err != nil {
		return nil, ok, err
	}
	return e.Key, true, nil
}

func (c *Cache) entry(pos int) (Entry, bool, error) {
	if pos < 0 || pos >= c.total {
		return Entry{}, false, nil
	}
	if pos >= len(c.entries) {
		if _, err := c.FetchMore(pos - len(c.entries) + 1); err != nil {
			return Entry{}, false, err
		}
	}
	if pos >= len(c.entries) {
		return Entry{}, false, nil
	}
	return c.entries[pos], true, nil
}

// IndexOf returns the position of key, fetching further pages until it is
// found or the source is exhausted. Returns NotFound if absent.
func (c *Cache) IndexOf(key any) (int, error) {
	from := 0
	for {
		for i := from; i < len(c.entries); i++ {
			if types.Equal(c.keyType, c.entries[i].Key, key) {
				return i, nil
			}
		}
		from = len(c.entries)
		more, err := c.FetchMore(c.pageSize)
		if err != nil {
			return NotFound, err
		}
		if !more {
			return NotFound, nil
		}
	}
}

// FetchMore pulls at least n more keys, rounded up to a page and clamped to
// the rows not yet materialized. It returns false once the source is
// exhausted. A source that returns fewer rows than expected shrinks Len to
// the materialized length.
func (c *Cache) FetchMore(n int) (bool, error) {
	remaining := c.total - len(c.entries)
	if n <= 0 || remaining <= 0 {
		return false, nil
	}
	want := min(max(n, c.pageSize), remaining)
	got, err := c.src.Fetch(len(c.entries), want)
	if err != nil {
		return false, errors.Wrapf(err, "fetching %d keys at offset %d", want, len(c.entries))
	}
	c.entries = append(c.entries, got...)
	if len(got) < want {
		c.total = len(c.entries)
	}
	return len(got) > 0, nil
}

// PatchInsert places a row that was just written to the source and returns
// its position. Within the materialized prefix the position is found by
// binary search; past it the search bisects over the source, fetching on
// demand whenever the midpoint lies beyond the prefix. The source already
// contains the new row, so the search stops when it meets the row's key.
func (c *Cache) PatchInsert(e Entry) (int, error) {
	if err := c.checkOrder(e); err != nil {
		return NotFound, err
	}

	lo, hi := 0, len(c.entries)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if c.compare(c.entries[mid], e) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(c.entries) {
		if types.Equal(c.keyType, c.entries[lo].Key, e.Key) {
			return lo, nil
		}
		c.entries = append(c.entries, Entry{})
		copy(c.entries[lo+1:], c.entries[lo:])
		c.entries[lo] = e
		c.total++
		return lo, nil
	}
	if len(c.entries) == c.total {
		c.entries = append(c.entries, e)
		c.total++
		return lo, nil
	}

	// The row lies past the prefix: the source now holds one more row.
	c.total++
	hi = c.total
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		cur, ok, err := c.entry(mid)
		if err != nil {
			return NotFound, err
		}
		if !ok {
			hi = mid
			continue
		}
		if types.Equal(c.keyType, cur.Key, e.Key) {
			return mid, nil
		}
		if c.compare(cur, e) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if cur, ok, err := c.entry(lo); err == nil && ok && types.Equal(c.keyType, cur.Key, e.Key) {
		return lo, nil
	}
	return NotFound, errors.Wrapf(types.ErrIndexExhausted, "placing key %v", e.Key)
}

// PatchUpdate replaces the entry at pos. The row keeps its position; callers
// whose sort values changed must delete and re-insert instead.
func (c *Cache) PatchUpdate(pos int, e Entry) error {
	if pos < 0 || pos >= c.total {
		return errors.Wrapf(types.ErrIndexExhausted, "update at %d of %d", pos, c.total)
	}
	if pos < len(c.entries) {
		c.entries[pos] = e
	}
	return nil
}

// PatchDelete removes the entry at pos.
func (c *Cache) PatchDelete(pos int) error {
	if pos < 0 || pos >= c.total {
		return errors.Wrapf(types.ErrIndexExhausted, "delete at %d of %d", pos, c.total)
	}
	if pos < len(c.entries) {
		c.entries = append(c.entries[:pos], c.entries[pos+1:]...)
	}
	c.total--
	return nil
}

func (c *Cache) checkOrder(e Entry) error {
	if len(c.order) == 0 || len(e.Sort) != len(c.order) {
		return errors.Wrapf(types.ErrUnorderedIndex, "entry has %d sort values, index has %d keys", len(e.Sort), len(c.order))
	}
	return nil
}

// compare orders two entries by the cache's sort keys.
func (c *Cache) compare(a, b Entry) int {
	for i, k := range c.order {
		if i >= len(a.Sort) || i >= len(b.Sort) {
			break
		}
		r := types.Compare(k.Type, a.Sort[i], b.Sort[i])
		if k.Desc {
			r = -r
		}
		if r != 0 {
			return r
		}
	}
	return 0
}
