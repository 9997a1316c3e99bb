package sqlite

import (
	"strconv"
	"strings"

	"github.com/mesh-intelligence/recnav/pkg/types"
)

// FormatValue renders v as a SQLite literal for a field of type t. Values
// that cannot be coerced are rendered as quoted text.
func (b *Backend) FormatValue(t types.FieldType, v any, upper bool) string {
	return formatValue(t, v, upper)
}

// FormatAssign renders "field = literal", or "field IS NULL" when v is nil.
// With upper set, string comparisons are made case-insensitive.
func (b *Backend) FormatAssign(f *types.FieldMetadata, v any, upper bool) string {
	c, err := types.Coerce(f, v)
	if err == nil && c == nil {
		return f.Name + " IS NULL"
	}
	if upper && isText(f.Type) {
		return "UPPER(" + f.Name + ") = " + formatValue(f.Type, v, true)
	}
	return f.Name + " = " + formatValue(f.Type, v, false)
}

func formatValue(t types.FieldType, v any, upper bool) string {
	c, err := types.CoerceType(t, v)
	if err != nil {
		return quote(strings.TrimSpace(toText(v)), upper)
	}
	enc := types.Encode(t, c)
	switch x := enc.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return quote(x, upper && isText(t))
	}
	return quote(toText(enc), upper)
}

func quote(s string, upper bool) string {
	if upper {
		s = strings.ToUpper(s)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func isText(t types.FieldType) bool {
	return t == types.TypeString || t == types.TypeStringList || t == types.TypePixmap
}

func toText(v any) string {
	c, _ := types.CoerceType(types.TypeString, v)
	s, _ := c.(string)
	return s
}
