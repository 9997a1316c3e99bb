package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Canonical text layouts for temporal values.
const (
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04:05"
	TimestampLayout = "2006-01-02T15:04:05"
)

var (
	dateLayouts      = []string{DateLayout, "02-01-2006", time.RFC3339, TimestampLayout, "2006-01-02 15:04:05"}
	timeLayouts      = []string{TimeLayout, "15:04", time.RFC3339, TimestampLayout}
	timestampLayouts = []string{TimestampLayout, "2006-01-02 15:04:05", time.RFC3339, time.RFC3339Nano, DateLayout}
)

// Stage converts a raw value at set time. Only boolean fields are converted
// here; every other type keeps the raw value until Coerce runs on commit, so
// that staged values can be shown to a user exactly as entered.
func Stage(t FieldType, raw any) (any, error) {
	if !t.IsBool() {
		return raw, nil
	}
	s, ok := raw.(string)
	if !ok {
		return raw, nil
	}
	return parseBool(s)
}

// Coerce converts raw to the canonical Go type of field f:
// float64 for double (rounded to PartDecimal), int64 for int, uint and serial,
// string for string, stringlist and pixmap, bool for bool, check and unlock,
// and time.Time for date, time and timestamp. Empty strings on non-string
// types become nil.
func Coerce(f *FieldMetadata, raw any) (any, error) {
	v, err := CoerceType(f.Type, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	if x, ok := v.(float64); ok && f.PartDecimal > 0 {
		p := math.Pow10(f.PartDecimal)
		v = math.Round(x*p) / p
	}
	return v, nil
}

// CoerceType is Coerce without field-level precision.
func CoerceType(t FieldType, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	if s, ok := raw.(string); ok && s == "" {
		switch t {
		case TypeString, TypeStringList, TypePixmap:
			return "", nil
		default:
			return nil, nil
		}
	}
	switch t {
	case TypeInt, TypeSerial:
		return toInt(raw)
	case TypeUint:
		n, err := toInt(raw)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("negative value %d: %w", n, ErrCoerce)
		}
		return n, nil
	case TypeDouble:
		return toFloat(raw)
	case TypeBool, TypeCheck, TypeUnlock:
		return toBool(raw)
	case TypeDate:
		tm, err := toTime(raw, dateLayouts)
		if err != nil {
			return nil, err
		}
		y, m, d := tm.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	case TypeTime:
		tm, err := toTime(raw, timeLayouts)
		if err != nil {
			return nil, err
		}
		return time.Date(0, 1, 1, tm.Hour(), tm.Minute(), tm.Second(), 0, time.UTC), nil
	case TypeTimestamp:
		tm, err := toTime(raw, timestampLayouts)
		if err != nil {
			return nil, err
		}
		return tm.UTC().Truncate(time.Second), nil
	default:
		return toString(raw), nil
	}
}

// Encode renders a canonical value in the form stored by the database:
// temporal values become text in the canonical layouts and booleans become
// 0 or 1.
func Encode(t FieldType, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		switch t {
		case TypeDate:
			return x.Format(DateLayout)
		case TypeTime:
			return x.Format(TimeLayout)
		default:
			return x.Format(TimestampLayout)
		}
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

// Compare orders two values of type t. Both operands are coerced first; nil
// sorts before every other value. Operands that cannot be coerced are
// compared by their text form so that the order stays total.
func Compare(t FieldType, a, b any) int {
	ca, errA := CoerceType(t, a)
	cb, errB := CoerceType(t, b)
	if errA != nil || errB != nil {
		return strings.Compare(toString(a), toString(b))
	}
	switch {
	case ca == nil && cb == nil:
		return 0
	case ca == nil:
		return -1
	case cb == nil:
		return 1
	}
	switch x := ca.(type) {
	case int64:
		y := cb.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case float64:
		y := cb.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case bool:
		y := cb.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case time.Time:
		return x.Compare(cb.(time.Time))
	case string:
		return strings.Compare(x, cb.(string))
	}
	return strings.Compare(toString(ca), toString(cb))
}

// Equal reports whether a and b are the same value of type t.
func Equal(t FieldType, a, b any) bool {
	return Compare(t, a, b) == 0
}

// IsNullValue reports whether v counts as NULL for a field of type t. For
// backward compatibility a zero on an unsigned field is treated as NULL when
// zeroIsNull is set.
func IsNullValue(t FieldType, v any, zeroIsNull bool) bool {
	c, err := CoerceType(t, v)
	if err != nil {
		return false
	}
	if c == nil {
		return true
	}
	if zeroIsNull && t == TypeUint {
		if n, ok := c.(int64); ok && n == 0 {
			return true
		}
	}
	return false
}

func toInt(raw any) (int64, error) {
	switch x := raw.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64: %w", x, ErrCoerce)
		}
		return int64(x), nil
	case float32:
		return toInt(float64(x))
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%v is not integral: %w", x, ErrCoerce)
		}
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if ferr != nil {
				return 0, fmt.Errorf("%q: %w", x, ErrCoerce)
			}
			return toInt(f)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%T: %w", raw, ErrCoerce)
}

func toFloat(raw any) (float64, error) {
	switch x := raw.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%q: %w", x, ErrCoerce)
		}
		return f, nil
	}
	n, err := toInt(raw)
	if err != nil {
		return 0, err
	}
	return float64(n), nil
}

func toBool(raw any) (bool, error) {
	switch x := raw.(type) {
	case bool:
		return x, nil
	case string:
		return parseBool(x)
	}
	n, err := toInt(raw)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "t", "yes", "y":
		return true, nil
	case "false", "0", "f", "no", "n":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean: %w", s, ErrCoerce)
}

func toTime(raw any, layouts []string) (time.Time, error) {
	switch x := raw.(type) {
	case time.Time:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		for _, l := range layouts {
			if tm, err := time.Parse(l, s); err == nil {
				return tm, nil
			}
		}
		return time.Time{}, fmt.Errorf("%q is not a date or time: %w", x, ErrCoerce)
	}
	return time.Time{}, fmt.Errorf("%T: %w", raw, ErrCoerce)
}

func toString(raw any) string {
	switch x := raw.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(TimestampLayout)
	}
	return fmt.Sprint(raw)
}
