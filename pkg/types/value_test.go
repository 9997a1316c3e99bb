package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStage(t *testing.T) {
	tests := []struct {
		name    string
		typ     FieldType
		raw     any
		want    any
		wantErr error
	}{
		{name: "bool from true", typ: TypeBool, raw: "true", want: true},
		{name: "bool from 0", typ: TypeBool, raw: "0", want: false},
		{name: "unlock from 1", typ: TypeUnlock, raw: "1", want: true},
		{name: "bool rejects garbage", typ: TypeBool, raw: "maybe", wantErr: ErrCoerce},
		{name: "int keeps raw string", typ: TypeInt, raw: "42", want: "42"},
		{name: "date keeps raw string", typ: TypeDate, raw: "2024-01-31", want: "2024-01-31"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Stage(tt.typ, tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceType(t *testing.T) {
	tests := []struct {
		name    string
		typ     FieldType
		raw     any
		want    any
		wantErr error
	}{
		{name: "int from string", typ: TypeInt, raw: "17", want: int64(17)},
		{name: "serial from int", typ: TypeSerial, raw: 3, want: int64(3)},
		{name: "empty numeric becomes nil", typ: TypeInt, raw: "", want: nil},
		{name: "empty double becomes nil", typ: TypeDouble, raw: "", want: nil},
		{name: "uint rejects negative", typ: TypeUint, raw: -1, wantErr: ErrCoerce},
		{name: "int rejects fraction", typ: TypeInt, raw: 1.5, wantErr: ErrCoerce},
		{name: "double from string", typ: TypeDouble, raw: "2.25", want: 2.25},
		{name: "string from int64", typ: TypeString, raw: int64(9), want: "9"},
		{name: "empty string stays", typ: TypeString, raw: "", want: ""},
		{name: "pixmap from bytes", typ: TypePixmap, raw: []byte("xpm"), want: "xpm"},
		{name: "bool from int64", typ: TypeBool, raw: int64(1), want: true},
		{name: "date from string", typ: TypeDate, raw: "2024-03-05", want: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{name: "date from day-first string", typ: TypeDate, raw: "05-03-2024", want: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{name: "time from string", typ: TypeTime, raw: "13:45:10", want: time.Date(0, 1, 1, 13, 45, 10, 0, time.UTC)},
		{name: "timestamp from space layout", typ: TypeTimestamp, raw: "2024-03-05 10:00:00", want: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)},
		{name: "bad date", typ: TypeDate, raw: "tomorrow", wantErr: ErrCoerce},
		{name: "nil stays nil", typ: TypeString, raw: nil, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CoerceType(tt.typ, tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceRoundsDecimals(t *testing.T) {
	f := &FieldMetadata{Name: "price", Type: TypeDouble, PartDecimal: 2}
	got, err := Coerce(f, "10.456")
	require.NoError(t, err)
	assert.Equal(t, 10.46, got)

	_, err = Coerce(f, "ten")
	assert.ErrorIs(t, err, ErrCoerce)
	assert.Contains(t, err.Error(), "price")
}

func TestEncode(t *testing.T) {
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-05", Encode(TypeDate, day))
	assert.Equal(t, "2024-03-05T00:00:00", Encode(TypeTimestamp, day))
	assert.Equal(t, int64(1), Encode(TypeBool, true))
	assert.Equal(t, int64(0), Encode(TypeUnlock, false))
	assert.Nil(t, Encode(TypeInt, nil))
	assert.Equal(t, "x", Encode(TypeString, "x"))
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		typ  FieldType
		a, b any
		want int
	}{
		{name: "nil first", typ: TypeString, a: nil, b: "a", want: -1},
		{name: "nil equal", typ: TypeInt, a: nil, b: "", want: 0},
		{name: "numeric not lexical", typ: TypeInt, a: "9", b: int64(10), want: -1},
		{name: "double", typ: TypeDouble, a: 2.5, b: "2.5", want: 0},
		{name: "bytewise strings", typ: TypeString, a: "Z", b: "a", want: -1},
		{name: "false before true", typ: TypeBool, a: true, b: false, want: 1},
		{name: "dates chronological", typ: TypeDate, a: "2024-01-02", b: "2023-12-31", want: 1},
		{name: "incoercible falls back to text", typ: TypeInt, a: "abc", b: "abd", want: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.typ, tt.a, tt.b))
		})
	}
}

func TestIsNullValue(t *testing.T) {
	assert.True(t, IsNullValue(TypeString, nil, false))
	assert.True(t, IsNullValue(TypeInt, "", false))
	assert.False(t, IsNullValue(TypeUint, int64(0), false))
	assert.True(t, IsNullValue(TypeUint, int64(0), true))
	assert.False(t, IsNullValue(TypeInt, int64(0), true))
}
