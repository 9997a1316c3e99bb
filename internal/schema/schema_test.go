package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/recnav/pkg/types"
)

const sample = `
tables:
  - name: regions
    alias: Regions
    primary_key: code
    fields:
      - name: code
        type: string
        length: 8
      - name: name
        allow_null: true
  - name: customers
    detect_locks: true
    fields:
      - name: id
        type: serial
        primary_key: true
      - name: email
        type: string
        unique: true
      - name: region
        type: string
        relations:
          - table: regions
            field: code
            card: m1
      - name: region_name
        type: string
        editable: false
        associated:
          field: region
          filter_by: name
        relations:
          - table: regions
            field: name
            card: M1
            check_in: false
      - name: balance
        type: double
        part_integer: 10
        part_decimal: 2
        default: 0
      - name: active
        type: unlock
        default: true
  - name: orders_view
    query:
      from: orders JOIN customers ON orders.customer = customers.id
      table: orders
    primary_key: id
    fields:
      - name: id
        type: serial
      - name: email
        table: customers
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(sample))
	require.NoError(t, err)

	tables := p.Tables()
	require.Len(t, tables, 3)
	assert.Equal(t, "customers", tables[0].Name)
	assert.Equal(t, "orders_view", tables[1].Name)
	assert.Equal(t, "regions", tables[2].Name)

	regions, err := p.Table("REGIONS")
	require.NoError(t, err)
	assert.Equal(t, "Regions", regions.Label())
	assert.True(t, regions.PrimaryKeyField().PrimaryKey)
	name := regions.Field("name")
	require.NotNil(t, name)
	assert.Equal(t, types.TypeString, name.Type, "type defaults to string")
	assert.True(t, name.AllowNull)
	assert.True(t, name.Editable)
	assert.True(t, name.Visible)

	customers, err := p.Table("customers")
	require.NoError(t, err)
	assert.Equal(t, "id", customers.PrimaryKey, "primary key taken from the field flag")
	assert.True(t, customers.DetectLocks)

	region, err := p.Field("customers", "region")
	require.NoError(t, err)
	rel := region.RelationM1()
	require.NotNil(t, rel)
	assert.Equal(t, "regions", rel.ForeignTable)
	assert.Equal(t, types.CardManyToOne, rel.Card)
	assert.True(t, rel.CheckIn, "check_in defaults to true")

	assoc, err := p.Field("customers", "region_name")
	require.NoError(t, err)
	assert.False(t, assoc.Editable)
	require.NotNil(t, assoc.Associated)
	assert.Equal(t, "region", assoc.Associated.Field)
	assert.False(t, assoc.RelationM1().CheckIn)

	balance, err := p.Field("customers", "balance")
	require.NoError(t, err)
	assert.Equal(t, 2, balance.PartDecimal)
	assert.True(t, balance.HasDefault())

	view, err := p.Table("orders_view")
	require.NoError(t, err)
	assert.True(t, view.IsQuery())
	assert.Equal(t, "orders", view.WriteTable())
	assert.Contains(t, view.Source(), "JOIN")
	assert.False(t, view.Generated(view.Field("email")))
	assert.True(t, view.Generated(view.Field("id")))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{
			name: "missing primary key",
			doc:  "tables:\n  - name: t\n    fields:\n      - name: a\n",
			want: types.ErrNoPrimaryKey,
		},
		{
			name: "unknown type",
			doc:  "tables:\n  - name: t\n    primary_key: a\n    fields:\n      - name: a\n        type: blob\n",
			want: types.ErrUnknownFieldType,
		},
		{
			name: "duplicate field",
			doc:  "tables:\n  - name: t\n    primary_key: a\n    fields:\n      - name: a\n      - name: A\n",
			want: types.ErrDuplicateField,
		},
		{
			name: "bad cardinality",
			doc: "tables:\n  - name: t\n    primary_key: a\n    fields:\n      - name: a\n" +
				"        relations:\n          - table: u\n            field: b\n            card: MM\n",
			want: types.ErrInvalidRelation,
		},
		{
			name: "association without relation",
			doc: "tables:\n  - name: t\n    primary_key: a\n    fields:\n      - name: a\n      - name: b\n" +
				"        associated:\n          field: a\n          filter_by: x\n",
			want: types.ErrInvalidAssociation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("tables: [\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, p.Tables(), 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLookupMisses(t *testing.T) {
	p, err := NewProvider(&types.TableMetadata{
		Name:       "t",
		PrimaryKey: "id",
		Fields:     []*types.FieldMetadata{{Name: "id", Type: types.TypeInt}},
	})
	require.NoError(t, err)

	_, err = p.Table("nope")
	assert.ErrorIs(t, err, types.ErrTableNotFound)
	_, err = p.Field("t", "nope")
	assert.ErrorIs(t, err, types.ErrFieldNotFound)
	_, err = p.Field("nope", "id")
	assert.ErrorIs(t, err, types.ErrTableNotFound)

	assert.Error(t, p.Add(nil))
}
