// Package schema loads table metadata from YAML schema files and serves it
// through the types.MetadataProvider interface.
//
// A schema file lists tables under a top-level "tables" key:
//
//	tables:
//	  - name: customers
//	    primary_key: id
//	    fields:
//	      - name: id
//	        type: serial
//	      - name: region
//	        type: string
//	        relations:
//	          - table: regions
//	            field: code
//	            card: M1
package schema

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/recnav/pkg/types"
)

type fileDoc struct {
	Tables []tableDoc `yaml:"tables"`
}

type tableDoc struct {
	Name        string     `yaml:"name"`
	Alias       string     `yaml:"alias"`
	PrimaryKey  string     `yaml:"primary_key"`
	DetectLocks bool       `yaml:"detect_locks"`
	Query       *queryDoc  `yaml:"query"`
	Fields      []fieldDoc `yaml:"fields"`
}

type queryDoc struct {
	From  string `yaml:"from"`
	Table string `yaml:"table"`
}

type fieldDoc struct {
	Name             string         `yaml:"name"`
	Alias            string         `yaml:"alias"`
	Type             string         `yaml:"type"`
	Length           int            `yaml:"length"`
	PartInteger      int            `yaml:"part_integer"`
	PartDecimal      int            `yaml:"part_decimal"`
	AllowNull        bool           `yaml:"allow_null"`
	Unique           bool           `yaml:"unique"`
	PrimaryKey       bool           `yaml:"primary_key"`
	Editable         *bool          `yaml:"editable"`
	Visible          *bool          `yaml:"visible"`
	Calculated       bool           `yaml:"calculated"`
	OutOfTransaction bool           `yaml:"out_of_transaction"`
	Default          any            `yaml:"default"`
	Table            string         `yaml:"table"`
	CompoundKey      string         `yaml:"compound_key"`
	Relations        []relationDoc  `yaml:"relations"`
	Associated       *associatedDoc `yaml:"associated"`
}

type relationDoc struct {
	Table         string `yaml:"table"`
	Field         string `yaml:"field"`
	Card          string `yaml:"card"`
	DeleteCascade bool   `yaml:"delete_cascade"`
	CheckIn       *bool  `yaml:"check_in"`
}

type associatedDoc struct {
	Field    string `yaml:"field"`
	FilterBy string `yaml:"filter_by"`
}

// Provider serves table metadata from an in-memory cache. It is safe for
// concurrent use.
type Provider struct {
	mu     sync.RWMutex
	tables map[string]*types.TableMetadata
}

// NewProvider returns a provider holding the given tables. Each table is
// validated; the first invalid one aborts construction.
func NewProvider(tables ...*types.TableMetadata) (*Provider, error) {
	p := &Provider{tables: make(map[string]*types.TableMetadata, len(tables))}
	for _, t := range tables {
		if err := p.Add(t); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Load reads and parses the schema file at path.
func Load(path string) (*Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading schema %s", path)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "schema %s", path)
	}
	return p, nil
}

// Parse decodes a YAML schema document.
func Parse(data []byte) (*Provider, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding schema")
	}
	tables := make([]*types.TableMetadata, 0, len(doc.Tables))
	for _, td := range doc.Tables {
		tables = append(tables, td.metadata())
	}
	return NewProvider(tables...)
}

// Add validates m and stores it, replacing any table with the same name.
func (p *Provider) Add(m *types.TableMetadata) error {
	if m == nil || m.Name == "" {
		return errors.Wrap(types.ErrTableNotFound, "table without a name")
	}
	if err := m.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tables[strings.ToLower(m.Name)] = m
	return nil
}

// Table returns the metadata of the named table.
func (p *Provider) Table(name string) (*types.TableMetadata, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.tables[strings.ToLower(name)]
	if !ok {
		return nil, errors.Wrapf(types.ErrTableNotFound, "%q", name)
	}
	return m, nil
}

// Field returns the metadata of table.name.
func (p *Provider) Field(table, name string) (*types.FieldMetadata, error) {
	m, err := p.Table(table)
	if err != nil {
		return nil, err
	}
	f := m.Field(name)
	if f == nil {
		return nil, errors.Wrapf(types.ErrFieldNotFound, "%s.%s", table, name)
	}
	return f, nil
}

// Tables returns the metadata of every table sorted by name.
func (p *Provider) Tables() []*types.TableMetadata {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*types.TableMetadata, 0, len(p.tables))
	for _, m := range p.tables {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (td tableDoc) metadata() *types.TableMetadata {
	m := &types.TableMetadata{
		Name:        td.Name,
		Alias:       td.Alias,
		PrimaryKey:  td.PrimaryKey,
		DetectLocks: td.DetectLocks,
	}
	if td.Query != nil {
		m.Query = &types.QuerySource{From: td.Query.From, Table: td.Query.Table}
	}
	for _, fd := range td.Fields {
		f := fd.metadata()
		if f.PrimaryKey && m.PrimaryKey == "" {
			m.PrimaryKey = f.Name
		}
		m.Fields = append(m.Fields, f)
	}
	if pk := m.PrimaryKeyField(); pk != nil {
		pk.PrimaryKey = true
	}
	return m
}

func (fd fieldDoc) metadata() *types.FieldMetadata {
	f := &types.FieldMetadata{
		Name:             fd.Name,
		Alias:            fd.Alias,
		Type:             types.FieldType(strings.ToLower(fd.Type)),
		Length:           fd.Length,
		PartInteger:      fd.PartInteger,
		PartDecimal:      fd.PartDecimal,
		AllowNull:        fd.AllowNull,
		Unique:           fd.Unique,
		PrimaryKey:       fd.PrimaryKey,
		Editable:         boolOr(fd.Editable, true),
		Visible:          boolOr(fd.Visible, true),
		Calculated:       fd.Calculated,
		OutOfTransaction: fd.OutOfTransaction,
		Default:          fd.Default,
		Table:            fd.Table,
		CompoundKey:      fd.CompoundKey,
	}
	if f.Type == "" {
		f.Type = types.TypeString
	}
	for _, rd := range fd.Relations {
		f.Relations = append(f.Relations, types.Relation{
			Field:         fd.Name,
			ForeignTable:  rd.Table,
			ForeignField:  rd.Field,
			Card:          types.Cardinality(strings.ToUpper(rd.Card)),
			DeleteCascade: rd.DeleteCascade,
			CheckIn:       boolOr(rd.CheckIn, true),
		})
	}
	if fd.Associated != nil {
		f.Associated = &types.Association{Field: fd.Associated.Field, FilterBy: fd.Associated.FilterBy}
	}
	return f
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
