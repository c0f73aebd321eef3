package features

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrSchemaMismatch is returned when a value cannot be coerced to the dtype
// of its column, or a column has no known source.
var ErrSchemaMismatch = errors.New("schema mismatch")

// DType names the storage type of a feature column.
type DType string

const (
	DTypeFloat    DType = "float64"
	DTypeInt      DType = "int64"
	DTypeBool     DType = "bool"
	DTypeCategory DType = "category"
	DTypeString   DType = "string"
)

func (d DType) valid() bool {
	switch d {
	case DTypeFloat, DTypeInt, DTypeBool, DTypeCategory, DTypeString:
		return true
	}
	return false
}

// Column is one named, typed position in a feature row.
type Column struct {
	Name  string `yaml:"name" json:"name"`
	DType DType  `yaml:"dtype" json:"dtype"`
}

// Schema is the ordered column layout agreed with the scoring function.
type Schema struct {
	columns []Column
	index   map[string]int
}

// NewSchema validates cols and builds a schema from them.
func NewSchema(cols []Column) (Schema, error) {
	if len(cols) == 0 {
		return Schema{}, errors.New("schema has no columns")
	}

	index := make(map[string]int, len(cols))
	for i, c := range cols {
		if c.Name == "" {
			return Schema{}, fmt.Errorf("column %d has no name", i)
		}
		if !c.DType.valid() {
			return Schema{}, fmt.Errorf("column %s: unknown dtype %q", c.Name, c.DType)
		}
		if _, dup := index[c.Name]; dup {
			return Schema{}, fmt.Errorf("duplicate column %s", c.Name)
		}
		index[c.Name] = i
	}

	out := make([]Column, len(cols))
	copy(out, cols)
	return Schema{columns: out, index: index}, nil
}

// Columns returns a copy of the column layout.
func (s Schema) Columns() []Column {
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

// Names returns the column names in layout order.
func (s Schema) Names() []string {
	out := make([]string, len(s.columns))
	for i, c := range s.columns {
		out[i] = c.Name
	}
	return out
}

// Len returns the number of columns.
func (s Schema) Len() int { return len(s.columns) }

// Index returns the position of the named column or -1.
func (s Schema) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

type schemaFile struct {
	Columns []Column `yaml:"columns"`
}

// LoadSchema reads the column layout from a YAML file:
//
//	columns:
//	  - {name: lat, dtype: float64}
func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("failed to read schema %s: %w", path, err)
	}

	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Schema{}, fmt.Errorf("failed to parse schema: %w", err)
	}
	return NewSchema(f.Columns)
}

// DefaultSchema is the layout the shipped model was trained on.
func DefaultSchema() Schema {
	s, err := NewSchema([]Column{
		{ColType, DTypeCategory},
		{ColDate, DTypeString},
		{ColOperation, DTypeBool},
		{ColLat, DTypeFloat},
		{ColLong, DTypeFloat},
		{ColSex, DTypeCategory},
		{ColAge, DTypeCategory},
		{ColEthnicity, DTypeCategory},
		{ColLegislation, DTypeCategory},
		{ColSearchTarget, DTypeCategory},
		{ColStation, DTypeCategory},
		{ColHour, DTypeInt},
		{ColWeekday, DTypeInt},
		{ColDayCount, DTypeInt},
		{ColSqrtDayCount, DTypeFloat},
	})
	if err != nil {
		panic(err)
	}
	return s
}
