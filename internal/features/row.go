package features

import (
	"fmt"
	"math"
	"strconv"
)

// Value is one cell of a feature row. Valid is false for missing values.
type Value struct {
	DType DType
	Valid bool
	Float float64
	Int   int64
	Bool  bool
	Str   string
}

// Interface returns the Go value of v, or nil when missing.
func (v Value) Interface() any {
	if !v.Valid {
		return nil
	}
	switch v.DType {
	case DTypeFloat:
		return v.Float
	case DTypeInt:
		return v.Int
	case DTypeBool:
		return v.Bool
	default:
		return v.Str
	}
}

// Number returns v as a float64 for numeric and boolean dtypes.
func (v Value) Number() (float64, bool) {
	if !v.Valid {
		return 0, false
	}
	switch v.DType {
	case DTypeFloat:
		return v.Float, true
	case DTypeInt:
		return float64(v.Int), true
	case DTypeBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func (v Value) String() string {
	if !v.Valid {
		return "<null>"
	}
	return fmt.Sprint(v.Interface())
}

// Row is a feature vector laid out according to its schema.
type Row struct {
	schema     Schema
	values     []Value
	imputed    bool
	unresolved bool
}

// Schema returns the layout the row was built for.
func (r Row) Schema() Schema { return r.schema }
func (r Row) Len() int       { return len(r.values) }

// At returns the i-th cell. It panics when i is out of range.
func (r Row) At(i int) Value { return r.values[i] }

// Get returns the value of the named column.
func (r Row) Get(name string) (Value, bool) {
	i := r.schema.Index(name)
	if i < 0 {
		return Value{}, false
	}
	return r.values[i], true
}

// Interfaces returns the row as plain Go values, nil for missing cells.
func (r Row) Interfaces() []any {
	out := make([]any, len(r.values))
	for i, v := range r.values {
		out[i] = v.Interface()
	}
	return out
}

// Imputed reports whether any coordinate came from the station table.
func (r Row) Imputed() bool { return r.imputed }

// Unresolved reports whether a missing coordinate could not be imputed.
func (r Row) Unresolved() bool { return r.unresolved }

// Temporal re-derives the temporal features from the row's date column.
func (r Row) Temporal() (Temporal, error) {
	v, ok := r.Get(ColDate)
	if !ok || !v.Valid {
		return Temporal{}, fmt.Errorf("%w: row has no %s column", ErrSchemaMismatch, ColDate)
	}
	ts, err := ParseTimestamp(v.Str)
	if err != nil {
		return Temporal{}, err
	}
	return ExtractTemporal(ts), nil
}

// Reconstructor turns observations into feature rows.
type Reconstructor struct {
	schema   Schema
	imputer  *Imputer
	gridCell float64
}

// NewReconstructor returns a Reconstructor that lays rows out by schema and
// fills missing coordinates with imputer. The grid column, when the schema
// has one, uses DefaultGridCell.
func NewReconstructor(schema Schema, imputer *Imputer) *Reconstructor {
	return &Reconstructor{schema: schema, imputer: imputer, gridCell: DefaultGridCell}
}

// WithGridCell sets the side of the grid cells in degrees.
func (rc *Reconstructor) WithGridCell(cell float64) *Reconstructor {
	if cell > 0 {
		rc.gridCell = cell
	}
	return rc
}

// LoadReconstructor reads the schema and station table from YAML files. An
// empty path selects the built-in table and a zero gridCell DefaultGridCell.
func LoadReconstructor(schemaPath, stationsPath string, gridCell float64) (*Reconstructor, error) {
	schema := DefaultSchema()
	if schemaPath != "" {
		s, err := LoadSchema(schemaPath)
		if err != nil {
			return nil, err
		}
		schema = s
	}

	stations := DefaultStationTable()
	if stationsPath != "" {
		t, err := LoadStationTable(stationsPath)
		if err != nil {
			return nil, err
		}
		stations = t
	}
	return NewReconstructor(schema, NewImputer(stations)).WithGridCell(gridCell), nil
}

// Schema returns the layout of the rows Build produces.
func (rc *Reconstructor) Schema() Schema { return rc.schema }

// Stations returns the number of stations the imputer knows.
func (rc *Reconstructor) Stations() int { return rc.imputer.table.Len() }

// Build produces the feature row of obs. It fails with ErrInvalidTimestamp
// when the date cannot be parsed and ErrSchemaMismatch when a column cannot
// be filled with a value of its dtype.
func (rc *Reconstructor) Build(obs Observation) (Row, error) {
	ts, err := ParseTimestamp(obs.Date)
	if err != nil {
		return Row{}, err
	}
	tmp := ExtractTemporal(ts)

	coords := rc.imputer.Impute(CoordinateInput{
		Station: obs.Station,
		Lat:     obs.Latitude,
		Long:    obs.Longitude,
	})

	src := map[string]any{
		ColType:         obs.Type,
		ColDate:         obs.Date,
		ColOperation:    obs.Operation,
		ColLat:          coords.Lat,
		ColLong:         coords.Long,
		ColGrid:         GridCell(coords.Lat, coords.Long, rc.gridCell),
		ColSex:          obs.Gender,
		ColAge:          obs.AgeRange,
		ColEthnicity:    obs.Ethnicity,
		ColLegislation:  obs.Legislation,
		ColSearchTarget: obs.ObjectOfSearch,
		ColStation:      obs.Station,
		ColHour:         tmp.Hour,
		ColWeekday:      tmp.Weekday,
		ColDayCount:     tmp.DayCount,
		ColSqrtDayCount: tmp.SqrtDayCount,
	}

	values := make([]Value, rc.schema.Len())
	for i, col := range rc.schema.columns {
		raw, ok := src[col.Name]
		if !ok {
			return Row{}, fmt.Errorf("%w: column %s has no source field", ErrSchemaMismatch, col.Name)
		}
		v, err := Coerce(raw, col.DType)
		if err != nil {
			return Row{}, fmt.Errorf("column %s: %w", col.Name, err)
		}
		values[i] = v
	}

	return Row{
		schema:     rc.schema,
		values:     values,
		imputed:    coords.Imputed,
		unresolved: coords.Unresolved,
	}, nil
}

// Coerce converts raw to a value of dtype dt. Nil and nil pointers become
// missing values.
func Coerce(raw any, dt DType) (Value, error) {
	raw = deref(raw)
	if raw == nil {
		return Value{DType: dt}, nil
	}

	v := Value{DType: dt, Valid: true}
	switch dt {
	case DTypeFloat:
		f, err := toFloat(raw)
		if err != nil {
			return Value{}, err
		}
		if math.IsNaN(f) {
			return Value{DType: dt}, nil
		}
		v.Float = f
	case DTypeInt:
		n, err := toInt(raw)
		if err != nil {
			return Value{}, err
		}
		v.Int = n
	case DTypeBool:
		b, err := toBool(raw)
		if err != nil {
			return Value{}, err
		}
		v.Bool = b
	case DTypeCategory, DTypeString:
		v.Str = toString(raw)
	default:
		return Value{}, fmt.Errorf("%w: unknown dtype %q", ErrSchemaMismatch, dt)
	}
	return v, nil
}

func deref(raw any) any {
	switch x := raw.(type) {
	case *float64:
		if x == nil {
			return nil
		}
		return *x
	case *bool:
		if x == nil {
			return nil
		}
		return *x
	case *string:
		if x == nil {
			return nil
		}
		return *x
	}
	return raw
}

func toFloat(raw any) (float64, error) {
	switch x := raw.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a float", ErrSchemaMismatch, x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: cannot convert %T to float64", ErrSchemaMismatch, raw)
}

func toInt(raw any) (int64, error) {
	switch x := raw.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return 0, fmt.Errorf("%w: %v is not an integer", ErrSchemaMismatch, x)
		}
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrSchemaMismatch, x)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: cannot convert %T to int64", ErrSchemaMismatch, raw)
}

func toBool(raw any) (bool, error) {
	switch x := raw.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return false, fmt.Errorf("%w: %q is not a bool", ErrSchemaMismatch, x)
		}
		return b, nil
	case int:
		if x == 0 || x == 1 {
			return x == 1, nil
		}
	case float64:
		if x == 0 || x == 1 {
			return x == 1, nil
		}
	}
	return false, fmt.Errorf("%w: cannot convert %v to bool", ErrSchemaMismatch, raw)
}

func toString(raw any) string {
	switch x := raw.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(raw)
}
