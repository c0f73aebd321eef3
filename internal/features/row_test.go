package features

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kentObservation() Observation {
	return Observation{
		ID:             "kent-1",
		Type:           "Vehicle search",
		Date:           "2020-07-01T21:00:00+00:00",
		Gender:         "Male",
		AgeRange:       "18-24",
		Ethnicity:      "White",
		Legislation:    "Misuse of Drugs Act 1971 (section 23)",
		ObjectOfSearch: "Controlled drugs",
		Station:        "kent",
	}
}

func TestReconstructor_KentImputation(t *testing.T) {
	rc := NewReconstructor(DefaultSchema(), NewImputer(DefaultStationTable()))

	row, err := rc.Build(kentObservation())
	require.NoError(t, err)

	lat, ok := row.Get(ColLat)
	require.True(t, ok)
	assert.True(t, lat.Valid)
	assert.Equal(t, 51.374468082246494, lat.Float)

	long, ok := row.Get(ColLong)
	require.True(t, ok)
	assert.Equal(t, 0.5604151309456336, long.Float)

	assert.True(t, row.Imputed())
	assert.False(t, row.Unresolved())

	op, _ := row.Get(ColOperation)
	assert.False(t, op.Valid, "missing operation flag stays missing")
}

func TestReconstructor_ColumnOrderAndTypes(t *testing.T) {
	schema := DefaultSchema()
	rc := NewReconstructor(schema, NewImputer(DefaultStationTable()))

	row, err := rc.Build(kentObservation())
	require.NoError(t, err)
	require.Equal(t, schema.Len(), row.Len())

	for i, col := range schema.Columns() {
		assert.Equal(t, col.DType, row.At(i).DType, "column %s", col.Name)
	}

	hour, _ := row.Get(ColHour)
	assert.Equal(t, int64(21), hour.Int)
	weekday, _ := row.Get(ColWeekday)
	assert.Equal(t, int64(2), weekday.Int)
	days, _ := row.Get(ColDayCount)
	assert.Equal(t, int64(943), days.Int)

	station, _ := row.Get(ColStation)
	assert.Equal(t, "kent", station.Str)

	assert.Len(t, row.Interfaces(), schema.Len())
}

func TestReconstructor_CustomSchemaOrder(t *testing.T) {
	schema, err := NewSchema([]Column{
		{ColWeekday, DTypeFloat},
		{ColStation, DTypeCategory},
		{ColOperation, DTypeBool},
	})
	require.NoError(t, err)

	obs := kentObservation()
	op := true
	obs.Operation = &op

	row, err := NewReconstructor(schema, NewImputer(DefaultStationTable())).Build(obs)
	require.NoError(t, err)

	assert.Equal(t, []any{2.0, "kent", true}, row.Interfaces())
}

func TestReconstructor_SchemaMismatch(t *testing.T) {
	testCases := []struct {
		name string
		cols []Column
	}{
		{"category into float", []Column{{ColStation, DTypeFloat}}},
		{"free text into int", []Column{{ColLegislation, DTypeInt}}},
		{"unknown source column", []Column{{"self_defined_ethnicity", DTypeCategory}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			schema, err := NewSchema(tc.cols)
			require.NoError(t, err)

			_, err = NewReconstructor(schema, NewImputer(DefaultStationTable())).Build(kentObservation())
			assert.True(t, errors.Is(err, ErrSchemaMismatch), "got %v", err)
		})
	}
}

func TestReconstructor_InvalidDate(t *testing.T) {
	obs := kentObservation()
	obs.Date = "not a date"

	_, err := NewReconstructor(DefaultSchema(), NewImputer(DefaultStationTable())).Build(obs)
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
}

func TestReconstructor_UnknownStationLeavesCoordinatesMissing(t *testing.T) {
	obs := kentObservation()
	obs.Station = "atlantis"

	row, err := NewReconstructor(DefaultSchema(), NewImputer(DefaultStationTable())).Build(obs)
	require.NoError(t, err)

	lat, _ := row.Get(ColLat)
	assert.False(t, lat.Valid)
	assert.True(t, row.Unresolved())
}

func TestReconstructor_NegativeDayCountIsNull(t *testing.T) {
	obs := kentObservation()
	obs.Date = "2017-06-01T10:00:00Z"

	row, err := NewReconstructor(DefaultSchema(), NewImputer(DefaultStationTable())).Build(obs)
	require.NoError(t, err)

	sq, _ := row.Get(ColSqrtDayCount)
	assert.False(t, sq.Valid)
	days, _ := row.Get(ColDayCount)
	assert.Less(t, days.Int, int64(0))
}

func TestRow_TemporalRoundTrip(t *testing.T) {
	row, err := NewReconstructor(DefaultSchema(), NewImputer(DefaultStationTable())).Build(kentObservation())
	require.NoError(t, err)

	first, err := row.Temporal()
	require.NoError(t, err)
	second, err := row.Temporal()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	hour, _ := row.Get(ColHour)
	assert.Equal(t, int64(first.Hour), hour.Int)
	days, _ := row.Get(ColDayCount)
	assert.Equal(t, int64(first.DayCount), days.Int)
	sq, _ := row.Get(ColSqrtDayCount)
	assert.Equal(t, *first.SqrtDayCount, sq.Float)
}

func TestCoerce(t *testing.T) {
	f := 1.5
	testCases := []struct {
		name    string
		raw     any
		dt      DType
		want    any
		wantErr bool
	}{
		{"nil is missing", nil, DTypeFloat, nil, false},
		{"nil pointer is missing", (*float64)(nil), DTypeFloat, nil, false},
		{"pointer dereferenced", &f, DTypeFloat, 1.5, false},
		{"numeric string to float", "2.25", DTypeFloat, 2.25, false},
		{"int to float", 3, DTypeFloat, 3.0, false},
		{"integral float to int", 4.0, DTypeInt, int64(4), false},
		{"fractional float to int", 4.5, DTypeInt, nil, true},
		{"bool string", "true", DTypeBool, true, false},
		{"bad bool", "maybe", DTypeBool, nil, true},
		{"number to category", 7, DTypeCategory, "7", false},
		{"bool to string", false, DTypeString, "false", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := Coerce(tc.raw, tc.dt)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrSchemaMismatch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, v.Interface())
		})
	}
}

func TestReconstructor_GridColumn(t *testing.T) {
	schema, err := NewSchema([]Column{
		{ColStation, DTypeCategory},
		{ColGrid, DTypeCategory},
	})
	require.NoError(t, err)
	imputer := NewImputer(DefaultStationTable())

	row, err := NewReconstructor(schema, imputer).Build(kentObservation())
	require.NoError(t, err)
	assert.Equal(t, []any{"kent", "6,21"}, row.Interfaces())

	row, err = NewReconstructor(schema, imputer).WithGridCell(1).Build(kentObservation())
	require.NoError(t, err)
	assert.Equal(t, []any{"kent", "3,10"}, row.Interfaces())

	obs := kentObservation()
	obs.Station = "atlantis"
	row, err = NewReconstructor(schema, imputer).Build(obs)
	require.NoError(t, err)
	grid, _ := row.Get(ColGrid)
	assert.False(t, grid.Valid, "no grid cell without coordinates")
}
