package features

import (
	"math"
	"strconv"

	"search-authorizer/internal/common"
)

// DefaultGridCell is the side of a grid cell in degrees.
const DefaultGridCell = 0.5

// CoordinateInput is one record handed to the Imputer. Nil pointers mark
// missing coordinates.
type CoordinateInput struct {
	Station string
	Lat     *float64
	Long    *float64
}

// Coordinates is the imputer output. Lat or Long stay nil when the value was
// missing and the station could not be resolved.
type Coordinates struct {
	Lat        *float64
	Long       *float64
	Imputed    bool // at least one value came from the station table
	Unresolved bool // a missing value could not be filled
}

// Imputer fills missing coordinates with per-station means.
type Imputer struct {
	table StationTable
}

// NewImputer returns an Imputer backed by the per-station coordinate means
// in table.
func NewImputer(table StationTable) *Imputer {
	return &Imputer{table: table}
}

// Impute returns in with missing coordinates replaced by the station means.
// Present values are never modified.
func (im *Imputer) Impute(in CoordinateInput) Coordinates {
	var out Coordinates
	if in.Lat != nil && in.Long != nil {
		out.Lat, out.Long = floatPtr(*in.Lat), floatPtr(*in.Long)
		return out
	}

	mean, known := im.table.Lookup(in.Station)

	switch {
	case in.Lat != nil:
		out.Lat = floatPtr(*in.Lat)
	case known:
		out.Lat = floatPtr(mean.Lat)
		out.Imputed = true
	default:
		out.Unresolved = true
	}

	switch {
	case in.Long != nil:
		out.Long = floatPtr(*in.Long)
	case known:
		out.Long = floatPtr(mean.Long)
		out.Imputed = true
	default:
		out.Unresolved = true
	}

	return out
}

// ImputeAll applies Impute to every input, preserving order.
func (im *Imputer) ImputeAll(in []CoordinateInput) []Coordinates {
	out := make([]Coordinates, len(in))
	for i, c := range in {
		out[i] = im.Impute(c)
	}
	return out
}

// GridCell names the square of side cell degrees that holds the point as
// "row,col", counted from the south-west corner of the accepted coordinate
// range. It returns nil when either coordinate is missing.
func GridCell(lat, long *float64, cell float64) *string {
	if lat == nil || long == nil || cell <= 0 {
		return nil
	}
	row := int(math.Floor((*lat - common.MinLatitude) / cell))
	col := int(math.Floor((*long - common.MinLongitude) / cell))
	name := strconv.Itoa(row) + "," + strconv.Itoa(col)
	return &name
}

func floatPtr(v float64) *float64 { return &v }
