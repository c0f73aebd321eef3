package features

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// StationCoordinates holds the mean position of all historical searches
// recorded by one police station.
type StationCoordinates struct {
	Lat  float64 `yaml:"lat" json:"lat"`
	Long float64 `yaml:"long" json:"long"`
}

// StationTable is an immutable station -> mean coordinate mapping. The zero
// value is an empty table.
type StationTable struct {
	coords map[string]StationCoordinates
}

// NewStationTable copies m into a new table.
func NewStationTable(m map[string]StationCoordinates) StationTable {
	coords := make(map[string]StationCoordinates, len(m))
	for station, c := range m {
		coords[station] = c
	}
	return StationTable{coords: coords}
}

// Lookup returns the mean coordinates of station.
func (t StationTable) Lookup(station string) (StationCoordinates, bool) {
	c, ok := t.coords[station]
	return c, ok
}

func (t StationTable) Len() int { return len(t.coords) }

// Stations returns the known station identifiers in lexical order.
func (t StationTable) Stations() []string {
	out := make([]string, 0, len(t.coords))
	for s := range t.coords {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// LoadStationTable reads a YAML document of the form
//
//	kent:
//	  lat: 51.37
//	  long: 0.56
func LoadStationTable(path string) (StationTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StationTable{}, fmt.Errorf("failed to read station table %s: %w", path, err)
	}

	var m map[string]StationCoordinates
	if err := yaml.Unmarshal(data, &m); err != nil {
		return StationTable{}, fmt.Errorf("failed to parse station table: %w", err)
	}
	if len(m) == 0 {
		return StationTable{}, fmt.Errorf("station table %s is empty", path)
	}
	return NewStationTable(m), nil
}

// DefaultStationTable returns the mean coordinates derived from the
// 2017-2020 training data.
func DefaultStationTable() StationTable {
	return NewStationTable(defaultStations)
}

var defaultStations = map[string]StationCoordinates{
	"avon-and-somerset":  {51.33301534853675, -2.6959433559473505},
	"bedfordshire":       {51.99520005035238, -0.4249400266868079},
	"btp":                {52.04498213727202, -0.7715286391456624},
	"cambridgeshire":     {52.401295645642094, -0.04725813646789005},
	"cheshire":           {53.27243561712015, -2.6387643686903965},
	"city-of-london":     {51.515283227020134, -0.0896220290722526},
	"cleveland":          {54.581267715107955, -1.2457966712230222},
	"cumbria":            {54.53797709350655, -3.136673164935065},
	"derbyshire":         {53.01032026513161, -1.4773875202376467},
	"devon-and-cornwall": {50.53555175443321, -4.066873729177866},
	"dorset":             {50.71701186632197, -2.0917077684638166},
	"durham":             {54.68330272246215, -1.594638016918649},
	"dyfed-powys":        {52.06194421428571, -4.084971542857141},
	"essex":              {51.72007429847026, 0.538986324416861},
	"gloucestershire":    {51.84977152248181, -2.188883543046356},
	"greater-manchester": {53.47859898644197, -2.248505129745514},
	"gwent":              {51.60761234256556, -3.0290781326530665},
	"hampshire":          {50.93652569163378, -1.1898053439685032},
	"hertfordshire":      {51.76037049985289, -0.2575871883632099},
	"humberside":         {53.48481868431375, -0.4107479908496726},
	"kent":               {51.374468082246494, 0.5604151309456336},
	"lancashire":         {53.78500562755108, -2.7154059084062276},
	"leicestershire":     {52.65751631679406, -1.1627258218159886},
	"lincolnshire":       {53.10683554523824, -0.35191183908730256},
	"merseyside":         {53.436241618732225, -2.9378837346396676},
	"metropolitan":       {52.515362957924715, -1.3420896304429029},
	"norfolk":            {52.64006103976567, 1.1136251113436533},
	"north-wales":        {53.17569351116731, -3.5303938708385822},
	"north-yorkshire":    {54.041700087409595, -1.1725005511775388},
	"northamptonshire":   {52.29232862938288, -0.8297320040567943},
	"northumbria":        {54.98786282962144, -1.5853070855440516},
	"nottinghamshire":    {52.98302869082842, -1.1530782153432024},
	"south-yorkshire":    {52.515362957924715, -1.3420896304429029},
	"staffordshire":      {52.87808759739836, -2.0221622171637286},
	"suffolk":            {52.139193867362344, 1.0365897135618494},
	"surrey":             {51.32796300224013, -0.4413027473143175},
	"sussex":             {50.90980622282589, -0.16365491495299755},
	"thames-valley":      {51.69650944703028, -0.9660928864365886},
	"warwickshire":       {52.36734886374945, -1.4958054560654521},
	"west-mercia":        {52.413887931124385, -2.3846032813072715},
	"west-yorkshire":     {53.77299550808837, -1.6477957410954118},
	"wiltshire":          {51.37899916477772, -1.9166443269398472},
}
