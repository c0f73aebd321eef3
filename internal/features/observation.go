package features

// Observation is a single stop-and-search event as received from a caller.
// Pointer fields are optional.
type Observation struct {
	ID             string   `json:"observation_id"`
	Type           string   `json:"Type"`
	Date           string   `json:"Date"`
	Operation      *bool    `json:"Part of a policing operation"`
	Latitude       *float64 `json:"Latitude"`
	Longitude      *float64 `json:"Longitude"`
	Gender         string   `json:"Gender"`
	AgeRange       string   `json:"Age range"`
	Ethnicity      string   `json:"Officer-defined ethnicity"`
	Legislation    string   `json:"Legislation"`
	ObjectOfSearch string   `json:"Object of search"`
	Station        string   `json:"station"`
}

// Source names usable as schema columns.
const (
	ColType         = "type"
	ColDate         = "date"
	ColOperation    = "operation"
	ColLat          = "lat"
	ColLong         = "long"
	ColGrid         = "grid"
	ColSex          = "sex"
	ColAge          = "age"
	ColEthnicity    = "ethnicity_officer"
	ColLegislation  = "legislation"
	ColSearchTarget = "search_target"
	ColStation      = "station"
	ColHour         = "hour"
	ColWeekday      = "weekday"
	ColDayCount     = "daycount"
	ColSqrtDayCount = "sqrt_daycount"
)
