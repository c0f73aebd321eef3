package common

// Environment variable keys
const (
	EnvConfigFile           = "CONFIG_FILE"
	EnvListenPort           = "PORT"
	EnvDataPath             = "DATA_PATH"
	EnvSchemaPath           = "SCHEMA_PATH"
	EnvStationsPath         = "STATIONS_PATH"
	EnvGridCell             = "GRID_CELL"
	EnvModelPath            = "MODEL_PATH"
	EnvScorerURL            = "SCORER_URL"
	EnvScorerTimeout        = "SCORER_TIMEOUT"
	EnvProbThreshold        = "PROB_THRESHOLD"
	EnvAuditMinSample       = "AUDIT_MIN_SAMPLE"
	EnvAuditExcludedGenders = "AUDIT_EXCLUDED_GENDERS"
	EnvLogLevel             = "LOG_LEVEL"
	EnvStreamPing           = "STREAM_PING_INTERVAL"
)

// Configuration defaults
const (
	DefaultListenPort      = 5000
	DefaultDataPath        = "data"
	DefaultModelPath       = "models/model.yaml"
	DefaultGridCell        = 0.5
	DefaultScorerTimeout   = "5s"
	DefaultProbThreshold   = 0.1
	DefaultAuditMinSample  = 30
	DefaultExcludedGenders = "Other"
	DefaultLogLevel        = "info"
	DefaultStreamPing      = "30s"
)

// Validation constants
const (
	MinListenPort = 1024
	MaxListenPort = 65535

	MinLatitude  = 48.0
	MaxLatitude  = 59.0
	MinLongitude = -10.0
	MaxLongitude = 3.0
)

// Search types accepted on the Type field.
const (
	TypePerson           = "Person search"
	TypePersonAndVehicle = "Person and Vehicle search"
	TypeVehicle          = "Vehicle search"
)

// Gender values.
const (
	GenderMale   = "Male"
	GenderFemale = "Female"
	GenderOther  = "Other"
)

var (
	SearchTypes = []string{TypePerson, TypePersonAndVehicle, TypeVehicle}
	Genders     = []string{GenderMale, GenderFemale, GenderOther}
	AgeRanges   = []string{"18-24", "over 34", "10-17", "25-34", "under 10"}
	Ethnicities = []string{"White", "Black", "Asian", "Other", "Mixed"}
)
