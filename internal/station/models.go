package station

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Element codes used by the snapshot job.
const (
	ElementSnowDepth   = "SNWD"
	ElementSWE         = "WTEQ"
	ElementTemperature = "TOBS"
)

// MissingLabel is how a missing observation is rendered in tables.
const MissingLabel = "NA"

// Date and timestamp layouts exchanged with the station service and written to
// the persisted snapshot.
const (
	DateLayout       = "2006-01-02"
	DateTimeLayout   = "2006-01-02 15:04:05"
	HourLayout       = "2006-01-02 15:04"
	CapturedAtLayout = DateTimeLayout
)

// Measurement is a single observed value. A Measurement with Valid == false is
// the "no observation" marker; it is never the same thing as zero.
type Measurement struct {
	Value float64
	Valid bool
}

// Observed returns a valid measurement.
func Observed(v float64) Measurement {
	return Measurement{Value: v, Valid: true}
}

// Missing returns the no-observation marker.
func Missing() Measurement {
	return Measurement{}
}

// ParseMeasurement converts a raw service value. Empty strings are missing.
func ParseMeasurement(raw string) (Measurement, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, MissingLabel) {
		return Missing(), nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Missing(), err
	}
	return Observed(v), nil
}

// String renders the value for tables; missing values render as "NA".
func (m Measurement) String() string {
	if !m.Valid {
		return MissingLabel
	}
	return strconv.FormatFloat(m.Value, 'f', -1, 64)
}

func (m Measurement) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

func (m *Measurement) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = Missing()
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*m = Observed(v)
	return nil
}

// Metadata describes one station as reported by the station service.
type Metadata struct {
	Triplet       string  `json:"triplet"`
	Name          string  `json:"name"`
	ElevationFeet int     `json:"elevationFeet"`
	Latitude      float64 `json:"latitude,omitempty"`
	Longitude     float64 `json:"longitude,omitempty"`
	CountyName    string  `json:"countyName,omitempty"`
	StateCode     string  `json:"stateCode,omitempty"`
	NetworkCode   string  `json:"networkCode,omitempty"`
}

// SearchFilters are the predicates accepted by the station search.
// Empty fields are not sent.
type SearchFilters struct {
	StateCodes   []string `json:"stateCodes" validate:"dive,len=2,alpha"`
	NetworkCodes []string `json:"networkCodes" validate:"dive,required"`
	CountyNames  []string `json:"countyNames" validate:"dive,required"`
	MinElevation *float64 `json:"minElevation,omitempty"`
	// LogicalAnd combines the predicates with AND instead of OR.
	LogicalAnd bool `json:"logicalAnd"`
}

// RawDailyResponse is a daily getData record: a begin/end range and a value per day.
type RawDailyResponse struct {
	Triplet   string
	BeginDate string
	EndDate   string
	Values    []Measurement
}

// RawHourlyValue is one hourly record. Timestamp is empty when the service
// reported none.
type RawHourlyValue struct {
	Timestamp string
	Value     Measurement
}

// RawHourlyResponse is a getHourlyData record in service order.
type RawHourlyResponse struct {
	Triplet string
	Values  []RawHourlyValue
}

// Series is a normalized station series: one value per date, same length.
type Series struct {
	Dates  []time.Time   `json:"dates"`
	Values []Measurement `json:"values"`
}

// Len returns the number of points in the series.
func (s Series) Len() int {
	return len(s.Dates)
}

// Last returns the final value of the series, or the missing marker when the
// series is empty.
func (s Series) Last() Measurement {
	if len(s.Values) == 0 {
		return Missing()
	}
	return s.Values[len(s.Values)-1]
}

// SummaryRow is one site in the snapshot table.
type SummaryRow struct {
	Triplet     string      `json:"triplet"`
	Name        string      `json:"name"`
	Elevation   *int        `json:"elevation"`
	Depth       Measurement `json:"depth"`
	SWE         Measurement `json:"swe"`
	Temperature Measurement `json:"temperature"`
}

// ElevationString renders the elevation for tables.
func (r SummaryRow) ElevationString() string {
	if r.Elevation == nil {
		return MissingLabel
	}
	return strconv.Itoa(*r.Elevation)
}

// Snapshot is the latest per-site summary table and the time it was captured.
type Snapshot struct {
	CapturedAt time.Time    `json:"capturedAt"`
	Rows       []SummaryRow `json:"rows"`
}

// SeasonSeries is one winter's daily series aligned to the season-day index.
type SeasonSeries struct {
	Year    int    `json:"year"`
	Element string `json:"element"`
	Series
}
