package station

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// Duration selects the series granularity.
type Duration string

const (
	DurationDaily  Duration = "DAILY"
	DurationHourly Duration = "HOURLY"
)

var tripletPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+:[A-Z]{2}:[A-Z]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("triplet", func(fl validator.FieldLevel) bool {
		return ValidTriplet(fl.Field().String())
	})
	return v
}

// ValidTriplet reports whether s looks like stationID:stateCode:networkCode.
func ValidTriplet(s string) bool {
	return tripletPattern.MatchString(s)
}

// StationQuery identifies one series request. Build it with NewDailyQuery or
// NewHourlyQuery so it is validated before any remote call.
type StationQuery struct {
	Triplet   string    `validate:"required,triplet"`
	Element   string    `validate:"required,uppercase,alphanum,max=8"`
	Ordinal   int       `validate:"min=1"`
	Duration  Duration  `validate:"oneof=DAILY HOURLY"`
	BeginDate time.Time `validate:"required"`
	EndDate   time.Time `validate:"required,gtefield=BeginDate"`
	BeginHour *int      `validate:"omitempty,min=0,max=23"`
	EndHour   *int      `validate:"omitempty,min=0,max=23"`

	// AlwaysReturnFeb29 asks the service to include Feb 29 rows (as missing)
	// in non-leap years.
	AlwaysReturnFeb29 bool
}

// QueryOption customizes a StationQuery.
type QueryOption func(*StationQuery)

// WithOrdinal selects the sensor ordinal (default 1).
func WithOrdinal(n int) QueryOption {
	return func(q *StationQuery) { q.Ordinal = n }
}

// WithHours restricts an hourly query to [begin, end] hours of the day.
func WithHours(begin, end int) QueryOption {
	return func(q *StationQuery) {
		q.BeginHour = &begin
		q.EndHour = &end
	}
}

// WithFeb29 sets the alwaysReturnDailyFeb29 flag on daily queries.
func WithFeb29(always bool) QueryOption {
	return func(q *StationQuery) { q.AlwaysReturnFeb29 = always }
}

// NewDailyQuery builds a validated daily query for [begin, end].
func NewDailyQuery(triplet, element string, begin, end time.Time, opts ...QueryOption) (StationQuery, error) {
	return newQuery(DurationDaily, triplet, element, begin, end, opts)
}

// NewHourlyQuery builds a validated hourly query for [begin, end].
func NewHourlyQuery(triplet, element string, begin, end time.Time, opts ...QueryOption) (StationQuery, error) {
	return newQuery(DurationHourly, triplet, element, begin, end, opts)
}

func newQuery(d Duration, triplet, element string, begin, end time.Time, opts []QueryOption) (StationQuery, error) {
	q := StationQuery{
		Triplet:   triplet,
		Element:   element,
		Ordinal:   1,
		Duration:  d,
		BeginDate: dateOnly(begin),
		EndDate:   dateOnly(end),
	}
	for _, opt := range opts {
		opt(&q)
	}
	if err := q.Validate(); err != nil {
		return StationQuery{}, err
	}
	return q, nil
}

// Validate checks field constraints. Errors wrap ErrInvalidQuery.
func (q StationQuery) Validate() error {
	if err := validate.Struct(q); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if (q.BeginHour == nil) != (q.EndHour == nil) {
		return fmt.Errorf("%w: beginHour and endHour must be set together", ErrInvalidQuery)
	}
	if q.BeginHour != nil && *q.EndHour < *q.BeginHour {
		return fmt.Errorf("%w: endHour %d before beginHour %d", ErrInvalidQuery, *q.EndHour, *q.BeginHour)
	}
	if q.Duration == DurationDaily && q.BeginHour != nil {
		return fmt.Errorf("%w: hour window on a daily query", ErrInvalidQuery)
	}
	return nil
}

// String identifies the query in logs.
func (q StationQuery) String() string {
	s := fmt.Sprintf("%s %s/%d %s %s..%s", q.Triplet, q.Element, q.Ordinal, q.Duration,
		q.BeginDate.Format(DateLayout), q.EndDate.Format(DateLayout))
	if q.BeginHour != nil {
		s += fmt.Sprintf(" hours %d..%d", *q.BeginHour, *q.EndHour)
	}
	return s
}

// ValidateFilters checks station search predicates.
func ValidateFilters(f SearchFilters) error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
