package station

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// BuildDaily turns a daily record into a dense series. The service reports
// only the begin and end of the window, so one calendar date per day is
// synthesized from BeginDate and paired with Values by position.
func BuildDaily(raw RawDailyResponse) (Series, error) {
	if raw.BeginDate == "" && raw.EndDate == "" && len(raw.Values) == 0 {
		return Series{}, ErrEmptyResponse
	}

	begin, err := parseServiceDate(raw.BeginDate)
	if err != nil {
		return Series{}, fmt.Errorf("%w: beginDate %q: %v", ErrMalformedResponse, raw.BeginDate, err)
	}
	end, err := parseServiceDate(raw.EndDate)
	if err != nil {
		return Series{}, fmt.Errorf("%w: endDate %q: %v", ErrMalformedResponse, raw.EndDate, err)
	}
	if end.Before(begin) {
		return Series{}, fmt.Errorf("%w: endDate %s before beginDate %s",
			ErrMalformedResponse, raw.EndDate, raw.BeginDate)
	}

	dayCount := DaysBetween(begin, end) + 1
	if dayCount != len(raw.Values) {
		return Series{}, fmt.Errorf("%w: %s..%s spans %d days but %d values were returned",
			ErrMalformedResponse, raw.BeginDate, raw.EndDate, dayCount, len(raw.Values))
	}

	dates := make([]time.Time, dayCount)
	for i := range dates {
		dates[i] = begin.AddDate(0, 0, i)
	}

	values := make([]Measurement, len(raw.Values))
	copy(values, raw.Values)

	return Series{Dates: dates, Values: values}, nil
}

// BuildHourly turns an hourly record into a strictly increasing series.
// Duplicates are removed keeping the first occurrence in service order, then
// the result is sorted by timestamp. Records without a timestamp cannot be
// placed on the index and are dropped.
func BuildHourly(raw RawHourlyResponse) (Series, error) {
	type point struct {
		ts  time.Time
		val Measurement
	}

	seen := make(map[time.Time]struct{}, len(raw.Values))
	points := make([]point, 0, len(raw.Values))

	for _, v := range raw.Values {
		if strings.TrimSpace(v.Timestamp) == "" {
			continue
		}
		ts, err := parseServiceHour(v.Timestamp)
		if err != nil {
			return Series{}, fmt.Errorf("%w: timestamp %q: %v", ErrMalformedResponse, v.Timestamp, err)
		}
		if _, dup := seen[ts]; dup {
			continue
		}
		seen[ts] = struct{}{}
		points = append(points, point{ts: ts, val: v.Value})
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].ts.Before(points[j].ts)
	})

	s := Series{
		Dates:  make([]time.Time, len(points)),
		Values: make([]Measurement, len(points)),
	}
	for i, p := range points {
		s.Dates[i] = p.ts
		s.Values[i] = p.val
	}
	return s, nil
}

// SeasonWindow returns the daily window of the winter ending in year:
// November 1 of year-1 through May 15 of year.
func SeasonWindow(year int) (begin, end time.Time) {
	begin = time.Date(year-1, time.November, 1, 0, 0, 0, 0, time.UTC)
	end = time.Date(year, time.May, 15, 0, 0, 0, 0, time.UTC)
	return begin, end
}

// DropLeapDay removes February 29 from a daily series so every season has the
// same number of days. A series without a leap day is returned unchanged.
func DropLeapDay(s Series) Series {
	out := Series{
		Dates:  make([]time.Time, 0, len(s.Dates)),
		Values: make([]Measurement, 0, len(s.Values)),
	}
	for i, d := range s.Dates {
		if d.Month() == time.February && d.Day() == 29 {
			continue
		}
		out.Dates = append(out.Dates, d)
		out.Values = append(out.Values, s.Values[i])
	}
	return out
}

// DaysBetween returns the number of whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// parseServiceDate accepts the date forms the service uses for daily ranges.
func parseServiceDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{DateTimeLayout, DateLayout, HourLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format")
}

func parseServiceHour(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(HourLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(DateTimeLayout, s)
}
