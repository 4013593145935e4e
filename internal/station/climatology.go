package station

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ClimatologyDay summarizes one season-day position across seasons. Only
// observed values count; a day with no observations has Count 0 and missing
// statistics.
type ClimatologyDay struct {
	Day    string      `json:"day"`
	Count  int         `json:"count"`
	Mean   Measurement `json:"mean"`
	Median Measurement `json:"median"`
	Min    Measurement `json:"min"`
	Max    Measurement `json:"max"`
}

// Climatology aggregates aligned seasons by season-day index. Seasons must
// already have Feb 29 removed; shorter seasons (the current winter) simply
// stop contributing past their end.
func Climatology(seasons []SeasonSeries) []ClimatologyDay {
	longest := 0
	for _, s := range seasons {
		if s.Len() > longest {
			longest = s.Len()
		}
	}

	out := make([]ClimatologyDay, longest)
	vals := make([]float64, 0, len(seasons))
	for i := 0; i < longest; i++ {
		vals = vals[:0]
		for _, s := range seasons {
			if i >= s.Len() {
				continue
			}
			if out[i].Day == "" {
				out[i].Day = s.Dates[i].Format("01-02")
			}
			if v := s.Values[i]; v.Valid {
				vals = append(vals, v.Value)
			}
		}

		out[i].Count = len(vals)
		if len(vals) == 0 {
			continue
		}
		sort.Float64s(vals)
		out[i].Mean = Observed(stat.Mean(vals, nil))
		out[i].Median = Observed(stat.Quantile(0.5, stat.Empirical, vals, nil))
		out[i].Min = Observed(floats.Min(vals))
		out[i].Max = Observed(floats.Max(vals))
	}
	return out
}
