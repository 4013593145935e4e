package station

import "time"

// SnapshotElements are queried for every site, in column order.
var SnapshotElements = []string{ElementSnowDepth, ElementSWE, ElementTemperature}

// AssembleRow builds one snapshot row from a site's metadata and the last
// same-day reading of each element. Elements absent from readings are missing.
func AssembleRow(meta Metadata, readings map[string]Measurement) SummaryRow {
	elev := meta.ElevationFeet
	row := SummaryRow{
		Triplet:     meta.Triplet,
		Name:        meta.Name,
		Elevation:   &elev,
		Depth:       readingOrMissing(readings, ElementSnowDepth),
		SWE:         readingOrMissing(readings, ElementSWE),
		Temperature: readingOrMissing(readings, ElementTemperature),
	}
	if row.Name == "" {
		row.Name = meta.Triplet
	}
	return row
}

// MissingRow is the row written for a site whose data could not be fetched.
// The triplet stands in for the unknown name.
func MissingRow(triplet string) SummaryRow {
	return SummaryRow{
		Triplet:     triplet,
		Name:        triplet,
		Depth:       Missing(),
		SWE:         Missing(),
		Temperature: Missing(),
	}
}

// AssembleSnapshot pairs rows with their capture time.
func AssembleSnapshot(capturedAt time.Time, rows []SummaryRow) Snapshot {
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}
	return Snapshot{
		CapturedAt: capturedAt.Truncate(time.Second),
		Rows:       rows,
	}
}

func readingOrMissing(readings map[string]Measurement, element string) Measurement {
	if m, ok := readings[element]; ok {
		return m
	}
	return Missing()
}
