package cdc

import "time"

// Date marks a column value that the source identified as a SQL DATE (as
// opposed to a full timestamp): normalization renders it as an ISO-8601
// date string instead of a Unix second count.
type Date time.Time

// FieldMapping is a sync's configured src -> dst column rename table. A nil
// destination means "keep the source name".
type FieldMapping map[string]*string

// Project applies a sync's field projection/rename to a raw row, the way
// every source cursor must before emitting an Event or a full-scan batch
// (spec: field projection applies identically across MySQL/Postgres/Mongo).
//
// Timestamp and Date values are always normalized (see
// normalizeTimestamps). If fields is empty, every column is kept.
// Otherwise only the configured source columns are kept, renamed per
// fields[k]. If that produces an empty map (e.g. none of the configured
// columns are present in this row), every column of the normalized row is
// returned -- this mirrors a defensive fallback in the original
// implementation.
func Project(row map[string]any, fields FieldMapping) map[string]any {
	normalized := normalizeTimestamps(row)
	if len(fields) == 0 {
		return normalized
	}

	out := make(map[string]any, len(fields))
	for k, v := range normalized {
		dst, ok := fields[k]
		if !ok {
			continue
		}
		name := k
		if dst != nil && *dst != "" {
			name = *dst
		}
		out[name] = v
	}
	if len(out) == 0 {
		return normalized
	}
	return out
}

// normalizeTimestamps converts time.Time values to integer Unix seconds and
// Date values to ISO-8601 date strings, leaving everything else untouched.
// Sub-second precision on timestamps is intentionally lost here, matching
// the source system's behavior.
func normalizeTimestamps(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		switch t := v.(type) {
		case time.Time:
			out[k] = t.Unix()
		case Date:
			out[k] = time.Time(t).Format("2006-01-02")
		default:
			out[k] = v
		}
	}
	return out
}
