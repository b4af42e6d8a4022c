package db

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Timestamps are stored as Unix milliseconds so range filters compare
// integers rather than driver-formatted strings.

// Millis converts t to Unix milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts Unix milliseconds back to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// NullMillis converts an optional time to a nullable column value.
func NullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// TimePtr converts a nullable column back to an optional time.
func TimePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := FromMillis(n.Int64)
	return &t
}

// NullString maps "" to NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// EncodeStrings stores a string set as a JSON array.
func EncodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(values)
	return string(b)
}

// DecodeStrings reads a JSON array column. Malformed values decode as empty.
func DecodeStrings(raw string) []string {
	var out []string
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// Bool converts an INTEGER flag column.
func Bool(v int64) bool {
	return v != 0
}

// Flag converts a bool for an INTEGER flag column.
func Flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
