// Package timeutil converts between wall-clock time and the decimicrosecond
// (10^-7 s) ticks used internally throughout the data updater.
package timeutil

import "time"

// DecimicroPerMilli is the number of decimicrosecond ticks in a millisecond.
const DecimicroPerMilli = 10_000

// NowDecimicro returns the current time as decimicroseconds since the Unix epoch.
func NowDecimicro() int64 {
	return FromTime(time.Now())
}

// FromTime converts a time.Time to decimicroseconds since the Unix epoch.
func FromTime(t time.Time) int64 {
	return t.UnixNano() / 100
}

// ToTime converts decimicroseconds since the Unix epoch back to a time.Time.
func ToTime(decimicro int64) time.Time {
	return time.Unix(0, decimicro*100)
}

// ToMillis truncates decimicroseconds down to milliseconds, the only unit
// external APIs (DB timestamps, AMQP headers) are allowed to see.
func ToMillis(decimicro int64) int64 {
	return decimicro / DecimicroPerMilli
}

// Submillis returns the sub-millisecond remainder in decimicrosecond ticks,
// used for the `reception_timestamp_submillis` column.
func Submillis(decimicro int64) int64 {
	return decimicro % DecimicroPerMilli
}

// FromMillis upconverts a millisecond timestamp (e.g. an AMQP header that
// only carried milliseconds) into decimicroseconds.
func FromMillis(ms int64) int64 {
	return ms * DecimicroPerMilli
}
