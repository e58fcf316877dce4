package interfaces

import "time"

// EodSummarizer turns a day's fill journal into a per-symbol CSV.
type EodSummarizer interface {
	// SummarizeDay returns "" with a nil error when the day has no fills.
	SummarizeDay(t time.Time) (csvPath string, err error)
	SummarizeToday() (csvPath string, err error)
	// ShouldRunNow reports whether the market has closed and today's CSV
	// has not been written yet.
	ShouldRunNow() (shouldRun bool, csvPath string)
}
