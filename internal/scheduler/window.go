package scheduler

import "time"

const day = 24 * time.Hour

// Window returns the start-time range of games eligible at now: from now
// (games already underway are excluded) to the end of the UTC day. From
// lateNightCutoffHour UTC onwards the range extends nextDayHorizon into the
// next day. A cutoff outside 1..23 disables the extension.
func Window(now time.Time, lateNightCutoffHour int, nextDayHorizon time.Duration) (from, to time.Time) {
	now = now.UTC()
	start := now.Truncate(day)
	to = start.Add(day)
	if lateNightCutoffHour > 0 && lateNightCutoffHour < 24 && now.Hour() >= lateNightCutoffHour {
		to = to.Add(nextDayHorizon)
	}
	return now, to
}

// NextMidnight returns the first local midnight strictly after now.
func NextMidnight(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}
