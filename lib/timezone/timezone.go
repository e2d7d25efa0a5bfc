package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/Los_Angeles")
	if err != nil {
		panic(err)
	}
}

// both utility portals report timezone-naive local times, so every date
// computation has to happen in Palo Alto's timezone no matter where the
// process runs
func Now() time.Time {
	return time.Now().In(Location)
}

// Today returns midnight of the current day in the portal timezone.
func Today() time.Time {
	return DateOf(Now())
}

// DateOf truncates t to midnight in the portal timezone.
func DateOf(t time.Time) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Location)
}

// Date builds a date value at midnight in the portal timezone.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, Location)
}
