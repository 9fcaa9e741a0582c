package condition

import "time"

// timeOfDay is the wall-clock reading of t as an offset from 00:00. It is not the time
// elapsed since midnight, which differs on days with a DST transition.
func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
