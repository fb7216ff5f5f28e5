package clock

import "time"

// Clock stamps the start and end of a run.
type Clock interface {
	Now() time.Time
}

// UTC reads the wall clock. Journal timestamps are always UTC so they sort
// as text.
type UTC struct{}

func (UTC) Now() time.Time {
	return time.Now().UTC()
}
