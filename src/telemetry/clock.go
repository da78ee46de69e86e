package telemetry

import "time"

// Clock abstracts wall-clock reads so turn segmentation and latency math
// can be tested without real waits.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the real wall clock.
var SystemClock Clock = systemClock{}
