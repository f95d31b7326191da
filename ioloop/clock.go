package ioloop

import "time"

// loopStart anchors the monotonic tick domain the Timer operates in: ticks
// are 100ns units (OPC UA's DateTime resolution) elapsed since process
// start, derived from Go's monotonic clock reading so NTP/wall-clock steps
// never perturb scheduling.
var loopStart = time.Now()

func nowTicks() int64 {
	return int64(time.Since(loopStart) / 100)
}
