package api

import (
	"sync/atomic"
	"time"
)

var (
	lastTimestamp int64
)

// nextTimestamp returns strictly increasing nanosecond timestamps so audit
// events for one request never share an ordering key.
func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
