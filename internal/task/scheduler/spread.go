package scheduler

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// spreadSchedule fires first at a fixed instant, then follows base.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

var spreadSeq atomic.Uint64

// makeIntervalScheduleWithSpread delays the first run of an interval by a
// random amount below min(every, maxStartupSpread).
func makeIntervalScheduleWithSpread(every time.Duration, now time.Time, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	spreadMax := min(every, maxStartupSpread)
	if spreadMax <= 0 {
		return base, 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(tag))
	seed := time.Now().UnixNano() ^ int64(spreadSeq.Add(1)) ^ int64(h.Sum64())
	jitter := time.Duration(rand.New(rand.NewSource(seed)).Int63n(int64(spreadMax)))
	return &spreadSchedule{base: base, first: now.Add(every + jitter)}, jitter
}
