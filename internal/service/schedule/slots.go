package schedule

import (
	"fmt"
	"hash/fnv"
	"time"
)

// StaggerOffset spreads providers sharing an interval across it. The offset
// depends only on the slug, so restarts produce identical schedules.
func StaggerOffset(slug string, interval time.Duration) time.Duration {
	seconds := int64(interval / time.Second)
	if seconds <= 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(slug))
	return time.Duration(h.Sum64()%uint64(seconds)) * time.Second
}

// NextSlot returns the first slot k*interval+offset strictly after now
func NextSlot(now time.Time, interval, offset time.Duration) time.Time {
	iv := int64(interval / time.Second)
	if iv <= 0 {
		return now
	}
	off := int64(offset / time.Second)
	k := floorDiv(now.Unix()-off, iv) + 1
	return time.Unix(k*iv+off, 0).UTC()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// SlotTaskID is the queue task id of a scheduled slot
func SlotTaskID(slug string, slot time.Time) string {
	return fmt.Sprintf("scrape:%s:%d", slug, slot.Unix())
}

// ManualTaskID is the queue task id of an operator-triggered run. Repeated
// requests within the same minute collapse into one task.
func ManualTaskID(slug string, now time.Time) string {
	return fmt.Sprintf("scrape:%s:manual:%d", slug, now.Unix()/60)
}
