package lifecycle

import (
	"time"

	"github.com/yairfalse/tara/internal/config"
	"github.com/yairfalse/tara/internal/trail"
)

// Activity summarizes volume attach/detach events in the lookup window.
type Activity struct {
	Events   int
	LastDays int
}

// noActivityDays is reported as LastDays when no attachment event exists.
const noActivityDays = 999

// wholeDays returns the number of complete days between from and to.
func wholeDays(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// SummarizeActivity counts attach/detach events and the age in whole days
// of the most recent one.
func SummarizeActivity(events []trail.Event, now time.Time) Activity {
	a := Activity{LastDays: noActivityDays}
	for _, e := range events {
		if !trail.IsAttachmentEvent(e.EventName) {
			continue
		}
		a.Events++
		if e.EventTime.IsZero() {
			continue
		}
		if d := wholeDays(e.EventTime, now); d < a.LastDays {
			a.LastDays = d
		}
	}
	return a
}

// RecentlyActive applies the activity policy. most-recent blocks when the
// newest attachment event is younger than the threshold; any-event blocks
// on any attachment event at all.
func (a Activity) RecentlyActive(policy string, threshDays int) bool {
	if a.Events == 0 {
		return false
	}
	if policy == config.PolicyAnyEvent {
		return true
	}
	return a.LastDays < threshDays
}
