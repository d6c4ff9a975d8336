package report

import (
	"time"

	"github.com/robfig/cron/v3"
)

var everyMinute = func() cron.Schedule {
	p := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s, err := p.Parse("CRON_TZ=UTC * * * * *")
	if err != nil {
		panic(err)
	}
	return s
}()

// NextBoundary returns the first whole UTC minute strictly after now.
func NextBoundary(now time.Time) time.Time {
	return everyMinute.Next(now).UTC()
}

// DueWindows lists the summaries due at a minute boundary: the minute window
// always, the hour window at minute 0 and the day window at 00:00 UTC.
func DueWindows(boundary time.Time) []Window {
	b := boundary.UTC()
	due := []Window{Minute}
	if b.Minute() == 0 {
		due = append(due, Hour)
		if b.Hour() == 0 {
			due = append(due, Day)
		}
	}
	return due
}
