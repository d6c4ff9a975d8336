package report

import (
	"strconv"
	"time"

	"exectracker/internal/transport"
)

const (
	OnDemandTitle = "Execution Stats"
	Footer        = "Execution Tracker"

	colorOnDemand = 0x3498db
	colorMinute   = 0x2ecc71
	colorHour     = 0xf1c40f
	colorDay      = 0xe74c3c
)

// zero-width space; Discord rejects empty field names and values
const spacer = "\u200b"

func windowName(w Window) string { return "Last " + w.Label }

// OnDemandSummary renders stats as one embed: an executions and a unique
// users field per window, with a blank field between windows so each window
// takes one row.
func OnDemandSummary(stats []Stat, at time.Time) transport.Summary {
	s := transport.Summary{
		Title:     OnDemandTitle,
		Color:     colorOnDemand,
		Timestamp: at.UTC(),
		Footer:    Footer,
	}
	for i, st := range stats {
		if i > 0 {
			s.Fields = append(s.Fields, transport.SummaryField{Name: spacer, Value: spacer, Inline: true})
		}
		name := windowName(st.Window)
		s.Fields = append(s.Fields,
			transport.SummaryField{Name: name + " — Executions", Value: strconv.FormatInt(st.Executions, 10), Inline: true},
			transport.SummaryField{Name: name + " — Unique users", Value: strconv.FormatInt(st.UniqueUsers, 10), Inline: true},
		)
	}
	return s
}

// ScheduledSummary renders one window's stat as posted on a boundary.
func ScheduledSummary(st Stat, at time.Time) transport.Summary {
	return transport.Summary{
		Title:     "Execution Summary (" + windowName(st.Window) + ")",
		Color:     scheduledColor(st.Window),
		Timestamp: at.UTC(),
		Fields: []transport.SummaryField{
			{Name: "Executions", Value: strconv.FormatInt(st.Executions, 10), Inline: true},
			{Name: "Unique users", Value: strconv.FormatInt(st.UniqueUsers, 10), Inline: true},
		},
	}
}

func scheduledColor(w Window) int {
	switch w.Label {
	case Hour.Label:
		return colorHour
	case Day.Label:
		return colorDay
	default:
		return colorMinute
	}
}
