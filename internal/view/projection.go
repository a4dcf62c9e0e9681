// Package view turns the flat conversation log into display groups: one
// group per calendar day, each entry flagged when it starts a new run of
// messages by the same author.
package view

import (
	"time"

	"github.com/vedran77/chatspace/internal/domain"
)

const (
	LabelToday     = "Today"
	LabelYesterday = "Yesterday"

	// DefaultLayout is the US short date, e.g. 3/14/2026.
	DefaultLayout = "1/2/2006"
)

type Entry struct {
	Message domain.EnrichedMessage
	// RunStart is set on the first message of a group and whenever the
	// author differs from the previous entry.
	RunStart bool
}

type DateGroup struct {
	Label   string
	Day     time.Time // midnight in the projection's location
	Entries []Entry
}

// Project groups messages by calendar day in loc, with DefaultLayout for
// days before yesterday. messages must already be in log order.
func Project(messages []domain.EnrichedMessage, now time.Time, loc *time.Location) []DateGroup {
	return project(messages, now, loc, DefaultLayout)
}

// Projector carries the display settings of a client. A zero Projector
// uses the local timezone, DefaultLayout and the wall clock.
type Projector struct {
	Location *time.Location
	Layout   string
	Now      func() time.Time
}

func (p Projector) Project(messages []domain.EnrichedMessage) []DateGroup {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	layout := p.Layout
	if layout == "" {
		layout = DefaultLayout
	}
	return project(messages, now(), p.Location, layout)
}

func project(messages []domain.EnrichedMessage, now time.Time, loc *time.Location, layout string) []DateGroup {
	if loc == nil {
		loc = time.Local
	}
	today := dayOf(now, loc)
	yesterday := today.AddDate(0, 0, -1)

	var groups []DateGroup
	index := make(map[time.Time]int)

	for _, msg := range messages {
		day := dayOf(msg.CreatedAt, loc)

		i, ok := index[day]
		if !ok {
			i = len(groups)
			index[day] = i
			groups = append(groups, DateGroup{
				Label: label(day, today, yesterday, layout),
				Day:   day,
			})
		}

		g := &groups[i]
		runStart := len(g.Entries) == 0 ||
			g.Entries[len(g.Entries)-1].Message.AuthorID != msg.AuthorID
		g.Entries = append(g.Entries, Entry{Message: msg, RunStart: runStart})
	}
	return groups
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func label(day, today, yesterday time.Time, layout string) string {
	switch {
	case day.Equal(today):
		return LabelToday
	case day.Equal(yesterday):
		return LabelYesterday
	default:
		return day.Format(layout)
	}
}
