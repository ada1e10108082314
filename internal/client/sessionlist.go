package client

import (
	"fmt"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	GroupToday     = "Today"
	GroupYesterday = "Yesterday"
	GroupLastWeek  = "Last Week"
)

// GroupOrder is the display order of the session groups.
var GroupOrder = []string{GroupToday, GroupYesterday, GroupLastWeek}

// SessionGroup is one titled bucket of the session sidebar.
type SessionGroup struct {
	Title    string
	Sessions []Session
}

// GroupSessions buckets sessions by the calendar day of StartedAt in now's
// location. Today covers now's day and later; Yesterday the day before;
// Last Week the days strictly between seven days ago and yesterday. Older
// sessions are dropped. Input order is kept inside each bucket and empty
// buckets are omitted.
func GroupSessions(sessions []Session, now time.Time) []SessionGroup {
	loc := now.Location()
	today := startOfDay(now)
	yesterday := today.AddDate(0, 0, -1)
	weekAgo := today.AddDate(0, 0, -7)

	buckets := make(map[string][]Session, len(GroupOrder))
	for _, s := range sessions {
		day := startOfDay(s.StartedAt.In(loc))
		switch {
		case !day.Before(today):
			buckets[GroupToday] = append(buckets[GroupToday], s)
		case day.Equal(yesterday):
			buckets[GroupYesterday] = append(buckets[GroupYesterday], s)
		case day.After(weekAgo) && day.Before(yesterday):
			buckets[GroupLastWeek] = append(buckets[GroupLastWeek], s)
		}
	}

	out := make([]SessionGroup, 0, len(GroupOrder))
	for _, title := range GroupOrder {
		if len(buckets[title]) > 0 {
			out = append(out, SessionGroup{Title: title, Sessions: buckets[title]})
		}
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Label renders a session the way the sidebar lists it, e.g. "Tulsa - Session 2".
func (s Session) Label() string {
	return fmt.Sprintf("%s - Session %d", DisplayName(s.CityName), s.SessionNumber)
}

// DisplayName title-cases a city name. A Caser is stateful, so each call
// builds its own.
func DisplayName(city string) string {
	return cases.Title(language.English).String(city)
}
