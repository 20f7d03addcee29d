package quota

import "time"

// Schedule is the fixed daily reset boundary, e.g. 09:00 in the user's
// configured timezone. Both categories roll over at the same instant.
type Schedule struct {
	Hour     int
	Minute   int
	Location *time.Location
}

func (s Schedule) loc() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}

// WindowStart returns the most recent reset boundary at or before t
func (s Schedule) WindowStart(t time.Time) time.Time {
	loc := s.loc()
	lt := t.In(loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), s.Hour, s.Minute, 0, 0, loc)
	if lt.Before(start) {
		start = time.Date(lt.Year(), lt.Month(), lt.Day()-1, s.Hour, s.Minute, 0, 0, loc)
	}
	return start
}

// NextReset returns the first reset boundary strictly after t
func (s Schedule) NextReset(t time.Time) time.Time {
	ws := s.WindowStart(t)
	return time.Date(ws.Year(), ws.Month(), ws.Day()+1, s.Hour, s.Minute, 0, 0, s.loc())
}

// WindowKey identifies the window containing t. The key is the window
// start in RFC3339 UTC so every process derives the same value.
func (s Schedule) WindowKey(t time.Time) string {
	return s.WindowStart(t).UTC().Format(time.RFC3339)
}
