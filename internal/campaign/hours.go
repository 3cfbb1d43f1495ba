package campaign

import "time"

// Hours bounds delay targets to a business window on weekdays.
type Hours struct {
	From int // inclusive hour, 0-23
	To   int // exclusive hour
	Loc  *time.Location
}

// NextWithin returns t unchanged when it already falls inside the window,
// otherwise the start of the next window. Too-early same-day times move to
// the window open; after-close and weekend times move to the next weekday.
func (h Hours) NextWithin(t time.Time) time.Time {
	loc := h.Loc
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)

	for {
		switch lt.Weekday() {
		case time.Saturday:
			lt = dayStart(lt.AddDate(0, 0, 2), h.From)
			continue
		case time.Sunday:
			lt = dayStart(lt.AddDate(0, 0, 1), h.From)
			continue
		}
		if lt.Hour() < h.From {
			return dayStart(lt, h.From)
		}
		if lt.Hour() >= h.To {
			lt = dayStart(lt.AddDate(0, 0, 1), h.From)
			continue
		}
		return lt
	}
}

// Add advances start by d, counting only time inside the window. Nights and
// weekends do not consume any of d, so a two-hour wait entered late on a
// Friday afternoon carries its remainder into Monday morning.
func (h Hours) Add(start time.Time, d time.Duration) time.Time {
	cur := h.NextWithin(start)
	for d > 0 {
		closes := dayStart(cur, h.To)
		avail := closes.Sub(cur)
		if avail >= d {
			return cur.Add(d)
		}
		d -= avail
		cur = h.NextWithin(closes)
	}
	return cur
}

func dayStart(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}
