package scheduler

import "time"

// Schedule decides when a job is next due.
type Schedule interface {
	// First returns the first run time for a job that has never run.
	First(now time.Time) time.Time
	// Next returns the run time following a run that started at last.
	Next(last time.Time) time.Time
	// Period is the nominal spacing between runs.
	Period() time.Duration
}

// Every runs a job at a fixed interval, starting immediately.
type Every time.Duration

func (e Every) First(now time.Time) time.Time { return now }
func (e Every) Next(last time.Time) time.Time  { return last.Add(time.Duration(e)) }
func (e Every) Period() time.Duration          { return time.Duration(e) }

// DailyAt runs a job once a day at the given hour in Location.
type DailyAt struct {
	Hour     int
	Location *time.Location
}

func (d DailyAt) loc() *time.Location {
	if d.Location == nil {
		return time.Local
	}
	return d.Location
}

func (d DailyAt) at(day time.Time) time.Time {
	y, m, dd := day.Date()
	return time.Date(y, m, dd, d.Hour, 0, 0, 0, d.loc())
}

// First returns today's slot if it is still ahead, tomorrow's otherwise.
func (d DailyAt) First(now time.Time) time.Time {
	local := now.In(d.loc())
	slot := d.at(local)
	if slot.Before(local) {
		slot = d.at(local.AddDate(0, 0, 1))
	}
	return slot.UTC()
}

// Next returns the first slot strictly after last.
func (d DailyAt) Next(last time.Time) time.Time {
	local := last.In(d.loc())
	slot := d.at(local)
	if !slot.After(local) {
		slot = d.at(local.AddDate(0, 0, 1))
	}
	return slot.UTC()
}

func (d DailyAt) Period() time.Duration { return 24 * time.Hour }
