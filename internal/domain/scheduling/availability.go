package scheduling

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Interval is a half-open time interval [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps is the half-open intersection test: [a,b) and [c,d) overlap iff
// a < d && c < b. Touching intervals do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains reports whether o lies entirely within i.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// subtract removes cut from every window, splitting windows it falls inside.
func subtract(windows []Interval, cut Interval) []Interval {
	out := make([]Interval, 0, len(windows)+1)
	for _, w := range windows {
		if !w.Overlaps(cut) {
			out = append(out, w)
			continue
		}
		if w.Start.Before(cut.Start) {
			out = append(out, Interval{Start: w.Start, End: cut.Start})
		}
		if cut.End.Before(w.End) {
			out = append(out, Interval{Start: cut.End, End: w.End})
		}
	}
	return out
}

// Query bounds an availability search. From and To are inclusive dates in
// the schedule's time zone.
type Query struct {
	From     Date
	To       Date
	Location string
	// NotBefore drops slots starting earlier than this instant. Zero disables.
	NotBefore time.Time
}

// Resolve lists the bookable slots of apptType for the schedule's clinician
// over q. It is a pure function of its inputs. Malformed schedule data makes
// the affected day unavailable; Resolve never fails.
//
// appts should include every appointment of the ISO weeks touched by q so
// that weekly capacity is counted correctly.
func Resolve(sched *ClinicianSchedule, exceptions []*ScheduleException, appts []*Appointment, apptType *AppointmentType, q Query) []Slot {
	slots := []Slot{}
	if sched == nil || apptType == nil || apptType.DurationMinutes <= 0 {
		return slots
	}
	loc := sched.Location()
	if loc == nil || q.To.Before(q.From) || !sched.AcceptsLocation(q.Location) {
		return slots
	}

	duration := minutes(apptType.DurationMinutes)
	before := minutes(apptType.BufferBeforeMinutes)
	after := minutes(bufferAfter(sched, apptType))
	step := duration + after

	booked := bookedBlocks(appts, sched.ClinicianID)
	perDay, perWeek := countBookings(appts, sched.ClinicianID, loc)

	for d := q.From; !q.To.Before(d); d = d.AddDays(1) {
		if !sched.EffectiveOn(d) {
			continue
		}
		if atCapacity(sched, perDay[d], perWeek[d.WeekStart()]) {
			continue
		}
		for _, w := range dayWindows(sched, exceptions, d, loc) {
			for start := w.Start; !start.Add(duration).After(w.End); start = start.Add(step) {
				if !q.NotBefore.IsZero() && start.Before(q.NotBefore) {
					continue
				}
				end := start.Add(duration)
				padded := Interval{Start: start.Add(-before), End: end.Add(after)}
				if intersectsAny(padded, booked) {
					continue
				}
				slots = append(slots, Slot{
					ClinicianID: sched.ClinicianID,
					Start:       start,
					End:         end,
					Location:    q.Location,
				})
			}
		}
	}

	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots
}

// WithinAvailability reports whether [start, end) lies inside one of the
// clinician's working windows for that day: effective template, minus break,
// minus exceptions.
func WithinAvailability(sched *ClinicianSchedule, exceptions []*ScheduleException, start, end time.Time) bool {
	if sched == nil || !start.Before(end) {
		return false
	}
	loc := sched.Location()
	if loc == nil {
		return false
	}
	d := DateOf(start.In(loc))
	if !sched.EffectiveOn(d) {
		return false
	}
	want := Interval{Start: start, End: end}
	for _, w := range dayWindows(sched, exceptions, d, loc) {
		if w.Contains(want) {
			return true
		}
	}
	return false
}

// AvailableMinutes sums the working windows between from and to inclusive.
func AvailableMinutes(sched *ClinicianSchedule, exceptions []*ScheduleException, from, to Date) int {
	if sched == nil {
		return 0
	}
	loc := sched.Location()
	if loc == nil {
		return 0
	}
	var total time.Duration
	for d := from; !to.Before(d); d = d.AddDays(1) {
		if !sched.EffectiveOn(d) {
			continue
		}
		for _, w := range dayWindows(sched, exceptions, d, loc) {
			total += w.Duration()
		}
	}
	return int(total / time.Minute)
}

// dayWindows returns the working windows of d: template start to end, minus
// the break, minus partial exceptions. A missing or malformed template, an
// inverted window or an all-day exception yields none.
func dayWindows(sched *ClinicianSchedule, exceptions []*ScheduleException, d Date, loc *time.Location) []Interval {
	tpl := sched.Day(d.Weekday())
	if tpl == nil || !tpl.IsAvailable {
		return nil
	}
	startMin, err := parseClock(tpl.StartTime)
	if err != nil {
		return nil
	}
	endMin, err := parseClock(tpl.EndTime)
	if err != nil || startMin >= endMin {
		return nil
	}
	windows := []Interval{{Start: d.At(startMin, loc), End: d.At(endMin, loc)}}

	if tpl.BreakStart != "" || tpl.BreakEnd != "" {
		bs, err1 := parseClock(tpl.BreakStart)
		be, err2 := parseClock(tpl.BreakEnd)
		if err1 != nil || err2 != nil {
			return nil
		}
		if bs < be {
			windows = subtract(windows, Interval{Start: d.At(bs, loc), End: d.At(be, loc)})
		}
	}

	for _, ex := range exceptions {
		if ex == nil || ex.ClinicianID != sched.ClinicianID || !ex.Covers(d) {
			continue
		}
		if ex.AllDay {
			return nil
		}
		es, err1 := parseClock(ex.StartTime)
		ee, err2 := parseClock(ex.EndTime)
		if err1 != nil || err2 != nil || es >= ee {
			// An unreadable or inverted exception blocks the whole day.
			return nil
		}
		windows = subtract(windows, Interval{Start: d.At(es, loc), End: d.At(ee, loc)})
	}
	return windows
}

// bufferAfter is the larger of the type's trailing buffer and the
// schedule's minimum gap between appointments.
func bufferAfter(sched *ClinicianSchedule, apptType *AppointmentType) int {
	if sched.BufferMinutes > apptType.BufferAfterMinutes {
		return sched.BufferMinutes
	}
	return apptType.BufferAfterMinutes
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

// blockOf returns the buffered interval an appointment occupies.
func blockOf(a *Appointment) Interval {
	if !a.BlockStart.IsZero() && !a.BlockEnd.IsZero() {
		return Interval{Start: a.BlockStart, End: a.BlockEnd}
	}
	return Interval{
		Start: a.StartTime.Add(-minutes(a.BufferBeforeMinutes)),
		End:   a.EndTime.Add(minutes(a.BufferAfterMinutes)),
	}
}

func bookedBlocks(appts []*Appointment, clinicianID uuid.UUID) []Interval {
	out := make([]Interval, 0, len(appts))
	for _, a := range appts {
		if a == nil || a.ClinicianID != clinicianID || !a.Active() {
			continue
		}
		out = append(out, blockOf(a))
	}
	return out
}

func intersectsAny(iv Interval, blocks []Interval) bool {
	for _, b := range blocks {
		if iv.Overlaps(b) {
			return true
		}
	}
	return false
}

// countBookings counts live appointments per local date and per ISO week
// (keyed by the week's Monday).
func countBookings(appts []*Appointment, clinicianID uuid.UUID, loc *time.Location) (map[Date]int, map[Date]int) {
	perDay := make(map[Date]int)
	perWeek := make(map[Date]int)
	for _, a := range appts {
		if a == nil || a.ClinicianID != clinicianID || !a.Active() {
			continue
		}
		d := DateOf(a.StartTime.In(loc))
		perDay[d]++
		perWeek[d.WeekStart()]++
	}
	return perDay, perWeek
}

// atCapacity reports whether one more booking would exceed a limit. Zero
// limits are unlimited.
func atCapacity(sched *ClinicianSchedule, dayCount, weekCount int) bool {
	if sched.MaxAppointmentsPerDay > 0 && dayCount+1 > sched.MaxAppointmentsPerDay {
		return true
	}
	if sched.MaxAppointmentsPerWeek > 0 && weekCount+1 > sched.MaxAppointmentsPerWeek {
		return true
	}
	return false
}
