package kpi

import (
	"fmt"
	"time"
)

// View selects the reporting window. The concrete variants are Annual,
// Quarterly, Monthly and Range; no other type satisfies the interface.
type View interface {
	// Bounds returns the first and last calendar day covered, both inclusive.
	Bounds() (time.Time, time.Time)
	// Year reports the calendar year targets are resolved against.
	Year() int
	String() string
	isView()
}

// Annual covers a whole calendar year.
type Annual struct {
	CalendarYear int
}

// Quarterly covers one calendar quarter.
type Quarterly struct {
	CalendarYear int
	Quarter      int
}

// Monthly covers one calendar month.
type Monthly struct {
	CalendarYear int
	Month        time.Month
}

// Range covers an arbitrary inclusive date span.
type Range struct {
	From time.Time
	To   time.Time
}

// NewAnnual validates and builds an Annual view.
func NewAnnual(year int) (View, error) {
	if err := checkYear(year); err != nil {
		return nil, err
	}
	return Annual{CalendarYear: year}, nil
}

// NewQuarterly validates and builds a Quarterly view.
func NewQuarterly(year, quarter int) (View, error) {
	if err := checkYear(year); err != nil {
		return nil, err
	}
	if quarter < 1 || quarter > 4 {
		return nil, fmt.Errorf("%w: quarter %d", ErrInvalidView, quarter)
	}
	return Quarterly{CalendarYear: year, Quarter: quarter}, nil
}

// NewMonthly validates and builds a Monthly view.
func NewMonthly(year int, month time.Month) (View, error) {
	if err := checkYear(year); err != nil {
		return nil, err
	}
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("%w: month %d", ErrInvalidView, month)
	}
	return Monthly{CalendarYear: year, Month: month}, nil
}

// NewRange validates and builds a Range view truncated to whole days.
func NewRange(from, to time.Time) (View, error) {
	from, to = dayOf(from), dayOf(to)
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return nil, fmt.Errorf("%w: range %s..%s", ErrInvalidView, from.Format(dateLayout), to.Format(dateLayout))
	}
	return Range{From: from, To: to}, nil
}

// ValidateView checks the fields of a view built without its constructor,
// such as a Quarterly literal that leaves Quarter unset.
func ValidateView(v View) error {
	var err error
	switch v := v.(type) {
	case nil:
		return ErrViewRequired
	case Annual:
		_, err = NewAnnual(v.CalendarYear)
	case Quarterly:
		_, err = NewQuarterly(v.CalendarYear, v.Quarter)
	case Monthly:
		_, err = NewMonthly(v.CalendarYear, v.Month)
	case Range:
		_, err = NewRange(v.From, v.To)
	}
	return err
}

func checkYear(year int) error {
	if year < 1 || year > 9999 {
		return fmt.Errorf("%w: year %d", ErrInvalidView, year)
	}
	return nil
}

func (v Annual) Bounds() (time.Time, time.Time) {
	start := time.Date(v.CalendarYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(1, 0, -1)
}

func (v Annual) Year() int      { return v.CalendarYear }
func (v Annual) String() string { return fmt.Sprintf("%04d", v.CalendarYear) }
func (Annual) isView()          {}

func (v Quarterly) Bounds() (time.Time, time.Time) {
	start := time.Date(v.CalendarYear, QuarterStart(v.Quarter), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 3, -1)
}

func (v Quarterly) Year() int      { return v.CalendarYear }
func (v Quarterly) String() string { return fmt.Sprintf("%04d-Q%d", v.CalendarYear, v.Quarter) }
func (Quarterly) isView()          {}

func (v Monthly) Bounds() (time.Time, time.Time) {
	start := time.Date(v.CalendarYear, v.Month, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, -1)
}

func (v Monthly) Year() int      { return v.CalendarYear }
func (v Monthly) String() string { return fmt.Sprintf("%04d-%02d", v.CalendarYear, int(v.Month)) }
func (Monthly) isView()          {}

func (v Range) Bounds() (time.Time, time.Time) { return v.From, v.To }
func (v Range) Year() int                      { return v.From.Year() }
func (v Range) String() string {
	return v.From.Format(dateLayout) + "_" + v.To.Format(dateLayout)
}
func (Range) isView() {}

// QuarterOf returns the 1-based quarter containing month.
func QuarterOf(month time.Month) int {
	return (int(month)-1)/3 + 1
}

// QuarterStart returns the first month of the quarter.
func QuarterStart(quarter int) time.Month {
	return time.Month((quarter-1)*3 + 1)
}

// DaysInMonth returns the number of days in the month of the given year.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DaysInQuarter returns the number of days in the quarter of the given year.
func DaysInQuarter(year, quarter int) int {
	first := QuarterStart(quarter)
	days := 0
	for m := first; m < first+3; m++ {
		days += DaysInMonth(year, m)
	}
	return days
}

// DaysBetween counts calendar days from start to end, both inclusive.
func DaysBetween(start, end time.Time) int {
	start, end = dayOf(start), dayOf(end)
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}

func dayOf(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
