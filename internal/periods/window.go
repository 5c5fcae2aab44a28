// Package periods supplies calendar arithmetic for KPI views.
package periods

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chai-vision/chai-vision/internal/kpi"
	"github.com/chai-vision/chai-vision/internal/platform/httpx"
)

// ErrInvalidSelector indicates query parameters that do not describe a view.
var ErrInvalidSelector = fmt.Errorf("periods: invalid selector: %w", httpx.ErrValidation)

// Window implements kpi.DateWindow over the Gregorian calendar in UTC.
type Window struct{}

// NewWindow constructs a Window.
func NewWindow() Window {
	return Window{}
}

// DaysInPeriod returns the number of calendar days the view covers.
func (Window) DaysInPeriod(view kpi.View) int {
	if view == nil {
		return 0
	}
	start, end := view.Bounds()
	return kpi.DaysBetween(start, end)
}

// DaysElapsed counts the days of the view up to and including now's day.
// It is 0 before the view starts and the full length after it ends.
func (w Window) DaysElapsed(view kpi.View, now time.Time) int {
	if view == nil {
		return 0
	}
	start, end := view.Bounds()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch {
	case today.Before(start):
		return 0
	case today.After(end):
		return w.DaysInPeriod(view)
	default:
		return kpi.DaysBetween(start, today)
	}
}

// Selector is the raw view selection as it arrives on a request.
type Selector struct {
	View   string `validate:"omitempty,oneof=annual quarterly monthly custom"`
	Year   string `validate:"omitempty,numeric,len=4"`
	Period string
	Month  string
	From   string
	To     string
}

// ParseView turns a raw selector into a kpi.View. Empty fields default to
// the current annual/quarter/month relative to now.
func ParseView(sel Selector, now time.Time) (kpi.View, error) {
	year := now.Year()
	if raw := strings.TrimSpace(sel.Year); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: year %q", ErrInvalidSelector, raw)
		}
		year = parsed
	}

	var (
		view kpi.View
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(sel.View)) {
	case "", "annual":
		view, err = kpi.NewAnnual(year)
	case "quarterly":
		quarter := kpi.QuarterOf(now.Month())
		if raw := strings.TrimSpace(sel.Period); raw != "" {
			quarter, err = parseQuarter(raw)
			if err != nil {
				return nil, err
			}
		}
		view, err = kpi.NewQuarterly(year, quarter)
	case "monthly":
		month := now.Month()
		if raw := strings.TrimSpace(sel.Month); raw != "" {
			month, err = parseMonth(raw)
			if err != nil {
				return nil, err
			}
		}
		view, err = kpi.NewMonthly(year, month)
	case "custom":
		from, okFrom := kpi.ParseDate(sel.From)
		to, okTo := kpi.ParseDate(sel.To)
		if !okFrom || !okTo {
			return nil, fmt.Errorf("%w: custom range requires from and to", ErrInvalidSelector)
		}
		view, err = kpi.NewRange(from, to)
	default:
		return nil, fmt.Errorf("%w: view %q", ErrInvalidSelector, sel.View)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSelector, err)
	}
	return view, nil
}

func parseQuarter(raw string) (int, error) {
	raw = strings.TrimPrefix(strings.ToUpper(raw), "Q")
	q, err := strconv.Atoi(raw)
	if err != nil || q < 1 || q > 4 {
		return 0, fmt.Errorf("%w: quarter %q", ErrInvalidSelector, raw)
	}
	return q, nil
}

func parseMonth(raw string) (time.Month, error) {
	if m, err := strconv.Atoi(raw); err == nil {
		if m < 1 || m > 12 {
			return 0, fmt.Errorf("%w: month %q", ErrInvalidSelector, raw)
		}
		return time.Month(m), nil
	}
	for _, layout := range []string{"January", "Jan", "2006-01"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Month(), nil
		}
	}
	return 0, fmt.Errorf("%w: month %q", ErrInvalidSelector, raw)
}
