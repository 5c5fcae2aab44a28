// Package targets stores revenue targets per year, brand, period and channel.
package targets

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/chai-vision/chai-vision/internal/kpi"
	"github.com/chai-vision/chai-vision/internal/platform/httpx"
)

// DefaultTolerance is the relative slack allowed between an annual target and
// the sum of its quarters. Differences up to 1.00 are always accepted.
const DefaultTolerance = 0.01

const minAbsoluteTolerance = 1.0

// ErrTargetMismatch is returned when annual targets disagree with their quarters.
var ErrTargetMismatch = fmt.Errorf("targets: annual target does not match quarters: %w", httpx.ErrValidation)

// ErrInvalidEntry wraps field level validation failures.
var ErrInvalidEntry = fmt.Errorf("targets: invalid entry: %w", httpx.ErrValidation)

// Entry is one stored target amount.
type Entry struct {
	Year    int     `json:"year" yaml:"year" validate:"required,min=2000,max=2100"`
	Brand   string  `json:"brand" yaml:"brand" validate:"required,max=120"`
	Period  string  `json:"period" yaml:"period" validate:"required"`
	Channel string  `json:"channel" yaml:"channel" validate:"required,max=120"`
	Amount  float64 `json:"amount" yaml:"amount" validate:"gte=0"`
}

// Mismatch reports one brand/channel whose quarters do not add up.
type Mismatch struct {
	Year     int     `json:"year"`
	Brand    string  `json:"brand"`
	Channel  string  `json:"channel"`
	Annual   float64 `json:"annual"`
	Quarters float64 `json:"quarters"`
}

// MismatchError carries every mismatch found while saving.
type MismatchError struct {
	Mismatches []Mismatch
}

func (e *MismatchError) Error() string {
	if len(e.Mismatches) == 0 {
		return ErrTargetMismatch.Error()
	}
	m := e.Mismatches[0]
	return fmt.Sprintf("%s: %d mismatch(es), first %d %s/%s annual %.2f vs quarters %.2f",
		ErrTargetMismatch.Error(), len(e.Mismatches), m.Year, m.Brand, m.Channel, m.Annual, m.Quarters)
}

func (e *MismatchError) Unwrap() error { return ErrTargetMismatch }

// YearTargets is the response shape for a single year.
type YearTargets struct {
	Year       int                         `json:"year"`
	Targets    map[string]kpi.BrandTargets `json:"targets"`
	Mismatches []Mismatch                  `json:"mismatches"`
}

// ValidateTable checks, for every brand and channel carrying an annual target
// and all four quarterly targets, that the annual amount equals the quarters'
// sum within tolerance. Partially entered years are not checked.
func ValidateTable(table kpi.TargetTable, tolerance float64) []Mismatch {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	quarters := []kpi.TargetPeriod{kpi.PeriodQ1, kpi.PeriodQ2, kpi.PeriodQ3, kpi.PeriodQ4}
	mismatches := make([]Mismatch, 0)
	for year, brands := range table {
		for brand, periods := range brands {
			for channel, annual := range periods[kpi.PeriodAnnual] {
				sum, complete := 0.0, true
				for _, q := range quarters {
					amount, ok := lookupChannel(periods[q], channel)
					if !ok {
						complete = false
						break
					}
					sum += amount
				}
				if !complete {
					continue
				}
				allowed := math.Max(math.Abs(annual)*tolerance, minAbsoluteTolerance)
				if math.Abs(annual-sum) > allowed {
					mismatches = append(mismatches, Mismatch{Year: year, Brand: brand, Channel: channel, Annual: annual, Quarters: sum})
				}
			}
		}
	}
	sort.Slice(mismatches, func(i, j int) bool {
		a, b := mismatches[i], mismatches[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Brand != b.Brand {
			return a.Brand < b.Brand
		}
		return a.Channel < b.Channel
	})
	return mismatches
}

func lookupChannel(targets kpi.ChannelTargets, channel string) (float64, bool) {
	if amount, ok := targets[channel]; ok {
		return amount, true
	}
	key := kpi.NormalizeKey(channel)
	for label, amount := range targets {
		if kpi.NormalizeKey(label) == key {
			return amount, true
		}
	}
	return 0, false
}

// Merge applies entries on top of table, matching brands and channels by
// normalized key so re-saving "amazon" updates an existing "Amazon" cell.
func Merge(table kpi.TargetTable, entries []Entry) kpi.TargetTable {
	if table == nil {
		table = kpi.TargetTable{}
	}
	for _, e := range entries {
		period, ok := kpi.ParseTargetPeriod(e.Period)
		if !ok {
			continue
		}
		brands := table[e.Year]
		if brands == nil {
			brands = make(map[string]kpi.BrandTargets)
			table[e.Year] = brands
		}
		brand := matchLabel(keysOf(brands), e.Brand)
		periods := brands[brand]
		if periods == nil {
			periods = make(kpi.BrandTargets)
			brands[brand] = periods
		}
		channels := periods[period]
		if channels == nil {
			channels = make(kpi.ChannelTargets)
			periods[period] = channels
		}
		channels[matchLabel(keysOf(channels), e.Channel)] = e.Amount
	}
	return table
}

func keysOf[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func matchLabel(existing []string, label string) string {
	label = strings.TrimSpace(label)
	key := kpi.NormalizeKey(label)
	for _, candidate := range existing {
		if kpi.NormalizeKey(candidate) == key {
			return candidate
		}
	}
	return label
}
