package kpi

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	dateLayout = "2006-01-02"

	// MinRevenue and MaxRevenue bound a plausible single row; anything outside is a data error.
	MinRevenue = -1_000_000
	MaxRevenue = 100_000_000
)

var dateLayouts = []string{
	dateLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
}

// Normalize validates raw records against now and derives canonical keys.
// Invalid rows are excluded and accounted for in the returned Diagnostics.
func Normalize(records []SalesRecord, now time.Time) ([]NormalizedRecord, Diagnostics) {
	diag := Diagnostics{Received: len(records)}
	today := dayOf(now)
	latest := today.AddDate(1, 0, 0)
	earliest := today.AddDate(-10, 0, 0)

	out := make([]NormalizedRecord, 0, len(records))
	for i, rec := range records {
		date, ok := ParseDate(rec.Date)
		if !ok {
			diag.drop(i, DropInvalidDate, rec)
			continue
		}
		if date.After(latest) || date.Before(earliest) {
			diag.drop(i, DropDateOutOfRange, rec)
			continue
		}
		revenue, ok := CoerceRevenue(rec.Revenue)
		if !ok {
			diag.drop(i, DropInvalidRevenue, rec)
			continue
		}
		if revenue < MinRevenue || revenue > MaxRevenue {
			diag.drop(i, DropRevenueOutOfRange, rec)
			continue
		}
		brand := strings.TrimSpace(rec.Brand)
		channel := strings.TrimSpace(rec.Channel)
		brandKey, channelKey := NormalizeKey(brand), NormalizeKey(channel)
		if brandKey == "" || channelKey == "" {
			diag.drop(i, DropMissingLabel, rec)
			continue
		}
		out = append(out, NormalizedRecord{
			Date:       date,
			DateKey:    date.Format(dateLayout),
			Brand:      brand,
			BrandKey:   brandKey,
			Channel:    channel,
			ChannelKey: channelKey,
			SKU:        strings.TrimSpace(rec.SKU),
			Units:      rec.Units,
			Revenue:    revenue,
		})
	}
	diag.Accepted = len(out)
	return out, diag
}

// ParseDate accepts the date shapes produced by uploads and the REST backend
// and truncates the result to a UTC calendar day.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return dayOf(t), true
		}
	}
	return time.Time{}, false
}

// NormalizeKey folds a brand or channel label into its matching key:
// diacritics removed, case folded, "&" spelled "and", and everything but
// letters and digits dropped. Non-Latin scripts keep their letters.
func NormalizeKey(label string) string {
	if label == "" {
		return ""
	}
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, label)
	if err != nil {
		folded = label
	}
	folded = cases.Fold().String(folded)
	folded = strings.ReplaceAll(folded, "&", "and")

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func keySet(labels []string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		if key := NormalizeKey(label); key != "" {
			set[key] = struct{}{}
		}
	}
	return set
}
