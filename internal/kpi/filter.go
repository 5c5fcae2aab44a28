package kpi

import "strings"

// FilterRecords narrows normalized records to the caller's permitted scope,
// the selected brand and finally the selected period window.
func FilterRecords(records []NormalizedRecord, sel ViewSelector) []NormalizedRecord {
	if ValidateView(sel.View) != nil {
		return nil
	}
	var allowedBrands, allowedChannels map[string]struct{}
	if !sel.Unrestricted {
		allowedBrands = keySet(sel.AvailableBrands)
		allowedChannels = keySet(sel.AvailableChannels)
	}
	brandKey := ""
	if !isAllBrands(sel.Brand) {
		brandKey = NormalizeKey(sel.Brand)
	}
	start, end := sel.View.Bounds()

	out := make([]NormalizedRecord, 0, len(records))
	for _, rec := range records {
		if !sel.Unrestricted {
			if _, ok := allowedBrands[rec.BrandKey]; !ok {
				continue
			}
			if _, ok := allowedChannels[rec.ChannelKey]; !ok {
				continue
			}
		}
		if brandKey != "" && rec.BrandKey != brandKey {
			continue
		}
		if rec.Date.IsZero() {
			continue
		}
		if rec.Date.Before(start) || rec.Date.After(end) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func isAllBrands(brand string) bool {
	brand = strings.TrimSpace(brand)
	return brand == "" || strings.EqualFold(brand, AllBrands)
}
