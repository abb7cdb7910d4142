package booking

import "time"

// TotalAmount prices [start, end) at hourlyRateCents per started hour.
func TotalAmount(start, end time.Time, hourlyRateCents int64) int64 {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	hours := int64(d / time.Hour)
	if d%time.Hour != 0 {
		hours++
	}
	return hours * hourlyRateCents
}
