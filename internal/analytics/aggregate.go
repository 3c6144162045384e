// Package analytics turns pain-log samples into per-day buckets.
package analytics

import (
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/rehabtrack/pkg/models"
)

var (
	ErrInvalidRange  = errors.New("start date is after end date")
	ErrRangeTooLarge = errors.New("date range too large")
	ErrInvalidSample = errors.New("invalid pain sample")
)

// DefaultMaxSpanDays applies when no positive limit is configured.
const DefaultMaxSpanDays = 10

const (
	dateKeyLayout = "2006-01-02"
	labelLayout   = "01-02"
)

// Aggregator binds the span limit for Aggregate.
type Aggregator struct {
	maxSpanDays int
}

func NewAggregator(maxSpanDays int) *Aggregator {
	if maxSpanDays < 1 {
		maxSpanDays = DefaultMaxSpanDays
	}
	return &Aggregator{maxSpanDays: maxSpanDays}
}

// MaxSpanDays returns the largest inclusive range Aggregate accepts.
func (a *Aggregator) MaxSpanDays() int { return a.maxSpanDays }

func (a *Aggregator) Aggregate(samples []models.Sample, start, end time.Time) ([]models.DayBucket, models.SummaryStats, error) {
	return Aggregate(samples, start, end, a.maxSpanDays)
}

// CheckRange validates a range without aggregating anything.
func (a *Aggregator) CheckRange(start, end time.Time) error {
	_, _, err := dayRange(start, end, a.maxSpanDays)
	return err
}

// Aggregate buckets samples by calendar day over [start, end], both taken as
// dates in start's location. Samples are assigned by the local date of
// RecordedAt; samples outside the range or with an out-of-scale value are
// ignored. The result is a pure function of the arguments.
func Aggregate(samples []models.Sample, start, end time.Time, maxSpanDays int) ([]models.DayBucket, models.SummaryStats, error) {
	first, days, err := dayRange(start, end, maxSpanDays)
	if err != nil {
		return nil, models.SummaryStats{}, err
	}
	loc := first.Location()

	buckets := make([]models.DayBucket, days)
	index := make(map[string]int, days)
	for i := range buckets {
		d := first.AddDate(0, 0, i)
		buckets[i] = models.DayBucket{
			Date:    d,
			DateKey: d.Format(dateKeyLayout),
			Label:   d.Format(labelLayout),
		}
		index[buckets[i].DateKey] = i
	}

	sums := make([]int, days)
	for _, s := range samples {
		if s.Value < models.MinPainLevel || s.Value > models.MaxPainLevel {
			continue
		}
		i, ok := index[s.RecordedAt.In(loc).Format(dateKeyLayout)]
		if !ok {
			continue
		}
		sums[i] += s.Value
		buckets[i].Count++
	}

	var stats models.SummaryStats
	var tenthsTotal, minTenths, maxTenths int
	for i := range buckets {
		n := buckets[i].Count
		if n == 0 {
			continue
		}
		tenths := roundHalfUp(10*sums[i], n)
		buckets[i].Average = float64(tenths) / 10

		if stats.Count == 0 || tenths < minTenths {
			minTenths = tenths
		}
		if stats.Count == 0 || tenths > maxTenths {
			maxTenths = tenths
		}
		tenthsTotal += tenths
		stats.Count++
	}
	if stats.Count > 0 {
		stats.Mean = float64(roundHalfUp(tenthsTotal, stats.Count)) / 10
		stats.Min = float64(minTenths) / 10
		stats.Max = float64(maxTenths) / 10
	}
	return buckets, stats, nil
}

// dayRange normalizes [start, end] to midnight of start's calendar day in
// start's location and counts the inclusive days.
func dayRange(start, end time.Time, maxSpanDays int) (time.Time, int, error) {
	if maxSpanDays < 1 {
		maxSpanDays = DefaultMaxSpanDays
	}
	loc := start.Location()
	sy, sm, sd := start.Date()
	ey, em, ed := end.In(loc).Date()

	// Count on UTC civil dates so DST shifts never change the day count.
	civilStart := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	civilEnd := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	if civilEnd.Before(civilStart) {
		return time.Time{}, 0, fmt.Errorf("%w: %s > %s", ErrInvalidRange,
			civilStart.Format(dateKeyLayout), civilEnd.Format(dateKeyLayout))
	}
	days := int(civilEnd.Sub(civilStart).Hours()/24) + 1
	if days > maxSpanDays {
		return time.Time{}, 0, fmt.Errorf("%w: %d days requested, at most %d allowed", ErrRangeTooLarge, days, maxSpanDays)
	}
	return time.Date(sy, sm, sd, 0, 0, 0, 0, loc), days, nil
}

// roundHalfUp returns num/den rounded half-up, for non-negative num and positive den.
func roundHalfUp(num, den int) int {
	return (2*num + den) / (2 * den)
}
