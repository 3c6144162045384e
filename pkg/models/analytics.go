package models

import "time"

// DayBucket aggregates the samples of one calendar day. Derived on every
// aggregation and never persisted.
type DayBucket struct {
	Date    time.Time `json:"date"`
	DateKey string    `json:"date_key"`
	Label   string    `json:"label"`
	Average float64   `json:"average"`
	Count   int       `json:"count"`
}

// SummaryStats covers only buckets with a non-zero average.
type SummaryStats struct {
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}
