package observability

import (
	"time"
)

// Window selects the bucket size of a trend.
type Window string

// Trend windows.
const (
	WindowHourly Window = "hourly"
	WindowDaily  Window = "daily"
)

// Direction of a trend.
type Direction string

// Trend directions.
const (
	Increasing Direction = "increasing"
	Decreasing Direction = "decreasing"
	Stable     Direction = "stable"
)

// Bucket counts requests in one window.
type Bucket struct {
	Start     time.Time `json:"start"`
	Requests  int       `json:"requests"`
	Fallbacks int       `json:"fallbacks"`
}

// Rate is the fallback rate of the bucket.
func (b Bucket) Rate() float64 {
	if b.Requests == 0 {
		return 0
	}
	return float64(b.Fallbacks) / float64(b.Requests)
}

// TrendReport compares the fallback rate of the older half of the buckets
// with the newer half.
type TrendReport struct {
	Window         Window    `json:"window"`
	Direction      Direction `json:"direction"`
	FirstHalfRate  float64   `json:"firstHalfRate"`
	SecondHalfRate float64   `json:"secondHalfRate"`
	Buckets        []Bucket  `json:"buckets"`
}

// windowSeries keeps the buckets of a fixed size that fall within the last
// max windows, oldest first. Windows without traffic have no bucket.
type windowSeries struct {
	size    time.Duration
	max     int
	buckets []Bucket
}

func newWindowSeries(size time.Duration, max int) *windowSeries {
	return &windowSeries{size: size, max: max}
}

// prune drops buckets that started before the oldest window ending at now.
func (w *windowSeries) prune(now time.Time) {
	cutoff := now.Truncate(w.size).Add(-time.Duration(w.max-1) * w.size)

	i := 0
	for i < len(w.buckets) && w.buckets[i].Start.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.buckets = append([]Bucket(nil), w.buckets[i:]...)
	}
}

func (w *windowSeries) add(now time.Time, isFallback bool) {
	w.prune(now)
	start := now.Truncate(w.size)

	if n := len(w.buckets); n == 0 || !w.buckets[n-1].Start.Equal(start) {
		w.buckets = append(w.buckets, Bucket{Start: start})
	}

	b := &w.buckets[len(w.buckets)-1]
	b.Requests++
	if isFallback {
		b.Fallbacks++
	}
}

func (w *windowSeries) snapshot(now time.Time) []Bucket {
	w.prune(now)
	return append([]Bucket(nil), w.buckets...)
}

// Trend reports whether the fallback rate is rising or falling over the
// last 48 hours (hourly) or 30 days (daily). A change of more than 10% between halves is a trend.
func (m *Monitor) Trend(window Window) TrendReport {
	m.mu.Lock()
	now := m.config.Now()
	var buckets []Bucket
	if window == WindowDaily {
		buckets = m.daily.snapshot(now)
	} else {
		window = WindowHourly
		buckets = m.hourly.snapshot(now)
	}
	m.mu.Unlock()

	report := TrendReport{Window: window, Direction: Stable, Buckets: buckets}
	if len(buckets) < 2 {
		return report
	}

	half := len(buckets) / 2
	report.FirstHalfRate = averageRate(buckets[:half])
	report.SecondHalfRate = averageRate(buckets[half:])

	switch {
	case report.SecondHalfRate > report.FirstHalfRate*1.1:
		report.Direction = Increasing
	case report.SecondHalfRate < report.FirstHalfRate*0.9:
		report.Direction = Decreasing
	}
	return report
}

func averageRate(buckets []Bucket) float64 {
	if len(buckets) == 0 {
		return 0
	}
	var sum float64
	for _, b := range buckets {
		sum += b.Rate()
	}
	return sum / float64(len(buckets))
}
