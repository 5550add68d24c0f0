package anomaly

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/moolen/driftwatch/internal/models"
)

// Feature column layout. Order is part of the model contract: a trained
// normalizer and classifier are only valid for this exact layout.
const (
	FeatValue = iota
	FeatHour
	FeatDayOfWeek
	FeatRollingMean
	FeatRollingStd
	FeatDiff
	FeatChangeRate

	NumFeatures
)

// DefaultRollingWindow is the number of trailing points used for the
// rolling mean/std columns.
const DefaultRollingWindow = 24

// Extractor derives one feature vector per reading from a chronological
// run of readings belonging to a single sensor.
type Extractor struct {
	rolling int
}

// NewExtractor returns an extractor using a trailing window of `rolling`
// points for the rolling statistics columns. Values < 1 fall back to
// DefaultRollingWindow.
func NewExtractor(rolling int) *Extractor {
	if rolling < 1 {
		rolling = DefaultRollingWindow
	}
	return &Extractor{rolling: rolling}
}

// Features computes the feature matrix for readings, one row per reading
// in chronological order. The input is sorted by timestamp internally,
// callers need not pre-sort; the input slice is never mutated.
//
// Rolling statistics use at most the trailing `rolling` points including
// the current one; a single-point window has std 0. The diff and
// change-rate columns are 0 for the first reading, and the change rate is
// 0 when the previous value is 0 so a zero predecessor never produces an
// infinite rate.
func (e *Extractor) Features(readings []models.Reading) [][]float64 {
	readings = chronological(readings)

	out := make([][]float64, len(readings))
	values := make([]float64, len(readings))
	for i, r := range readings {
		values[i] = r.Value
	}

	for i, r := range readings {
		row := make([]float64, NumFeatures)
		row[FeatValue] = r.Value
		row[FeatHour] = float64(r.Timestamp.Hour())
		row[FeatDayOfWeek] = float64(mondayIndexed(r.Timestamp.Weekday()))

		start := i + 1 - e.rolling
		if start < 0 {
			start = 0
		}
		window := values[start : i+1]
		row[FeatRollingMean] = stat.Mean(window, nil)
		row[FeatRollingStd] = sampleStd(window)

		if i > 0 {
			prev := values[i-1]
			row[FeatDiff] = r.Value - prev
			if prev != 0 {
				row[FeatChangeRate] = (r.Value - prev) / prev
			}
		}

		out[i] = row
	}
	return out
}

// chronological returns the readings ordered oldest first, copying only
// when the input is out of order.
func chronological(readings []models.Reading) []models.Reading {
	ordered := true
	for i := 1; i < len(readings); i++ {
		if readings[i].Timestamp.Before(readings[i-1].Timestamp) {
			ordered = false
			break
		}
	}
	if ordered {
		return readings
	}
	sorted := make([]models.Reading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}

// mondayIndexed maps Go weekdays (Sunday=0) to Monday=0 .. Sunday=6.
func mondayIndexed(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}

// sampleStd is the n-1 denominator standard deviation; 0 for windows of
// fewer than two points.
func sampleStd(window []float64) float64 {
	if len(window) < 2 {
		return 0
	}
	sd := stat.StdDev(window, nil)
	if math.IsNaN(sd) {
		return 0
	}
	return sd
}
