package db

import (
	"math"
	"testing"
	"time"
)

func TestComputeStatsWeeklyRhythm(t *testing.T) {
	t.Parallel()
	day := func(d int) time.Time {
		return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC)
	}
	// four Monday deliveries and one Thursday outlier
	dates := []time.Time{day(3), day(10), day(17), day(24), day(27)}

	stats := computeStats("fresh farms", dates)

	if stats.SampleSize != 5 {
		t.Errorf("sample size = %d, want 5", stats.SampleSize)
	}
	if len(stats.TypicalWeekdays) != 1 || stats.TypicalWeekdays[0] != time.Monday {
		t.Errorf("typical weekdays = %v, want [Monday]", stats.TypicalWeekdays)
	}
	// gaps 7,7,7,3 days
	if math.Abs(stats.AvgDaysBetween-6.0) > 1e-9 {
		t.Errorf("avg gap = %v, want 6.0", stats.AvgDaysBetween)
	}
	if math.Abs(stats.StdDaysBetween-math.Sqrt(3)) > 1e-9 {
		t.Errorf("std gap = %v, want sqrt(3)", stats.StdDaysBetween)
	}

	if !stats.DeliversOn(time.Monday) {
		t.Error("expected Monday delivery")
	}
	if stats.DeliversOn(time.Tuesday) {
		t.Error("unexpected Tuesday delivery")
	}
}

func TestComputeStatsSingleDelivery(t *testing.T) {
	t.Parallel()
	stats := computeStats("acme", []time.Time{time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)})
	if stats.AvgDaysBetween != 0 || stats.StdDaysBetween != 0 {
		t.Errorf("gap stats = %v/%v, want zero with one sample", stats.AvgDaysBetween, stats.StdDaysBetween)
	}
	if len(stats.TypicalWeekdays) != 0 {
		t.Errorf("typical weekdays = %v, want none below min support", stats.TypicalWeekdays)
	}
}
