package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/paperledger/invoice-recon-service/internal/models"
	"github.com/paperledger/invoice-recon-service/internal/pairing"
)

// statsLookback bounds how much delivery history feeds the rhythm
// stats. Suppliers change routes; old history misleads.
const statsLookback = 180 * 24 * time.Hour

// typicalWeekdayShare is the share of deliveries a weekday needs to
// count as typical for the supplier.
const typicalWeekdayShare = 0.2

// GetSupplierStats returns stored rhythm stats for a canonical
// supplier name, or nil when none exist.
func GetSupplierStats(ctx context.Context, supplier string) (*models.SupplierStats, error) {
	if Pool == nil {
		return nil, ErrNoDatabase
	}
	var stats models.SupplierStats
	var weekdaysJSON []byte
	err := Pool.QueryRow(ctx, `
		SELECT supplier, typical_weekdays, avg_days_between, std_days_between, sample_size, updated_at
		FROM supplier_stats WHERE supplier = $1
	`, supplier).Scan(
		&stats.Supplier, &weekdaysJSON, &stats.AvgDaysBetween,
		&stats.StdDaysBetween, &stats.SampleSize, &stats.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(weekdaysJSON, &stats.TypicalWeekdays); err != nil {
		return nil, fmt.Errorf("decoding weekdays: %w", err)
	}
	return &stats, nil
}

// RecomputeSupplierStats rebuilds rhythm stats for one supplier from
// its recent delivery notes and upserts the result. Called after each
// delivery note is saved.
func RecomputeSupplierStats(ctx context.Context, supplierName string) (*models.SupplierStats, error) {
	if Pool == nil {
		return nil, ErrNoDatabase
	}
	canonical := pairing.CanonicalSupplier(supplierName)
	if canonical == "" {
		return nil, nil
	}

	rows, err := Pool.Query(ctx, `
		SELECT supplier_name, note_date FROM delivery_notes
		WHERE note_date >= $1 AND note_date IS NOT NULL
	`, time.Now().Add(-statsLookback))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var name string
		var date time.Time
		if err := rows.Scan(&name, &date); err != nil {
			return nil, err
		}
		if pairing.CanonicalSupplier(name) == canonical {
			dates = append(dates, date)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return nil, nil
	}

	stats := computeStats(canonical, dates)

	weekdaysJSON, err := json.Marshal(stats.TypicalWeekdays)
	if err != nil {
		return nil, err
	}
	_, err = Pool.Exec(ctx, `
		INSERT INTO supplier_stats (supplier, typical_weekdays, avg_days_between, std_days_between, sample_size, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (supplier) DO UPDATE SET
			typical_weekdays = EXCLUDED.typical_weekdays,
			avg_days_between = EXCLUDED.avg_days_between,
			std_days_between = EXCLUDED.std_days_between,
			sample_size = EXCLUDED.sample_size,
			updated_at = EXCLUDED.updated_at
	`, stats.Supplier, weekdaysJSON, stats.AvgDaysBetween, stats.StdDaysBetween,
		stats.SampleSize, stats.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upserting supplier stats: %w", err)
	}
	return stats, nil
}

// computeStats derives the weekday histogram and the gap distribution
// from a supplier's delivery dates.
func computeStats(supplier string, dates []time.Time) *models.SupplierStats {
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	counts := map[time.Weekday]int{}
	for _, d := range dates {
		counts[d.Weekday()]++
	}
	var typical []time.Weekday
	for day := time.Sunday; day <= time.Saturday; day++ {
		n := counts[day]
		if n >= 2 && float64(n) >= typicalWeekdayShare*float64(len(dates)) {
			typical = append(typical, day)
		}
	}

	var gaps []float64
	for i := 1; i < len(dates); i++ {
		gaps = append(gaps, dates[i].Sub(dates[i-1]).Hours()/24)
	}
	var mean, std float64
	if len(gaps) > 0 {
		for _, g := range gaps {
			mean += g
		}
		mean /= float64(len(gaps))
		for _, g := range gaps {
			std += (g - mean) * (g - mean)
		}
		std = math.Sqrt(std / float64(len(gaps)))
	}

	return &models.SupplierStats{
		Supplier:        supplier,
		TypicalWeekdays: typical,
		AvgDaysBetween:  mean,
		StdDaysBetween:  std,
		SampleSize:      len(dates),
		UpdatedAt:       time.Now(),
	}
}
