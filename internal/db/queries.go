package db

import (
	"context"
	"fmt"
	"time"

	"github.com/G4FproAPI/Astra-OSS/internal/models"
)

func (db *DB) LogRequest(ctx context.Context, log models.RequestLog) error {
	query := `
        INSERT INTO request_logs (account_id, model, provider, stream, status_code, usage_charge, duration_ms, error, timestamp)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `

	ts := log.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := db.Pool.Exec(ctx, query,
		log.AccountID,
		log.Model,
		log.Provider,
		log.Stream,
		log.StatusCode,
		log.UsageCharge,
		log.DurationMs,
		log.Error,
		ts,
	)

	return err
}

// GetAccountAnalytics aggregates request logs for accountID. from and to are
// optional YYYY-MM-DD dates; to is inclusive.
func (db *DB) GetAccountAnalytics(ctx context.Context, accountID, from, to string) (*models.AccountAnalytics, error) {
	start, end, err := dateRange(from, to)
	if err != nil {
		return nil, err
	}

	stats := &models.AccountAnalytics{
		AccountID:    accountID,
		ByModel:      map[string]int64{},
		UsageByModel: map[string]float64{},
	}

	query := `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE status_code >= 400),
               COALESCE(SUM(usage_charge), 0),
               COALESCE(AVG(duration_ms), 0)::float8
        FROM request_logs
        WHERE account_id = $1 AND timestamp >= $2 AND timestamp < $3
    `
	err = db.Pool.QueryRow(ctx, query, accountID, start, end).Scan(
		&stats.Requests,
		&stats.Failures,
		&stats.UsageCharged,
		&stats.AvgDurationMs,
	)
	if err != nil {
		return nil, err
	}

	rows, err := db.Pool.Query(ctx, `
        SELECT model, COUNT(*), COALESCE(SUM(usage_charge), 0)
        FROM request_logs
        WHERE account_id = $1 AND timestamp >= $2 AND timestamp < $3
        GROUP BY model
    `, accountID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			model string
			count int64
			usage float64
		)
		if err := rows.Scan(&model, &count, &usage); err != nil {
			return nil, err
		}
		stats.ByModel[model] = count
		stats.UsageByModel[model] = usage
	}

	return stats, rows.Err()
}

func dateRange(from, to string) (time.Time, time.Time, error) {
	start := time.Unix(0, 0).UTC()
	end := time.Now().UTC().Add(24 * time.Hour)

	if from != "" {
		t, err := time.Parse(time.DateOnly, from)
		if err != nil {
			return start, end, fmt.Errorf("invalid from date %q: %w", from, err)
		}
		start = t
	}
	if to != "" {
		t, err := time.Parse(time.DateOnly, to)
		if err != nil {
			return start, end, fmt.Errorf("invalid to date %q: %w", to, err)
		}
		end = t.Add(24 * time.Hour)
	}
	return start, end, nil
}
