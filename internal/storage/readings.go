package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/KevinKickass/OpenRigCore/internal/telemetry"
)

var _ telemetry.Sink = (*PostgresClient)(nil)

// Publish stores one telemetry record.
func (p *PostgresClient) Publish(ctx context.Context, d telemetry.Data) error {
	id := d.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	_, err := p.db.Exec(ctx, `
		INSERT INTO rig_readings (id, recorded_at, source, peripheral, value)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, id, d.Time(), d.Source, int(d.Peripheral), d.Value)

	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// RecentReadings returns the newest readings for source, newest first.
func (p *PostgresClient) RecentReadings(ctx context.Context, source string, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.db.Query(ctx, `
		SELECT id, recorded_at, source, peripheral, value
		FROM rig_readings
		WHERE source = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, source, limit)

	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	readings := make([]Reading, 0)
	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.ID, &r.RecordedAt, &r.Source, &r.Peripheral, &r.Value); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}

	return readings, rows.Err()
}
