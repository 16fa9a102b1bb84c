package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/KevinKickass/OpenRigCore/internal/machine"
)

var _ machine.TransitionRecorder = (*PostgresClient)(nil)

// RecordTransition stores one state change of a sequence run.
func (p *PostgresClient) RecordTransition(ctx context.Context, runID uuid.UUID, t machine.Transition) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO rig_transitions (run_id, from_state, to_state, at)
		VALUES ($1, $2, $3, $4)
	`, runID, t.From, t.To, t.At)

	if err != nil {
		return fmt.Errorf("failed to insert transition: %w", err)
	}
	return nil
}

// Transitions returns the transitions of a run in order.
func (p *PostgresClient) Transitions(ctx context.Context, runID uuid.UUID) ([]TransitionRecord, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, run_id, from_state, to_state, at
		FROM rig_transitions
		WHERE run_id = $1
		ORDER BY at, id
	`, runID)

	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	records := make([]TransitionRecord, 0)
	for rows.Next() {
		var r TransitionRecord
		if err := rows.Scan(&r.ID, &r.RunID, &r.From, &r.To, &r.At); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}
