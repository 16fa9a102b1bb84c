package storage

import (
	"time"

	"github.com/google/uuid"
)

type Reading struct {
	ID         uuid.UUID `json:"id"`
	RecordedAt time.Time `json:"recorded_at"`
	Source     string    `json:"source"`
	Peripheral int       `json:"peripheral"`
	Value      float64   `json:"value"`
}

type TransitionRecord struct {
	ID    int64     `json:"id"`
	RunID uuid.UUID `json:"run_id"`
	From  string    `json:"from"`
	To    string    `json:"to"`
	At    time.Time `json:"at"`
}
