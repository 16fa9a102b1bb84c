package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevinKickass/OpenRigCore/internal/config"
	"github.com/KevinKickass/OpenRigCore/internal/machine"
	"github.com/KevinKickass/OpenRigCore/internal/telemetry"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	calls []execCall
	err   error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func TestPublishInsertsReading(t *testing.T) {
	db := &fakeDB{}
	p := &PostgresClient{db: db}

	d := telemetry.Data{Timestamp: 1700000000.5, Value: 42, Peripheral: telemetry.KindLoadCell, Source: "main_load_cell"}
	require.NoError(t, p.Publish(context.Background(), d))

	require.Len(t, db.calls, 1)
	call := db.calls[0]
	assert.Contains(t, call.sql, "INSERT INTO rig_readings")
	require.Len(t, call.args, 5)
	assert.NotEqual(t, uuid.Nil, call.args[0])
	assert.Equal(t, time.Unix(1700000000, 500_000_000), call.args[1])
	assert.Equal(t, "main_load_cell", call.args[2])
	assert.Equal(t, 0, call.args[3])
	assert.Equal(t, 42.0, call.args[4])
}

func TestPublishWrapsError(t *testing.T) {
	p := &PostgresClient{db: &fakeDB{err: errors.New("connection reset")}}
	err := p.Publish(context.Background(), telemetry.Data{Source: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert reading")
}

func TestRecordTransition(t *testing.T) {
	db := &fakeDB{}
	p := &PostgresClient{db: db}
	runID := uuid.New()
	at := time.Now()

	require.NoError(t, p.RecordTransition(context.Background(), runID, machine.Transition{From: "wait_for_fill", To: "fill", At: at}))

	require.Len(t, db.calls, 1)
	assert.Contains(t, db.calls[0].sql, "INSERT INTO rig_transitions")
	assert.Equal(t, []any{runID, "wait_for_fill", "fill", at}, db.calls[0].args)
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeDB{}
	p := &PostgresClient{db: db}
	require.NoError(t, p.EnsureSchema(context.Background()))
	require.Len(t, db.calls, 1)
	assert.True(t, strings.Contains(db.calls[0].sql, "rig_readings") && strings.Contains(db.calls[0].sql, "rig_transitions"))
}

// TestPostgresRoundTrip runs against a live database when RIG_TEST_DB_HOST is set.
func TestPostgresRoundTrip(t *testing.T) {
	host := os.Getenv("RIG_TEST_DB_HOST")
	if host == "" {
		t.Skip("RIG_TEST_DB_HOST not set")
	}
	ctx := context.Background()
	p, err := NewPostgresClient(ctx, config.DatabaseConfig{
		Host:           host,
		Port:           5432,
		Database:       os.Getenv("RIG_TEST_DB_NAME"),
		User:           os.Getenv("RIG_TEST_DB_USER"),
		Password:       os.Getenv("RIG_TEST_DB_PASSWORD"),
		MaxConnections: 2,
	})
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.EnsureSchema(ctx))

	source := "test_" + uuid.NewString()
	require.NoError(t, p.Publish(ctx, telemetry.Data{Timestamp: 10, Value: 1.5, Peripheral: telemetry.KindServo, Source: source}))
	readings, err := p.RecentReadings(ctx, source, 10)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, 1.5, readings[0].Value)

	runID := uuid.New()
	require.NoError(t, p.RecordTransition(ctx, runID, machine.Transition{From: "a", To: "b", At: time.Now()}))
	records, err := p.Transitions(ctx, runID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "b", records[0].To)
}
