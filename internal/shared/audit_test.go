package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingQuerier struct {
	args []any
	err  error
}

func (q *recordingQuerier) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	q.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), q.err
}

func (q *recordingQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func TestAuditLoggerRecord(t *testing.T) {
	q := &recordingQuerier{}
	logger := NewAuditLogger(q)
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.FixedZone("WAT", 3600))

	require.NoError(t, logger.Record(context.Background(), AuditLog{ActorID: 2, Action: "return.create", Entity: "sales_return", EntityID: "7", At: at}))
	require.Len(t, q.args, 6)
	assert.Equal(t, []byte(`{}`), q.args[4])
	stamp, ok := q.args[5].(*time.Time)
	require.True(t, ok)
	assert.Equal(t, time.UTC, stamp.Location())

	require.NoError(t, logger.Record(context.Background(), AuditLog{Action: "sale.record", Entity: "sale_receipt", EntityID: "1"}))
	assert.Nil(t, q.args[5].(*time.Time))

	assert.ErrorIs(t, logger.Record(context.Background(), AuditLog{Action: "sale.record"}), ErrValidation)

	q.err = errors.New("connection reset")
	assert.ErrorContains(t, logger.Record(context.Background(), AuditLog{Action: "a", Entity: "b", EntityID: "c"}), "audit: insert a")

	var nilLogger *AuditLogger
	assert.Error(t, nilLogger.Record(context.Background(), AuditLog{}))
}
