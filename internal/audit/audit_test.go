package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fpauthd/internal/coordinator"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	log, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func TestRecordOutcome_RoundTripsThroughQuery(t *testing.T) {
	log := openTestLog(t)

	rec := coordinator.AuditRecord{
		Kind:       coordinator.OperationEnroll,
		UserID:     1000,
		UniqueID:   coordinator.OperationUniqueId{UserID: 1000, OperationID: 0},
		StartedAt:  time.Now().Add(-time.Second),
		FinishedAt: time.Now(),
		Outcome:    "Success",
		Detail:     "images=4",
	}
	require.NoError(t, log.RecordOutcome(rec))

	rows, err := log.Query(context.Background(), QueryFilter{HasUser: true, UserID: 1000})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "enroll", rows[0].Kind)
	assert.Equal(t, uint32(1000), rows[0].UserID)
	assert.Equal(t, "Success", rows[0].Outcome)
}

func TestQuery_FiltersByOutcomeAndUser(t *testing.T) {
	log := openTestLog(t)

	require.NoError(t, log.RecordOutcome(coordinator.AuditRecord{
		Kind: coordinator.OperationMatch, UserID: 1, Outcome: "Success",
		StartedAt: time.Now(), FinishedAt: time.Now(),
	}))
	require.NoError(t, log.RecordOutcome(coordinator.AuditRecord{
		Kind: coordinator.OperationMatch, UserID: 2, Outcome: "NoMatch",
		StartedAt: time.Now(), FinishedAt: time.Now(),
	}))

	rows, err := log.Query(context.Background(), QueryFilter{Outcome: "NoMatch"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, uint32(2), rows[0].UserID)
}

func TestCleanup_RemovesOldRows(t *testing.T) {
	log := openTestLog(t)

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, log.RecordOutcome(coordinator.AuditRecord{
		Kind: coordinator.OperationEnroll, UserID: 1, Outcome: "Success",
		StartedAt: old, FinishedAt: old,
	}))
	require.NoError(t, log.RecordOutcome(coordinator.AuditRecord{
		Kind: coordinator.OperationEnroll, UserID: 1, Outcome: "Success",
		StartedAt: time.Now(), FinishedAt: time.Now(),
	}))

	require.NoError(t, log.Cleanup(context.Background(), 24*time.Hour))

	rows, err := log.Query(context.Background(), QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
