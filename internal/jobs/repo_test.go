package jobs

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"keepsake/internal/gift"
	"keepsake/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestRepo_EnqueueAndTransitions(t *testing.T) {
	gdb := testutil.OpenDB(t)
	r := NewRepo(gdb)
	ctx := context.Background()
	runAt := time.Now().Add(time.Minute).UTC().Truncate(time.Second)

	require.NoError(t, r.EnqueueNotification(ctx, gift.KindCollection, "c1", "b@example.com", runAt))

	var j Job
	require.NoError(t, gdb.First(&j).Error)
	assert.Equal(t, TypeUnlockNotification, j.Type)
	assert.Equal(t, StatusPending, j.Status)
	assert.Equal(t, 6, j.MaxAttempts)
	assert.True(t, runAt.Equal(j.RunAt))

	var p NotificationPayload
	require.NoError(t, json.Unmarshal(j.Payload, &p))
	assert.Equal(t, NotificationPayload{EntityID: "c1", Kind: "card-collection", Recipient: "b@example.com"}, p)

	next := runAt.Add(time.Hour)
	require.NoError(t, r.RetryLater(ctx, j.ID, 2, next, "503"))
	require.NoError(t, gdb.First(&j, j.ID).Error)
	assert.Equal(t, StatusPending, j.Status)
	assert.Equal(t, 2, j.Attempts)
	require.NotNil(t, j.LastError)
	assert.Equal(t, "503", *j.LastError)
	assert.Nil(t, j.LockedBy)

	require.NoError(t, r.MarkFailed(ctx, j.ID, "gave up"))
	require.NoError(t, gdb.First(&j, j.ID).Error)
	assert.Equal(t, StatusFailed, j.Status)

	require.NoError(t, r.MarkDone(ctx, j.ID))
	require.NoError(t, gdb.First(&j, j.ID).Error)
	assert.Equal(t, StatusDone, j.Status)
}

func TestRepo_ClaimUsesSkipLocked(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)
	r := NewRepo(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`set status='PENDING', locked_by=null`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`for update skip locked`).
		WithArgs("w1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "status", "attempts", "max_attempts"}).
			AddRow(7, TypeUnlockNotification, StatusRunning, 1, 6))
	mock.ExpectCommit()

	job, err := r.Claim(context.Background(), "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, uint64(7), job.ID)
	assert.Equal(t, 1, job.Attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_ClaimNothingDue(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`update jobs`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`for update skip locked`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	job, err := NewRepo(gdb).Claim(context.Background(), "w1")
	require.NoError(t, err)
	assert.Nil(t, job)
}
