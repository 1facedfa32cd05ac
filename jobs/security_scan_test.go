package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func TestSecurityScanSkipsRetryOnBadPayload(t *testing.T) {
	job := NewSecurityScanJob(nil, nil, nil)

	task := asynq.NewTask(TaskSecurityScan, []byte("{not json"))
	err := job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSecurityScanFailsWithoutPool(t *testing.T) {
	job := NewSecurityScanJob(nil, nil, nil)

	task, err := NewSecurityScanTask(SecurityScanPayload{})
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestNewSecurityScanTaskRoundTrip(t *testing.T) {
	task, err := NewSecurityScanTask(SecurityScanPayload{
		WindowMinutes:        30,
		FailedLoginThreshold: 10,
		ViolationThreshold:   2,
	})
	require.NoError(t, err)
	require.Equal(t, TaskSecurityScan, task.Type())
	require.Contains(t, string(task.Payload()), "\"window_minutes\":30")
}
