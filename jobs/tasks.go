package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSecurityScan is the task type for the periodic audit-trail scan.
	TaskSecurityScan = "security:scan"
)

// SecurityScanPayload tunes one scan of the audit trail.
type SecurityScanPayload struct {
	WindowMinutes        int `json:"window_minutes"`
	FailedLoginThreshold int `json:"failed_login_threshold"`
	ViolationThreshold   int `json:"violation_threshold"`
}

// NewSecurityScanTask constructs an Asynq task for a security scan.
func NewSecurityScanTask(payload SecurityScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSecurityScan, data), nil
}
