package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinel-iam/sentinel-iam/internal/audit"
	jobmetrics "github.com/sentinel-iam/sentinel-iam/internal/jobs"
)

const (
	alertLoginFailureBurst = "login_failure_burst"
	alertViolationSpike    = "violation_spike"
)

// SecurityScanJob sweeps the recent audit trail for suspicious patterns:
// repeated failed logins from one address and clusters of refused privileged
// operations by one actor. Findings are appended back to the trail as
// security_alert entries.
type SecurityScanJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSecurityScanJob initialises the scan handler.
func NewSecurityScanJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *SecurityScanJob {
	return &SecurityScanJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one scan.
func (j *SecurityScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil {
		return errors.New("security scan: handler not configured")
	}
	var payload SecurityScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WindowMinutes <= 0 {
		payload.WindowMinutes = 60
	}
	if payload.FailedLoginThreshold <= 0 {
		payload.FailedLoginThreshold = 5
	}
	if payload.ViolationThreshold <= 0 {
		payload.ViolationThreshold = 3
	}

	start := j.now()
	tracker := j.metrics().Track(TaskSecurityScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	// one scan id ties the log lines and every alert it produces together
	scanID := uuid.NewString()
	logger := j.logger().With(
		slog.String("scan_id", scanID),
		slog.Int("window_minutes", payload.WindowMinutes),
		slog.Int("failed_login_threshold", payload.FailedLoginThreshold),
		slog.Int("violation_threshold", payload.ViolationThreshold),
	)
	logger.Info("starting security scan")

	since := start.Add(-time.Duration(payload.WindowMinutes) * time.Minute)

	bursts, err := j.failedLoginBursts(ctx, since, payload.FailedLoginThreshold)
	if err != nil {
		resultErr = err
		logger.Error("scan failed logins", slog.Any("error", err))
		return resultErr
	}
	spikes, err := j.violationSpikes(ctx, since, payload.ViolationThreshold)
	if err != nil {
		resultErr = err
		logger.Error("scan violations", slog.Any("error", err))
		return resultErr
	}

	for _, b := range bursts {
		logger.Warn("login failure burst detected",
			slog.String("ip_address", b.IP),
			slog.Int("failures", b.Count),
		)
		entry := audit.SecurityAlert(alertLoginFailureBurst, map[string]any{
			"scan_id":        scanID,
			"ip_address":     b.IP,
			"failures":       b.Count,
			"window_minutes": payload.WindowMinutes,
		})
		if err := audit.Insert(ctx, j.Pool, entry); err != nil {
			resultErr = err
			logger.Error("record alert", slog.Any("error", err))
			return resultErr
		}
		j.metrics().AddAlerts(alertLoginFailureBurst, 1)
	}
	for _, v := range spikes {
		logger.Warn("violation spike detected",
			slog.Int64("performed_by", v.UserID),
			slog.Int("violations", v.Count),
		)
		entry := audit.SecurityAlert(alertViolationSpike, map[string]any{
			"scan_id":        scanID,
			"performed_by":   v.UserID,
			"violations":     v.Count,
			"window_minutes": payload.WindowMinutes,
		})
		if err := audit.Insert(ctx, j.Pool, entry); err != nil {
			resultErr = err
			logger.Error("record alert", slog.Any("error", err))
			return resultErr
		}
		j.metrics().AddAlerts(alertViolationSpike, 1)
	}

	logger.Info("completed security scan",
		slog.Int("login_bursts", len(bursts)),
		slog.Int("violation_spikes", len(spikes)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

type loginBurst struct {
	IP    string
	Count int
}

type violationSpike struct {
	UserID int64
	Count  int
}

func (j *SecurityScanJob) failedLoginBursts(ctx context.Context, since time.Time, threshold int) ([]loginBurst, error) {
	if j.Pool == nil {
		return nil, errors.New("security scan: pool not configured")
	}
	rows, err := j.Pool.Query(ctx,
		`SELECT ip_address, COUNT(*) FROM audit_logs
		 WHERE action = $1 AND created_at >= $2 AND ip_address IS NOT NULL
		 GROUP BY ip_address
		 HAVING COUNT(*) >= $3
		 ORDER BY COUNT(*) DESC`,
		audit.ActionLoginFailed, since, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bursts []loginBurst
	for rows.Next() {
		var b loginBurst
		if err := rows.Scan(&b.IP, &b.Count); err != nil {
			return nil, err
		}
		bursts = append(bursts, b)
	}
	return bursts, rows.Err()
}

func (j *SecurityScanJob) violationSpikes(ctx context.Context, since time.Time, threshold int) ([]violationSpike, error) {
	if j.Pool == nil {
		return nil, errors.New("security scan: pool not configured")
	}
	rows, err := j.Pool.Query(ctx,
		`SELECT performed_by, COUNT(*) FROM audit_logs
		 WHERE action = $1 AND created_at >= $2 AND performed_by IS NOT NULL
		 GROUP BY performed_by
		 HAVING COUNT(*) >= $3
		 ORDER BY COUNT(*) DESC`,
		audit.ActionSecurityViolation, since, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spikes []violationSpike
	for rows.Next() {
		var v violationSpike
		if err := rows.Scan(&v.UserID, &v.Count); err != nil {
			return nil, err
		}
		spikes = append(spikes, v)
	}
	return spikes, rows.Err()
}

func (j *SecurityScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSecurityScan))
	}
	return slog.Default().With(slog.String("job", TaskSecurityScan))
}

func (j *SecurityScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SecurityScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
