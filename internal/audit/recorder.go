package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"applock-service/internal/bucketing"
	"applock-service/internal/client"
	"applock-service/internal/config"
	"applock-service/internal/model"
	"applock-service/internal/util"
)

const insertLoginActivity = `
	INSERT INTO login_activity
		(event_id, device_id, device_name, login_method,
		 is_authorized_device, device_bucket, date_bucket, occurred_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// Recorder is the audit side-channel: every unlock is published to Kafka
// and written to ClickHouse, and logins from unregistered devices raise a
// security alert in Elasticsearch. Errors here must never block an unlock,
// so all failures are logged and swallowed by the caller.
type Recorder struct {
	producer   *client.KafkaProducer
	clickhouse *client.ClickHouseClient
	es         *client.ESClient
	bucketing  *bucketing.BucketingManager
	config     *config.Config
}

func NewRecorder(
	producer *client.KafkaProducer,
	clickhouse *client.ClickHouseClient,
	es *client.ESClient,
	bucketingMgr *bucketing.BucketingManager,
	cfg *config.Config,
) *Recorder {
	util.Info("Audit recorder initialized",
		zap.String("activity_topic", cfg.Kafka.ActivityTopic),
		zap.String("alert_topic", cfg.Kafka.AlertTopic),
		zap.String("alert_index", cfg.Elasticsearch.AlertIndex))

	return &Recorder{
		producer:   producer,
		clickhouse: clickhouse,
		es:         es,
		bucketing:  bucketingMgr,
		config:     cfg,
	}
}

// RecordLogin publishes an unlock event to the activity topic and writes
// the row used by the "last active" dashboards.
func (r *Recorder) RecordLogin(ctx context.Context, activity *model.LoginActivity) error {
	if activity.OccurredAt.IsZero() {
		activity.OccurredAt = time.Now().UTC()
	}
	activity.DeviceBucket = r.bucketing.GetDeviceBucket(activity.DeviceID)

	payload, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal login activity: %w", err)
	}

	if err := r.producer.ProduceMessage(ctx, r.config.Kafka.ActivityTopic,
		[]byte(activity.DeviceID), payload,
		map[string]string{"event_type": "login"}); err != nil {
		util.Error("Failed to publish login activity",
			zap.String("device_id", activity.DeviceID),
			zap.Error(err))
		return fmt.Errorf("failed to publish login activity: %w", err)
	}

	if err := r.clickhouse.Exec(ctx, insertLoginActivity,
		activity.EventID,
		activity.DeviceID,
		activity.DeviceName,
		activity.LoginMethod,
		activity.IsAuthorizedDevice,
		activity.DeviceBucket,
		r.bucketing.GetDateBucket(),
		activity.OccurredAt,
	); err != nil {
		util.Error("Failed to insert login activity row",
			zap.String("event_id", activity.EventID),
			zap.Error(err))
		return fmt.Errorf("failed to insert login activity row: %w", err)
	}

	util.Debug("Login activity recorded",
		zap.String("device_id", activity.DeviceID),
		zap.String("login_method", activity.LoginMethod),
		zap.Bool("authorized_device", activity.IsAuthorizedDevice))

	return nil
}

// RecordAlert indexes an unauthorized-device alert and mirrors it to the
// alert topic for downstream notification consumers.
func (r *Recorder) RecordAlert(ctx context.Context, alert *model.SecurityAlert) error {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	res, err := r.es.IndexDocument(ctx, r.config.Elasticsearch.AlertIndex, alert.AlertID, alert)
	if err != nil {
		util.Error("Failed to index security alert",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err))
		return fmt.Errorf("failed to index security alert: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		util.Error("Security alert indexing rejected",
			zap.String("alert_id", alert.AlertID),
			zap.String("status", res.Status()))
		return fmt.Errorf("security alert indexing rejected: %s", res.Status())
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal security alert: %w", err)
	}

	if err := r.producer.ProduceMessage(ctx, r.config.Kafka.AlertTopic,
		[]byte(alert.DeviceID), payload,
		map[string]string{"event_type": "security_alert"}); err != nil {
		util.Error("Failed to publish security alert",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err))
		return fmt.Errorf("failed to publish security alert: %w", err)
	}

	util.Warn("Security alert raised",
		zap.String("device_id", alert.DeviceID),
		zap.String("device_name", alert.DeviceName),
		zap.String("reason", alert.Reason))

	return nil
}
