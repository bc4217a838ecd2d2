// services/iotcore/internal/core/telemetry_service.go
package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultPageSize = 50

// TelemetrySearch narrows a telemetry query. Filters apply in priority
// order: device+range first, then device, then tenant, then data type.
type TelemetrySearch struct {
	DeviceID  string     `form:"device_id" json:"device_id"`
	TenantID  string     `form:"tenant_id" json:"tenant_id"`
	DataType  string     `form:"data_type" json:"data_type"`
	StartTime *time.Time `form:"start_time" json:"start_time"`
	EndTime   *time.Time `form:"end_time" json:"end_time"`
	Page      int        `form:"page" json:"page"`
	Size      int        `form:"size" json:"size"`
}

// IngestRequest is a single telemetry point arriving over the REST surface.
type IngestRequest struct {
	DeviceID  string     `json:"device_id" binding:"required"`
	TenantID  string     `json:"tenant_id"`
	DataType  string     `json:"data_type"`
	Payload   string     `json:"payload" binding:"required"`
	Timestamp *time.Time `json:"timestamp"`
	Source    string     `json:"source"`
	Metadata  string     `json:"metadata"`
}

// TelemetryService ingests, queries, and forwards device telemetry.
type TelemetryService struct {
	repo      Repository
	forwarder TelemetryForwarder
	publisher CommandPublisher
	logger    *logrus.Logger
	tenantID  string
}

// NewTelemetryService creates the telemetry service. The forwarder and
// publisher may be nil when the respective transports are disabled.
func NewTelemetryService(repo Repository, forwarder TelemetryForwarder,
	publisher CommandPublisher, logger *logrus.Logger, tenantID string) *TelemetryService {
	return &TelemetryService{
		repo:      repo,
		forwarder: forwarder,
		publisher: publisher,
		logger:    logger,
		tenantID:  tenantID,
	}
}

// HandleBrokerMessage normalizes an MQTT message into a telemetry record and
// stores it. The device id comes from the topic: "<root>/devices/<id>/..."
// topics use the segment after "devices", anything else uses the last
// segment. Malformed topics are dropped with a warning, never a panic.
func (s *TelemetryService) HandleBrokerMessage(ctx context.Context, topic string, payload []byte) error {
	deviceID := deviceIDFromTopic(topic)
	if deviceID == "" {
		s.logger.WithField("topic", topic).Warn("Dropping message with unparseable topic")
		return nil
	}

	record := &TelemetryRecord{
		DeviceID:  deviceID,
		TenantID:  s.tenantID,
		DataType:  DataTypeTelemetry,
		Payload:   string(payload),
		Timestamp: time.Now(),
		Source:    SourceMQTT,
	}
	return s.store(ctx, record)
}

// Ingest stores a single telemetry point from the REST surface.
func (s *TelemetryService) Ingest(ctx context.Context, req IngestRequest) (*TelemetryRecord, error) {
	record := s.fromRequest(req)
	if err := s.store(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// IngestBatch stores a set of telemetry points atomically: either every
// record commits or none do. Forwarding happens after commit and is best
// effort.
func (s *TelemetryService) IngestBatch(ctx context.Context, reqs []IngestRequest) ([]*TelemetryRecord, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	records := make([]*TelemetryRecord, len(reqs))
	for i, req := range reqs {
		records[i] = s.fromRequest(req)
	}

	err := s.repo.WithTransaction(ctx, func(ctx context.Context, tx Repository) error {
		return tx.SaveTelemetryBatch(ctx, records)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save telemetry batch: %w", err)
	}

	for _, record := range records {
		s.forward(ctx, record)
	}

	s.logger.WithField("count", len(records)).Info("Telemetry batch ingested")
	return records, nil
}

// Search runs the highest-priority filter the criteria satisfy. A query
// with no usable filter is rejected rather than returning the whole table.
func (s *TelemetryService) Search(ctx context.Context, q TelemetrySearch) ([]*TelemetryRecord, error) {
	size := q.Size
	if size <= 0 {
		size = defaultPageSize
	}
	page := q.Page
	if page < 0 {
		page = 0
	}

	switch {
	case q.DeviceID != "" && q.StartTime != nil && q.EndTime != nil:
		return s.repo.FindTelemetryByDeviceAndRange(ctx, q.DeviceID, *q.StartTime, *q.EndTime)
	case q.DeviceID != "":
		return s.repo.FindTelemetryByDevice(ctx, q.DeviceID, page, size)
	case q.TenantID != "":
		return s.repo.FindTelemetryByTenant(ctx, q.TenantID, page, size)
	case q.DataType != "":
		return s.repo.FindTelemetryByType(ctx, q.DataType)
	default:
		return nil, ErrMissingFilter
	}
}

// Latest returns the most recent points for a device, newest first.
func (s *TelemetryService) Latest(ctx context.Context, deviceID string, limit int) ([]*TelemetryRecord, error) {
	if deviceID == "" {
		return nil, ErrMissingFilter
	}
	if limit <= 0 {
		limit = 1
	}
	return s.repo.FindLatestTelemetry(ctx, deviceID, limit)
}

// CountSince reports how many points a device produced since the instant.
func (s *TelemetryService) CountSince(ctx context.Context, deviceID string, since time.Time) (int64, error) {
	if deviceID == "" {
		return 0, ErrMissingFilter
	}
	return s.repo.CountTelemetrySince(ctx, deviceID, since)
}

// PublishCommand sends a command payload to a device over the broker and
// records it for audit.
func (s *TelemetryService) PublishCommand(ctx context.Context, deviceID string, payload []byte) error {
	if s.publisher == nil {
		return ErrServiceUnavailable
	}

	topic := fmt.Sprintf("%s/devices/%s/commands", s.tenantID, deviceID)
	if err := s.publisher.Publish(topic, payload); err != nil {
		return fmt.Errorf("failed to publish command: %w", err)
	}

	record := &TelemetryRecord{
		DeviceID:  deviceID,
		TenantID:  s.tenantID,
		DataType:  DataTypeCommand,
		Payload:   string(payload),
		Timestamp: time.Now(),
		Source:    SourceREST,
	}
	if err := s.repo.SaveTelemetry(ctx, record); err != nil {
		s.logger.WithError(err).WithField("device_id", deviceID).
			Error("Command published but audit record failed")
	}

	s.logger.WithFields(logrus.Fields{
		"device_id": deviceID,
		"topic":     topic,
	}).Info("Command published")
	return nil
}

// Republish re-forwards stored records that never reached the downstream
// queue. Used by the republish command after a bus outage.
func (s *TelemetryService) Republish(ctx context.Context, limit int) (int, error) {
	if s.forwarder == nil {
		return 0, ErrServiceUnavailable
	}

	records, err := s.repo.ListUnforwardedTelemetry(ctx, limit)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, record := range records {
		if err := s.forwarder.Forward(ctx, record); err != nil {
			s.logger.WithError(err).WithField("record_id", record.ID).
				Warn("Republish failed, will retry on next run")
			continue
		}
		if err := s.repo.MarkTelemetryForwarded(ctx, record.ID); err != nil {
			return sent, err
		}
		sent++
	}

	s.logger.WithFields(logrus.Fields{
		"pending": len(records),
		"sent":    sent,
	}).Info("Republish pass complete")
	return sent, nil
}

// store persists the record, then forwards it. A forwarding failure never
// fails the ingest; the record stays unforwarded for a later republish.
func (s *TelemetryService) store(ctx context.Context, record *TelemetryRecord) error {
	if err := s.repo.SaveTelemetry(ctx, record); err != nil {
		return fmt.Errorf("failed to save telemetry: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"device_id": record.DeviceID,
		"data_type": record.DataType,
		"source":    record.Source,
	}).Debug("Telemetry stored")

	s.forward(ctx, record)
	return nil
}

func (s *TelemetryService) forward(ctx context.Context, record *TelemetryRecord) {
	if s.forwarder == nil {
		return
	}
	if err := s.forwarder.Forward(ctx, record); err != nil {
		s.logger.WithError(err).WithField("record_id", record.ID).
			Warn("Telemetry forwarding failed")
		return
	}
	if err := s.repo.MarkTelemetryForwarded(ctx, record.ID); err != nil {
		s.logger.WithError(err).WithField("record_id", record.ID).
			Warn("Failed to mark record forwarded")
	}
}

func (s *TelemetryService) fromRequest(req IngestRequest) *TelemetryRecord {
	record := &TelemetryRecord{
		DeviceID: req.DeviceID,
		TenantID: req.TenantID,
		DataType: req.DataType,
		Payload:  req.Payload,
		Source:   req.Source,
		Metadata: req.Metadata,
	}
	if record.TenantID == "" {
		record.TenantID = s.tenantID
	}
	if record.DataType == "" {
		record.DataType = DataTypeSensor
	}
	if record.Source == "" {
		record.Source = SourceREST
	}
	if req.Timestamp != nil {
		record.Timestamp = *req.Timestamp
	}
	return record
}

// deviceIDFromTopic extracts the device id from a broker topic. Topics of
// the form "<root>/devices/<id>/..." yield the segment after "devices";
// any other shape yields the last segment. Returns "" when the topic has
// no usable segment.
func deviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 && parts[1] == "devices" {
		return parts[2]
	}
	return strings.TrimSpace(parts[len(parts)-1])
}
