// Package security records security-relevant occurrences and maintains the
// tamper-evident audit trail. Security events are advisory signals feeding
// the risk evaluator; audit entries are integrity-protected records of
// business actions.
package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/passq/passq/internal/models"
	"github.com/passq/passq/pkg/logger"
	"github.com/passq/passq/pkg/metrics"
)

// DefaultEventRetention bounds how long security events are kept before the
// maintenance sweep removes them.
const DefaultEventRetention = 180 * 24 * time.Hour

// suspiciousLocationWindow is how far back the location detector looks for
// sibling sessions in another country.
const suspiciousLocationWindow = 2 * time.Hour

// Recorder is the append-only store of security events. Detection helpers
// never fail session creation; their errors are logged and swallowed.
type Recorder struct {
	db  *gorm.DB
	now func() time.Time
	log *zap.Logger
}

// NewRecorder constructs the event recorder.
func NewRecorder(db *gorm.DB, clock func() time.Time) (*Recorder, error) {
	if db == nil {
		return nil, errors.New("security events: db is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &Recorder{
		db:  db,
		now: clock,
		log: logger.WithComponent("security.events"),
	}, nil
}

// Record appends one event. The occurred-at timestamp is filled in when the
// caller leaves it zero.
func (r *Recorder) Record(ctx context.Context, event *models.SecurityEvent) error {
	if event == nil {
		return errors.New("security events: event is required")
	}
	if event.SessionID == "" || event.UserID == "" || event.EventType == "" {
		return errors.New("security events: session id, user id, and event type are required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now()
	}

	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("security events: record: %w", err)
	}

	metrics.SecurityEvents.WithLabelValues(event.EventType, event.Severity).Inc()

	return nil
}

// RecentForSession returns unresolved events for the session inside the
// window, newest first. Resolved events no longer count toward risk.
func (r *Recorder) RecentForSession(ctx context.Context, sessionID string, window time.Duration) ([]models.SecurityEvent, error) {
	cutoff := r.now().Add(-window)

	var events []models.SecurityEvent
	if err := r.db.WithContext(ctx).
		Where("session_id = ? AND resolved = ? AND occurred_at >= ?", sessionID, false, cutoff).
		Order("occurred_at DESC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("security events: query session events: %w", err)
	}
	return events, nil
}

// RecentForUser returns unresolved events for the subject inside the window,
// newest first.
func (r *Recorder) RecentForUser(ctx context.Context, userID string, window time.Duration) ([]models.SecurityEvent, error) {
	cutoff := r.now().Add(-window)

	var events []models.SecurityEvent
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND resolved = ? AND occurred_at >= ?", userID, false, cutoff).
		Order("occurred_at DESC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("security events: query user events: %w", err)
	}
	return events, nil
}

// Resolve marks an event as handled by an operator.
func (r *Recorder) Resolve(ctx context.Context, eventID, resolvedBy string) error {
	now := r.now()
	result := r.db.WithContext(ctx).
		Model(&models.SecurityEvent{}).
		Where("id = ? AND resolved = ?", eventID, false).
		Updates(map[string]any{
			"resolved":    true,
			"resolved_at": now,
			"resolved_by": resolvedBy,
		})
	if result.Error != nil {
		return fmt.Errorf("security events: resolve: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.New("security events: event not found or already resolved")
	}
	return nil
}

// InspectNewSession runs the built-in detectors against a freshly created
// session. It must be called before the device trust store observes the
// session, otherwise the new-device detector can never fire. Detection
// failures are logged, never surfaced.
func (r *Recorder) InspectNewSession(ctx context.Context, session *models.Session) {
	if session == nil {
		return
	}

	if err := r.detectNewDevice(ctx, session); err != nil {
		r.log.Warn("new device detection failed",
			zap.String("session_id", session.ID),
			zap.Error(err))
	}

	if err := r.detectSuspiciousLocation(ctx, session); err != nil {
		r.log.Warn("suspicious location detection failed",
			zap.String("session_id", session.ID),
			zap.Error(err))
	}
}

func (r *Recorder) detectNewDevice(ctx context.Context, session *models.Session) error {
	fingerprint := strings.TrimSpace(session.DeviceFingerprint)
	if fingerprint == "" {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.TrustedDevice{}).
		Where("user_id = ? AND fingerprint = ?", session.UserID, fingerprint).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	return r.Record(ctx, &models.SecurityEvent{
		SessionID:   session.ID,
		UserID:      session.UserID,
		EventType:   models.EventNewDevice,
		Severity:    models.SeverityLow,
		Description: fmt.Sprintf("first session from device %s", fingerprint),
		IPAddress:   session.IPAddress,
		UserAgent:   session.UserAgent,
	})
}

func (r *Recorder) detectSuspiciousLocation(ctx context.Context, session *models.Session) error {
	if session.LocationCountry == "" {
		return nil
	}

	cutoff := r.now().Add(-suspiciousLocationWindow)

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("user_id = ? AND id <> ? AND active = ? AND created_at >= ?", session.UserID, session.ID, true, cutoff).
		Where("location_country <> '' AND location_country <> ?", session.LocationCountry).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	return r.Record(ctx, &models.SecurityEvent{
		SessionID:   session.ID,
		UserID:      session.UserID,
		EventType:   models.EventSuspiciousLocation,
		Severity:    models.SeverityMedium,
		Description: fmt.Sprintf("login from %s while another recent session is active elsewhere", session.LocationCountry),
		IPAddress:   session.IPAddress,
		UserAgent:   session.UserAgent,
	})
}

// Cleanup removes events older than the retention window.
func (r *Recorder) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultEventRetention
	}
	cutoff := r.now().Add(-retention)

	result := r.db.WithContext(ctx).
		Where("occurred_at < ?", cutoff).
		Delete(&models.SecurityEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("security events: cleanup: %w", result.Error)
	}
	return result.RowsAffected, nil
}
