package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/passq/passq/internal/keysource"
	"github.com/passq/passq/internal/models"
	"github.com/passq/passq/pkg/metrics"
)

// DefaultAuditRetention bounds how long audit entries are kept before the
// maintenance sweep removes them.
const DefaultAuditRetention = 90 * 24 * time.Hour

// ErrIntegrityMismatch indicates a stored audit entry whose integrity tag no
// longer matches its fields.
var ErrIntegrityMismatch = errors.New("audit: integrity mismatch")

// AuditService maintains the tamper-evident audit trail. Every entry
// carries an HMAC-SHA256 tag over its fields, keyed separately from both
// the token-signing and encryption keys. Appends fail closed: an entry that
// cannot be protected is not written, and the triggering business operation
// is expected to abort.
type AuditService struct {
	db  *gorm.DB
	key []byte
	now func() time.Time
}

// AppendInput describes one audit entry before tagging.
type AppendInput struct {
	EventType  string
	UserID     *string
	ResourceID *string
	IPAddress  string
	UserAgent  string
	Details    string
}

// AuditFilter narrows List queries. Zero fields are ignored.
type AuditFilter struct {
	UserID    string
	EventType string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// NewAuditService resolves the audit MAC key from the source. Construction
// fails when no key is available so the process refuses to start instead of
// running with an unprotected trail.
func NewAuditService(ctx context.Context, source keysource.Source, db *gorm.DB, clock func() time.Time) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit: db is required")
	}
	if source == nil {
		return nil, errors.New("audit: key source is required")
	}

	key, err := source.Key(ctx, keysource.PurposeAudit)
	if err != nil {
		return nil, fmt.Errorf("audit: resolve mac key: %w", err)
	}

	if clock == nil {
		clock = time.Now
	}

	return &AuditService{db: db, key: key, now: clock}, nil
}

// Append computes the integrity tag and writes the entry. Any failure here
// must abort the caller's business operation.
func (s *AuditService) Append(ctx context.Context, input AppendInput) (*models.AuditLog, error) {
	if strings.TrimSpace(input.EventType) == "" {
		metrics.AuditFailures.Inc()
		return nil, errors.New("audit: event type is required")
	}
	if len(s.key) != keysource.KeyLength {
		metrics.AuditFailures.Inc()
		return nil, fmt.Errorf("audit: %w", keysource.ErrKeyUnavailable)
	}

	// RFC3339 carries whole seconds; truncate so the stored timestamp and
	// the tagged timestamp cannot drift apart across storage round-trips.
	occurredAt := s.now().UTC().Truncate(time.Second)

	entry := &models.AuditLog{
		EventType:  input.EventType,
		UserID:     input.UserID,
		ResourceID: input.ResourceID,
		IPAddress:  input.IPAddress,
		UserAgent:  input.UserAgent,
		Details:    input.Details,
		OccurredAt: occurredAt,
	}
	entry.IntegrityTag = s.computeTag(entry)

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		metrics.AuditFailures.Inc()
		return nil, fmt.Errorf("audit: append: %w", err)
	}

	return entry, nil
}

// Verify recomputes the tag from the stored fields and compares it in
// constant time.
func (s *AuditService) Verify(entry *models.AuditLog) bool {
	if entry == nil {
		return false
	}
	expected := s.computeTag(entry)
	return hmac.Equal([]byte(expected), []byte(entry.IntegrityTag))
}

// VerifyByID loads one entry and checks its tag, returning
// ErrIntegrityMismatch when it fails.
func (s *AuditService) VerifyByID(ctx context.Context, id string) error {
	var entry models.AuditLog
	if err := s.db.WithContext(ctx).Take(&entry, "id = ?", id).Error; err != nil {
		return fmt.Errorf("audit: load entry: %w", err)
	}
	if !s.Verify(&entry) {
		return ErrIntegrityMismatch
	}
	return nil
}

// VerifyAll walks the whole trail and counts entries whose tags still
// verify against those that do not.
func (s *AuditService) VerifyAll(ctx context.Context) (valid, invalid int64, err error) {
	const batchSize = 500

	var entries []models.AuditLog
	result := s.db.WithContext(ctx).FindInBatches(&entries, batchSize, func(_ *gorm.DB, _ int) error {
		for i := range entries {
			if s.Verify(&entries[i]) {
				valid++
			} else {
				invalid++
			}
		}
		return nil
	})
	if result.Error != nil {
		return 0, 0, fmt.Errorf("audit: verify all: %w", result.Error)
	}
	return valid, invalid, nil
}

// List returns entries matching the filter, newest first.
func (s *AuditService) List(ctx context.Context, filter AuditFilter) ([]models.AuditLog, error) {
	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if !filter.Since.IsZero() {
		query = query.Where("occurred_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		query = query.Where("occurred_at <= ?", filter.Until)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var entries []models.AuditLog
	if err := query.Order("occurred_at DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return entries, nil
}

// Cleanup removes entries older than the retention window.
func (s *AuditService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultAuditRetention
	}
	cutoff := s.now().Add(-retention)

	result := s.db.WithContext(ctx).
		Where("occurred_at < ?", cutoff).
		Delete(&models.AuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit: cleanup: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// computeTag derives the integrity tag as hex HMAC-SHA256 over a
// pipe-joined, order-stable rendering of every other field.
func (s *AuditService) computeTag(entry *models.AuditLog) string {
	var userID, resourceID string
	if entry.UserID != nil {
		userID = *entry.UserID
	}
	if entry.ResourceID != nil {
		resourceID = *entry.ResourceID
	}

	canonical := strings.Join([]string{
		entry.EventType,
		userID,
		resourceID,
		entry.IPAddress,
		entry.UserAgent,
		entry.Details,
		entry.OccurredAt.UTC().Format(time.RFC3339),
	}, "|")

	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}
