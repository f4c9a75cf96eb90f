package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/passq/passq/internal/models"
)

// maxDeviceIPHistory bounds the per-device IP history kept for trust
// decisions. Oldest addresses fall off first.
const maxDeviceIPHistory = 10

// knownDeviceSessionThreshold is the session count after which a device
// graduates from untrusted to known.
const knownDeviceSessionThreshold = 3

// DeviceTrustService maintains the per-(user, fingerprint) trust history.
// Records are never deleted automatically; trust history outlives sessions.
type DeviceTrustService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDeviceTrustService constructs the trust store.
func NewDeviceTrustService(db *gorm.DB, clock func() time.Time) (*DeviceTrustService, error) {
	if db == nil {
		return nil, errors.New("device trust: db is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &DeviceTrustService{db: db, now: clock}, nil
}

// Observe records one more session from the device carried by the session.
// Sessions without a fingerprint are ignored.
func (s *DeviceTrustService) Observe(ctx context.Context, session *models.Session) error {
	fingerprint := strings.TrimSpace(session.DeviceFingerprint)
	if fingerprint == "" {
		return nil
	}

	now := s.now()

	var device models.TrustedDevice
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND fingerprint = ?", session.UserID, fingerprint).
		Take(&device).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		device = models.TrustedDevice{
			UserID:       session.UserID,
			Fingerprint:  fingerprint,
			DeviceName:   session.DeviceName,
			TrustLevel:   models.TrustLevelUntrusted,
			SessionCount: 1,
			FirstSeenAt:  now,
			LastSeenAt:   now,
		}
		device.TrustScore = trustScore(device.SessionCount)
		device.IPAddresses = appendIPHistory(nil, session.IPAddress)
		if err := s.db.WithContext(ctx).Create(&device).Error; err != nil {
			return fmt.Errorf("device trust: create record: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("device trust: lookup record: %w", err)
	}

	device.SessionCount++
	device.LastSeenAt = now
	device.IPAddresses = appendIPHistory(device.IPAddresses, session.IPAddress)
	if device.DeviceName == "" {
		device.DeviceName = session.DeviceName
	}
	device.TrustScore = trustScore(device.SessionCount)
	if device.TrustLevel == models.TrustLevelUntrusted && device.SessionCount >= knownDeviceSessionThreshold {
		device.TrustLevel = models.TrustLevelKnown
	}

	if err := s.db.WithContext(ctx).Save(&device).Error; err != nil {
		return fmt.Errorf("device trust: update record: %w", err)
	}
	return nil
}

// Lookup returns the trust record for the pair, or nil when the device has
// never been seen.
func (s *DeviceTrustService) Lookup(ctx context.Context, userID, fingerprint string) (*models.TrustedDevice, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return nil, nil
	}

	var device models.TrustedDevice
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND fingerprint = ?", userID, fingerprint).
		Take(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("device trust: lookup record: %w", err)
	}
	return &device, nil
}

// Trust marks a device as explicitly trusted, an operator or user action.
func (s *DeviceTrustService) Trust(ctx context.Context, userID, fingerprint string) error {
	result := s.db.WithContext(ctx).
		Model(&models.TrustedDevice{}).
		Where("user_id = ? AND fingerprint = ?", userID, fingerprint).
		Updates(map[string]any{
			"trust_level": models.TrustLevelTrusted,
			"trust_score": 100,
		})
	if result.Error != nil {
		return fmt.Errorf("device trust: trust device: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.New("device trust: device not found")
	}
	return nil
}

func trustScore(sessionCount int) int {
	score := sessionCount * 10
	if score > 100 {
		score = 100
	}
	return score
}

// appendIPHistory adds the address to the stored JSON list, deduplicating
// and keeping only the most recent maxDeviceIPHistory entries.
func appendIPHistory(stored datatypes.JSON, ip string) datatypes.JSON {
	ip = strings.TrimSpace(ip)

	var ips []string
	if len(stored) > 0 {
		_ = json.Unmarshal(stored, &ips)
	}

	if ip != "" {
		filtered := ips[:0]
		for _, existing := range ips {
			if existing != ip {
				filtered = append(filtered, existing)
			}
		}
		ips = append(filtered, ip)
	}

	if len(ips) > maxDeviceIPHistory {
		ips = ips[len(ips)-maxDeviceIPHistory:]
	}

	encoded, err := json.Marshal(ips)
	if err != nil {
		return stored
	}
	return datatypes.JSON(encoded)
}
