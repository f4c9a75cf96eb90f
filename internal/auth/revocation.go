package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/passq/passq/internal/models"
	"github.com/passq/passq/pkg/metrics"
)

// DefaultRevocationRetention keeps revocation entries queryable for forensic
// purposes for 30 days past the token's natural expiry.
const DefaultRevocationRetention = 30 * 24 * time.Hour

// RevokeInput describes one token being revoked.
type RevokeInput struct {
	TokenID        string
	UserID         string
	SessionID      string
	Kind           TokenKind
	Reason         string
	OriginalExpiry time.Time
}

// RevocationRegistry tracks token ids that must never be accepted again.
// Lookups are served from an in-memory set guarded by an RWMutex; writes go
// through to the database outside the lock so that a restart can warm-start
// the set with Load.
type RevocationRegistry struct {
	db        *gorm.DB
	retention time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	revoked map[string]time.Time // token id -> original expiry
}

// RevocationConfig tunes the registry. Zero values select defaults.
type RevocationConfig struct {
	Retention time.Duration
	Clock     func() time.Time
}

// NewRevocationRegistry constructs the registry. Call Load before serving
// traffic so revocations survive restarts.
func NewRevocationRegistry(db *gorm.DB, cfg RevocationConfig) (*RevocationRegistry, error) {
	if db == nil {
		return nil, errors.New("revocation registry: db is required")
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRevocationRetention
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &RevocationRegistry{
		db:        db,
		retention: retention,
		now:       clock,
		revoked:   make(map[string]time.Time),
	}, nil
}

// Load populates the in-memory set from persisted entries that are still
// inside the retention window.
func (r *RevocationRegistry) Load(ctx context.Context) error {
	cutoff := r.now().Add(-r.retention)

	var entries []models.RevokedToken
	if err := r.db.WithContext(ctx).
		Where("original_expiry >= ?", cutoff).
		Find(&entries).Error; err != nil {
		return fmt.Errorf("revocation registry: load: %w", err)
	}

	r.mu.Lock()
	for _, entry := range entries {
		r.revoked[entry.TokenID] = entry.OriginalExpiry
	}
	r.mu.Unlock()

	return nil
}

// Revoke marks a token id as permanently unusable and reports whether this
// call was the one that revoked it. The check-and-insert on the in-memory
// set is atomic, so exactly one of any number of concurrent callers sees
// true; single-use flows (refresh rotation) hang replay detection off that.
func (r *RevocationRegistry) Revoke(ctx context.Context, input RevokeInput) (bool, error) {
	if input.TokenID == "" {
		return false, errors.New("revocation registry: token id is required")
	}

	r.mu.Lock()
	if _, exists := r.revoked[input.TokenID]; exists {
		r.mu.Unlock()
		return false, nil
	}
	r.revoked[input.TokenID] = input.OriginalExpiry
	r.mu.Unlock()

	entry := &models.RevokedToken{
		TokenID:        input.TokenID,
		UserID:         input.UserID,
		SessionID:      input.SessionID,
		Kind:           string(input.Kind),
		Reason:         input.Reason,
		RevokedAt:      r.now(),
		OriginalExpiry: input.OriginalExpiry,
	}

	// The unique index on token_id makes concurrent revocations of the
	// same id converge on a single row.
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "token_id"}}, DoNothing: true}).
		Create(entry).Error; err != nil {
		return false, fmt.Errorf("revocation registry: persist revocation: %w", err)
	}

	metrics.TokensRevoked.WithLabelValues(input.Reason).Inc()

	return true, nil
}

// IsRevoked reports whether the token id has been revoked.
func (r *RevocationRegistry) IsRevoked(tokenID string) bool {
	r.mu.RLock()
	_, revoked := r.revoked[tokenID]
	r.mu.RUnlock()
	return revoked
}

// Sweep removes entries whose original expiry plus the retention window has
// passed. It only touches entries that are already logically dead, so it is
// safe to run concurrently with normal traffic.
func (r *RevocationRegistry) Sweep(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-r.retention)

	result := r.db.WithContext(ctx).
		Where("original_expiry < ?", cutoff).
		Delete(&models.RevokedToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("revocation registry: sweep: %w", result.Error)
	}

	r.mu.Lock()
	for id, expiry := range r.revoked {
		if expiry.Before(cutoff) {
			delete(r.revoked, id)
		}
	}
	r.mu.Unlock()

	return result.RowsAffected, nil
}

// Size reports the number of in-memory entries, for diagnostics.
func (r *RevocationRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.revoked)
}
