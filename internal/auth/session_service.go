package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/passq/passq/internal/geoip"
	"github.com/passq/passq/internal/models"
	"github.com/passq/passq/internal/risk"
	"github.com/passq/passq/pkg/logger"
	"github.com/passq/passq/pkg/metrics"
)

// Revocation and eviction reasons recorded against tokens and sessions.
const (
	ReasonRotated         = "rotated"
	ReasonLogout          = "logout"
	ReasonExpired         = "expired"
	ReasonAdminRevoked    = "admin_revoked"
	ReasonConcurrentLimit = "concurrent_session_limit"
	ReasonDeviceLimit     = "device_session_limit"
	ReasonRevokeAll       = "revoke_all"
)

// SecurityEvents is the surface of the event recorder the session registry
// depends on. Record failures on revocation paths are advisory and logged;
// InspectNewSession never fails session creation.
type SecurityEvents interface {
	Record(ctx context.Context, event *models.SecurityEvent) error
	RecentForSession(ctx context.Context, sessionID string, window time.Duration) ([]models.SecurityEvent, error)
	InspectNewSession(ctx context.Context, session *models.Session)
}

// TokenPair is a freshly issued access/refresh token pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// CreateSessionInput carries the client context for a new session. The
// subject is assumed to be already authenticated upstream.
type CreateSessionInput struct {
	UserID            string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	DeviceName        string
	Scope             []string
}

// SessionConfig tunes the SessionService. Zero values select defaults.
type SessionConfig struct {
	Clock    func() time.Time
	Resolver geoip.Resolver
	Events   SecurityEvents
	Trust    *DeviceTrustService
}

// SessionService owns session records: creation with limit enforcement,
// validation, rotation, and revocation. A service-level mutex serializes
// the limit-check-evict-insert sequence so concurrent logins for the same
// subject cannot both squeeze past the limit; token signing and geolocation
// happen outside that critical section.
type SessionService struct {
	db          *gorm.DB
	tokens      *TokenService
	revocations *RevocationRegistry
	resolver    geoip.Resolver
	events      SecurityEvents
	trust       *DeviceTrustService
	now         func() time.Time
	log         *zap.Logger

	mu sync.Mutex
}

// NewSessionService constructs the session registry. Resolver, Events, and
// Trust are optional; absent collaborators simply disable their features.
func NewSessionService(db *gorm.DB, tokens *TokenService, revocations *RevocationRegistry, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if tokens == nil {
		return nil, errors.New("session service: token service is required")
	}
	if revocations == nil {
		return nil, errors.New("session service: revocation registry is required")
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:          db,
		tokens:      tokens,
		revocations: revocations,
		resolver:    cfg.Resolver,
		events:      cfg.Events,
		trust:       cfg.Trust,
		now:         clock,
		log:         logger.WithComponent("auth.sessions"),
	}, nil
}

// CreateSession issues a token pair and records the session, evicting the
// oldest sessions first when the subject's concurrency or per-device limits
// are reached. Eviction is a successful side effect, not an error.
func (s *SessionService) CreateSession(ctx context.Context, input CreateSessionInput) (TokenPair, *models.Session, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return TokenPair{}, nil, errors.New("session service: user id is required")
	}

	now := s.now()

	session := &models.Session{
		UserID:            userID,
		IPAddress:         strings.TrimSpace(input.IPAddress),
		UserAgent:         strings.TrimSpace(input.UserAgent),
		DeviceFingerprint: strings.TrimSpace(input.DeviceFingerprint),
		DeviceName:        strings.TrimSpace(input.DeviceName),
		Active:            true,
		LastActivityAt:    now,
		CreatedAt:         now,
	}

	s.resolveLocation(ctx, session)

	// Sign the pair before entering the critical section. The session id
	// must be known to the claims, so it is assigned here instead of by
	// the BeforeCreate hook.
	session.ID = uuid.NewString()

	access, err := s.tokens.Issue(IssueInput{
		Subject:   userID,
		SessionID: session.ID,
		Kind:      TokenKindAccess,
		DeviceID:  session.DeviceFingerprint,
		Scope:     input.Scope,
	})
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: issue access token: %w", err)
	}

	refresh, err := s.tokens.Issue(IssueInput{
		Subject:   userID,
		SessionID: session.ID,
		Kind:      TokenKindRefresh,
		DeviceID:  session.DeviceFingerprint,
		Scope:     input.Scope,
	})
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: issue refresh token: %w", err)
	}

	session.AccessTokenID = access.TokenID
	session.RefreshTokenID = refresh.TokenID
	session.ExpiresAt = refresh.ExpiresAt

	s.mu.Lock()
	err = func() error {
		if err := s.enforceLimits(ctx, session); err != nil {
			return err
		}
		if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
			return fmt.Errorf("session service: create session: %w", err)
		}
		return nil
	}()
	s.mu.Unlock()
	if err != nil {
		return TokenPair{}, nil, err
	}

	metrics.ActiveSessions.Inc()

	// Detectors must see the pre-observation state, otherwise a device is
	// never "new".
	if s.events != nil {
		s.events.InspectNewSession(ctx, session)
	}
	if s.trust != nil {
		if err := s.trust.Observe(ctx, session); err != nil {
			s.log.Warn("device trust observation failed",
				zap.String("session_id", session.ID),
				zap.Error(err))
		}
	}

	return TokenPair{
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		ExpiresAt:    access.ExpiresAt,
	}, session, nil
}

// Validate checks an access token end to end: signature and expiry first,
// then the revocation registry, then the session record, and finally bumps
// the session's last activity.
func (s *SessionService) Validate(ctx context.Context, accessToken string) (*models.Session, *Claims, error) {
	claims, err := s.tokens.Verify(accessToken, TokenKindAccess)
	if err != nil {
		return nil, nil, err
	}

	if s.revocations.IsRevoked(claims.ID) {
		return nil, nil, ErrTokenRevoked
	}

	session, err := s.activeSession(ctx, claims.SessionID)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	if err := s.db.WithContext(ctx).
		Model(session).
		Update("last_activity_at", now).Error; err != nil {
		return nil, nil, fmt.Errorf("session service: bump activity: %w", err)
	}
	session.LastActivityAt = now

	return session, claims, nil
}

// Rotate exchanges a refresh token for a fresh pair. The presented refresh
// id is consumed before anything is issued, so a replay, including one
// racing the legitimate rotation, fails with ErrTokenRevoked; the session
// record keeps its identity.
func (s *SessionService) Rotate(ctx context.Context, refreshToken string) (TokenPair, *models.Session, error) {
	claims, err := s.tokens.Verify(refreshToken, TokenKindRefresh)
	if err != nil {
		return TokenPair{}, nil, err
	}

	if s.revocations.IsRevoked(claims.ID) {
		return TokenPair{}, nil, ErrTokenRevoked
	}

	session, err := s.activeSession(ctx, claims.SessionID)
	if err != nil {
		return TokenPair{}, nil, err
	}

	// Consuming the id is the serialization point: of two concurrent calls
	// presenting the same refresh token, exactly one gets consumed == true.
	consumed, err := s.revocations.Revoke(ctx, RevokeInput{
		TokenID:        claims.ID,
		UserID:         session.UserID,
		SessionID:      session.ID,
		Kind:           TokenKindRefresh,
		Reason:         ReasonRotated,
		OriginalExpiry: session.ExpiresAt,
	})
	if err != nil {
		return TokenPair{}, nil, err
	}
	if !consumed {
		return TokenPair{}, nil, ErrTokenRevoked
	}

	access, err := s.tokens.Issue(IssueInput{
		Subject:   session.UserID,
		SessionID: session.ID,
		Kind:      TokenKindAccess,
		DeviceID:  session.DeviceFingerprint,
		Scope:     claims.Scope,
	})
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: issue access token: %w", err)
	}

	refresh, err := s.tokens.Issue(IssueInput{
		Subject:   session.UserID,
		SessionID: session.ID,
		Kind:      TokenKindRefresh,
		DeviceID:  session.DeviceFingerprint,
		Scope:     claims.Scope,
	})
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: issue refresh token: %w", err)
	}

	now := s.now()

	if session.AccessTokenID != "" {
		if _, err := s.revocations.Revoke(ctx, RevokeInput{
			TokenID:        session.AccessTokenID,
			UserID:         session.UserID,
			SessionID:      session.ID,
			Kind:           TokenKindAccess,
			Reason:         ReasonRotated,
			OriginalExpiry: now.Add(s.tokens.AccessTokenTTL()),
		}); err != nil {
			return TokenPair{}, nil, err
		}
	}

	updates := map[string]any{
		"access_token_id":  access.TokenID,
		"refresh_token_id": refresh.TokenID,
		"expires_at":       refresh.ExpiresAt,
		"last_activity_at": now,
	}
	if err := s.db.WithContext(ctx).Model(session).Updates(updates).Error; err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: update session: %w", err)
	}

	session.AccessTokenID = access.TokenID
	session.RefreshTokenID = refresh.TokenID
	session.ExpiresAt = refresh.ExpiresAt
	session.LastActivityAt = now

	return TokenPair{
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		ExpiresAt:    access.ExpiresAt,
	}, session, nil
}

// RevokeSession terminates one session and revokes its current token pair.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID, reason string) error {
	var session models.Session
	err := s.db.WithContext(ctx).Take(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("session service: find session: %w", err)
	}
	if !session.Active {
		return ErrSessionNotFound
	}

	return s.terminate(ctx, &session, reason)
}

// RevokeAll terminates every active session belonging to the subject.
func (s *SessionService) RevokeAll(ctx context.Context, userID, reason string) (int, error) {
	var sessions []models.Session
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Find(&sessions).Error; err != nil {
		return 0, fmt.Errorf("session service: list sessions: %w", err)
	}

	revoked := 0
	for i := range sessions {
		if err := s.terminate(ctx, &sessions[i], reason); err != nil {
			return revoked, err
		}
		revoked++
	}
	return revoked, nil
}

// ListSessions returns the subject's active sessions, most recently used
// first.
func (s *SessionService) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	var sessions []models.Session
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Order("last_activity_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("session service: list sessions: %w", err)
	}
	return sessions, nil
}

// AssessSession gathers the session snapshot, recent events, and device
// trust, and returns the risk evaluation.
func (s *SessionService) AssessSession(ctx context.Context, sessionID string) (risk.Assessment, error) {
	session, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return risk.Assessment{}, err
	}

	var events []models.SecurityEvent
	if s.events != nil {
		events, err = s.events.RecentForSession(ctx, sessionID, risk.EventLookback)
		if err != nil {
			return risk.Assessment{}, err
		}
	}

	var trust *models.TrustedDevice
	if s.trust != nil {
		trust, err = s.trust.Lookup(ctx, session.UserID, session.DeviceFingerprint)
		if err != nil {
			return risk.Assessment{}, err
		}
	}

	assessment := risk.Evaluate(risk.Input{
		Session: session,
		Events:  events,
		Trust:   trust,
		Now:     s.now(),
	})

	metrics.RiskScores.Observe(float64(assessment.Score))

	return assessment, nil
}

// CountActive reports the number of active sessions across all subjects, for
// diagnostics alongside RevocationRegistry.Size.
func (s *SessionService) CountActive(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("active = ?", true).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("session service: count active sessions: %w", err)
	}
	return count, nil
}

// CleanupExpired terminates sessions past their expiry and deletes long-dead
// rows. Safe to run concurrently with normal traffic.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.now()

	var expired []models.Session
	if err := s.db.WithContext(ctx).
		Where("active = ? AND expires_at < ?", true, now).
		Find(&expired).Error; err != nil {
		return 0, fmt.Errorf("session service: find expired sessions: %w", err)
	}

	var terminated int64
	for i := range expired {
		if err := s.terminate(ctx, &expired[i], ReasonExpired); err != nil {
			return terminated, err
		}
		terminated++
	}

	// Inactive rows past the revocation retention window carry no forensic
	// value any more.
	cutoff := now.Add(-DefaultRevocationRetention)
	if err := s.db.WithContext(ctx).
		Where("active = ? AND expires_at < ?", false, cutoff).
		Delete(&models.Session{}).Error; err != nil {
		return terminated, fmt.Errorf("session service: purge dead sessions: %w", err)
	}

	return terminated, nil
}

// enforceLimits evicts the oldest active sessions until the new session
// fits inside both the subject-wide and per-device limits. Runs under the
// service mutex.
func (s *SessionService) enforceLimits(ctx context.Context, session *models.Session) error {
	limits, err := s.limitsFor(ctx, session.UserID)
	if err != nil {
		return err
	}

	if err := s.evictOldest(ctx, session.UserID, "", limits.MaxConcurrentSessions, ReasonConcurrentLimit); err != nil {
		return err
	}

	if session.DeviceFingerprint != "" {
		if err := s.evictOldest(ctx, session.UserID, session.DeviceFingerprint, limits.MaxSessionsPerDevice, ReasonDeviceLimit); err != nil {
			return err
		}
	}

	return nil
}

func (s *SessionService) limitsFor(ctx context.Context, userID string) (models.SessionLimits, error) {
	limits := models.SessionLimits{
		MaxConcurrentSessions: models.DefaultMaxConcurrentSessions,
		MaxSessionsPerDevice:  models.DefaultMaxSessionsPerDevice,
	}

	var stored models.SessionLimits
	err := s.db.WithContext(ctx).Take(&stored, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return limits, nil
	}
	if err != nil {
		return limits, fmt.Errorf("session service: load limits: %w", err)
	}

	if stored.MaxConcurrentSessions > 0 {
		limits.MaxConcurrentSessions = stored.MaxConcurrentSessions
	}
	if stored.MaxSessionsPerDevice > 0 {
		limits.MaxSessionsPerDevice = stored.MaxSessionsPerDevice
	}
	return limits, nil
}

// evictOldest frees one slot under the given limit. Eviction order: oldest
// last activity first, then oldest created-at.
func (s *SessionService) evictOldest(ctx context.Context, userID, fingerprint string, limit int, reason string) error {
	query := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("user_id = ? AND active = ?", userID, true)
	if fingerprint != "" {
		query = query.Where("device_fingerprint = ?", fingerprint)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("session service: count active sessions: %w", err)
	}
	if count < int64(limit) {
		return nil
	}

	toEvict := int(count) - limit + 1

	listQuery := s.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true)
	if fingerprint != "" {
		listQuery = listQuery.Where("device_fingerprint = ?", fingerprint)
	}

	var victims []models.Session
	if err := listQuery.
		Order("last_activity_at ASC, created_at ASC").
		Limit(toEvict).
		Find(&victims).Error; err != nil {
		return fmt.Errorf("session service: select eviction victims: %w", err)
	}

	for i := range victims {
		if err := s.terminate(ctx, &victims[i], reason); err != nil {
			return err
		}
		metrics.SessionEvictions.WithLabelValues(reason).Inc()
	}
	return nil
}

// terminate deactivates the session and revokes its current token pair.
func (s *SessionService) terminate(ctx context.Context, session *models.Session, reason string) error {
	now := s.now()

	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND active = ?", session.ID, true).
		Updates(map[string]any{
			"active":     false,
			"revoked_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("session service: terminate session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost the race against a concurrent revocation; tokens are
		// already handled.
		return nil
	}

	session.Active = false
	session.RevokedAt = &now

	if err := s.revokeSessionTokens(ctx, session, reason); err != nil {
		return err
	}

	metrics.ActiveSessions.Dec()

	if s.events != nil {
		eventType := models.EventSessionRevoked
		severity := models.SeverityLow
		if reason == ReasonConcurrentLimit || reason == ReasonDeviceLimit {
			eventType = models.EventSessionEvicted
		}
		event := &models.SecurityEvent{
			SessionID:   session.ID,
			UserID:      session.UserID,
			EventType:   eventType,
			Severity:    severity,
			Description: fmt.Sprintf("session terminated: %s", reason),
			IPAddress:   session.IPAddress,
			UserAgent:   session.UserAgent,
		}
		if err := s.events.Record(ctx, event); err != nil {
			s.log.Warn("failed to record session termination event",
				zap.String("session_id", session.ID),
				zap.Error(err))
		}
	}

	return nil
}

// revokeSessionTokens revokes the session's current access and refresh
// token ids. The access token's original expiry is not tracked on the
// session, so the conservative bound of one access TTL from now is used.
func (s *SessionService) revokeSessionTokens(ctx context.Context, session *models.Session, reason string) error {
	now := s.now()

	if session.AccessTokenID != "" {
		if _, err := s.revocations.Revoke(ctx, RevokeInput{
			TokenID:        session.AccessTokenID,
			UserID:         session.UserID,
			SessionID:      session.ID,
			Kind:           TokenKindAccess,
			Reason:         reason,
			OriginalExpiry: now.Add(s.tokens.AccessTokenTTL()),
		}); err != nil {
			return err
		}
	}

	if session.RefreshTokenID != "" {
		if _, err := s.revocations.Revoke(ctx, RevokeInput{
			TokenID:        session.RefreshTokenID,
			UserID:         session.UserID,
			SessionID:      session.ID,
			Kind:           TokenKindRefresh,
			Reason:         reason,
			OriginalExpiry: session.ExpiresAt,
		}); err != nil {
			return err
		}
	}

	return nil
}

func (s *SessionService) activeSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).Take(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w", err)
	}
	if !session.Active {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

// resolveLocation fills in the session's location columns on a best-effort
// basis. Resolution failures only disable the location-based detectors.
func (s *SessionService) resolveLocation(ctx context.Context, session *models.Session) {
	if s.resolver == nil || session.IPAddress == "" {
		return
	}

	location, err := s.resolver.Resolve(ctx, session.IPAddress)
	if err != nil {
		s.log.Debug("geolocation lookup failed",
			zap.String("ip", session.IPAddress),
			zap.Error(err))
		return
	}
	if location == nil {
		return
	}

	session.LocationCountry = location.Country
	session.LocationRegion = location.Region
	session.LocationCity = location.City
}
