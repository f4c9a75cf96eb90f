package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/passq/passq/internal/database/testutil"
	"github.com/passq/passq/internal/models"
)

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func setupRecorder(t *testing.T) (*gorm.DB, *Recorder, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	clock := &testClock{current: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}

	recorder, err := NewRecorder(db, clock.Now)
	require.NoError(t, err)

	return db, recorder, clock
}

func TestRecordAndQueryEvents(t *testing.T) {
	_, recorder, clock := setupRecorder(t)
	ctx := context.Background()

	require.NoError(t, recorder.Record(ctx, &models.SecurityEvent{
		SessionID: "session-1",
		UserID:    "user-1",
		EventType: models.EventNewDevice,
		Severity:  models.SeverityLow,
	}))

	clock.Advance(time.Hour)
	require.NoError(t, recorder.Record(ctx, &models.SecurityEvent{
		SessionID: "session-1",
		UserID:    "user-1",
		EventType: models.EventSuspiciousLocation,
		Severity:  models.SeverityMedium,
	}))

	events, err := recorder.RecentForSession(ctx, "session-1", 2*time.Hour)
	require.NoError(t, err)
	require.Len(t, events, 2)
	// Newest first.
	require.Equal(t, models.EventSuspiciousLocation, events[0].EventType)

	events, err = recorder.RecentForSession(ctx, "session-1", 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, events, 1)

	byUser, err := recorder.RecentForUser(ctx, "user-1", 2*time.Hour)
	require.NoError(t, err)
	require.Len(t, byUser, 2)
}

func TestRecordRejectsIncompleteEvents(t *testing.T) {
	_, recorder, _ := setupRecorder(t)

	require.Error(t, recorder.Record(context.Background(), nil))
	require.Error(t, recorder.Record(context.Background(), &models.SecurityEvent{SessionID: "session-1"}))
}

func TestResolveEvent(t *testing.T) {
	db, recorder, clock := setupRecorder(t)
	ctx := context.Background()

	event := &models.SecurityEvent{
		SessionID: "session-1",
		UserID:    "user-1",
		EventType: models.EventSuspiciousLocation,
		Severity:  models.SeverityMedium,
	}
	require.NoError(t, recorder.Record(ctx, event))

	require.NoError(t, recorder.Resolve(ctx, event.ID, "admin-1"))

	var reloaded models.SecurityEvent
	require.NoError(t, db.Take(&reloaded, "id = ?", event.ID).Error)
	require.True(t, reloaded.Resolved)
	require.NotNil(t, reloaded.ResolvedAt)
	require.True(t, reloaded.ResolvedAt.Equal(clock.Now()))
	require.NotNil(t, reloaded.ResolvedBy)
	require.Equal(t, "admin-1", *reloaded.ResolvedBy)

	// Resolving twice fails.
	require.Error(t, recorder.Resolve(ctx, event.ID, "admin-1"))

	// Resolved events drop out of the recent queries feeding risk.
	recent, err := recorder.RecentForSession(ctx, "session-1", time.Hour)
	require.NoError(t, err)
	require.Empty(t, recent)
}

func TestDetectNewDeviceOnlyForUnknownFingerprints(t *testing.T) {
	db, recorder, _ := setupRecorder(t)
	ctx := context.Background()

	session := &models.Session{
		ID:                "session-1",
		UserID:            "user-1",
		DeviceFingerprint: "fp-1",
		Active:            true,
	}
	recorder.InspectNewSession(ctx, session)

	events, err := recorder.RecentForSession(ctx, "session-1", time.Hour)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, models.EventNewDevice, events[0].EventType)
	require.Equal(t, models.SeverityLow, events[0].Severity)

	// Once a trust record exists the detector stays quiet.
	require.NoError(t, db.Create(&models.TrustedDevice{
		UserID:      "user-1",
		Fingerprint: "fp-2",
		TrustLevel:  models.TrustLevelKnown,
		FirstSeenAt: time.Now(),
		LastSeenAt:  time.Now(),
	}).Error)

	known := &models.Session{
		ID:                "session-2",
		UserID:            "user-1",
		DeviceFingerprint: "fp-2",
		Active:            true,
	}
	recorder.InspectNewSession(ctx, known)

	events, err = recorder.RecentForSession(ctx, "session-2", time.Hour)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestDetectSuspiciousLocationWindow(t *testing.T) {
	db, recorder, clock := setupRecorder(t)
	ctx := context.Background()

	older := &models.Session{
		ID:              "session-old",
		UserID:          "user-1",
		LocationCountry: "Germany",
		Active:          true,
		CreatedAt:       clock.Now().Add(-time.Hour),
		LastActivityAt:  clock.Now(),
		ExpiresAt:       clock.Now().Add(time.Hour),
	}
	require.NoError(t, db.Create(older).Error)

	fresh := &models.Session{
		ID:              "session-new",
		UserID:          "user-1",
		LocationCountry: "Japan",
		Active:          true,
		CreatedAt:       clock.Now(),
		LastActivityAt:  clock.Now(),
		ExpiresAt:       clock.Now().Add(time.Hour),
	}
	require.NoError(t, db.Create(fresh).Error)

	recorder.InspectNewSession(ctx, fresh)

	events, err := recorder.RecentForSession(ctx, "session-new", time.Hour)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, models.EventSuspiciousLocation, events[0].EventType)
	require.Equal(t, models.SeverityMedium, events[0].Severity)
}

func TestDetectSuspiciousLocationIgnoresSameCountryAndMissingLocation(t *testing.T) {
	db, recorder, clock := setupRecorder(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Session{
		ID:              "session-old",
		UserID:          "user-1",
		LocationCountry: "Germany",
		Active:          true,
		CreatedAt:       clock.Now().Add(-time.Hour),
		LastActivityAt:  clock.Now(),
		ExpiresAt:       clock.Now().Add(time.Hour),
	}).Error)

	sameCountry := &models.Session{
		ID:              "session-same",
		UserID:          "user-1",
		LocationCountry: "Germany",
		Active:          true,
		CreatedAt:       clock.Now(),
	}
	require.NoError(t, db.Create(sameCountry).Error)
	recorder.InspectNewSession(ctx, sameCountry)

	noLocation := &models.Session{
		ID:        "session-unknown",
		UserID:    "user-1",
		Active:    true,
		CreatedAt: clock.Now(),
	}
	require.NoError(t, db.Create(noLocation).Error)
	recorder.InspectNewSession(ctx, noLocation)

	var count int64
	require.NoError(t, db.Model(&models.SecurityEvent{}).
		Where("event_type = ?", models.EventSuspiciousLocation).
		Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestEventCleanupHonorsRetention(t *testing.T) {
	db, recorder, clock := setupRecorder(t)
	ctx := context.Background()

	require.NoError(t, recorder.Record(ctx, &models.SecurityEvent{
		SessionID:  "session-1",
		UserID:     "user-1",
		EventType:  models.EventNewDevice,
		Severity:   models.SeverityLow,
		OccurredAt: clock.Now().Add(-DefaultEventRetention - time.Hour),
	}))
	require.NoError(t, recorder.Record(ctx, &models.SecurityEvent{
		SessionID: "session-1",
		UserID:    "user-1",
		EventType: models.EventNewDevice,
		Severity:  models.SeverityLow,
	}))

	removed, err := recorder.Cleanup(ctx, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var count int64
	require.NoError(t, db.Model(&models.SecurityEvent{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}
