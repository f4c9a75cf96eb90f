package security

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/passq/passq/internal/database/testutil"
	"github.com/passq/passq/internal/keysource"
	"github.com/passq/passq/internal/models"
)

func setupAuditService(t *testing.T) (*gorm.DB, *AuditService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	clock := &testClock{current: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}

	source, err := keysource.NewStaticSource(keysource.StaticConfig{
		EncryptionKey: bytes.Repeat([]byte{0x01}, keysource.KeyLength),
		SigningKey:    bytes.Repeat([]byte{0x02}, keysource.KeyLength),
		AuditKey:      bytes.Repeat([]byte{0x03}, keysource.KeyLength),
	})
	require.NoError(t, err)

	svc, err := NewAuditService(context.Background(), source, db, clock.Now)
	require.NoError(t, err)

	return db, svc, clock
}

func strPtr(v string) *string { return &v }

func TestAppendThenVerify(t *testing.T) {
	db, svc, clock := setupAuditService(t)
	ctx := context.Background()

	entry, err := svc.Append(ctx, AppendInput{
		EventType:  "vault.secret.read",
		UserID:     strPtr("user-1"),
		ResourceID: strPtr("secret-9"),
		IPAddress:  "203.0.113.10",
		UserAgent:  "unit-test",
		Details:    "read credential",
	})
	require.NoError(t, err)
	require.NotEmpty(t, entry.IntegrityTag)
	require.Len(t, entry.IntegrityTag, 64) // hex HMAC-SHA256
	require.True(t, entry.OccurredAt.Equal(clock.Now().UTC().Truncate(time.Second)))

	require.True(t, svc.Verify(entry))

	var reloaded models.AuditLog
	require.NoError(t, db.Take(&reloaded, "id = ?", entry.ID).Error)
	require.True(t, svc.Verify(&reloaded))
	require.NoError(t, svc.VerifyByID(ctx, entry.ID))
}

func TestVerifyDetectsFieldTampering(t *testing.T) {
	db, svc, _ := setupAuditService(t)
	ctx := context.Background()

	entry, err := svc.Append(ctx, AppendInput{
		EventType: "auth.login",
		UserID:    strPtr("user-1"),
		Details:   "login succeeded",
	})
	require.NoError(t, err)

	mutations := map[string]any{
		"event_type": "auth.logout",
		"user_id":    "user-2",
		"ip_address": "198.51.100.1",
		"details":    "login failed",
	}

	for column, value := range mutations {
		require.NoError(t, db.Model(&models.AuditLog{}).
			Where("id = ?", entry.ID).
			Update(column, value).Error)

		var tampered models.AuditLog
		require.NoError(t, db.Take(&tampered, "id = ?", entry.ID).Error)
		require.False(t, svc.Verify(&tampered), "mutation of %s must invalidate the tag", column)
		require.ErrorIs(t, svc.VerifyByID(ctx, entry.ID), ErrIntegrityMismatch)

		// Restore for the next mutation.
		require.NoError(t, db.Model(&models.AuditLog{}).
			Where("id = ?", entry.ID).
			Updates(map[string]any{
				"event_type": entry.EventType,
				"user_id":    *entry.UserID,
				"ip_address": entry.IPAddress,
				"details":    entry.Details,
			}).Error)
	}
}

func TestVerifyAllCountsTamperedEntries(t *testing.T) {
	db, svc, _ := setupAuditService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Append(ctx, AppendInput{EventType: "auth.login", Details: "ok"})
		require.NoError(t, err)
	}

	tampered, err := svc.Append(ctx, AppendInput{EventType: "auth.login", Details: "ok"})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.AuditLog{}).
		Where("id = ?", tampered.ID).
		Update("details", "rewritten").Error)

	valid, invalid, err := svc.VerifyAll(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, valid)
	require.EqualValues(t, 1, invalid)
}

func TestAppendFailsClosedWithoutEventType(t *testing.T) {
	_, svc, _ := setupAuditService(t)

	_, err := svc.Append(context.Background(), AppendInput{})
	require.Error(t, err)
}

func TestAuditServiceRequiresKey(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	// A source that cannot serve the audit purpose refuses construction.
	_, err := NewAuditService(context.Background(), nil, db, nil)
	require.Error(t, err)
}

func TestAuditList(t *testing.T) {
	_, svc, clock := setupAuditService(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, AppendInput{EventType: "auth.login", UserID: strPtr("user-1")})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = svc.Append(ctx, AppendInput{EventType: "vault.secret.read", UserID: strPtr("user-1")})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = svc.Append(ctx, AppendInput{EventType: "auth.login", UserID: strPtr("user-2")})
	require.NoError(t, err)

	entries, err := svc.List(ctx, AuditFilter{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	require.Equal(t, "vault.secret.read", entries[0].EventType)

	entries, err = svc.List(ctx, AuditFilter{EventType: "auth.login"})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	entries, err = svc.List(ctx, AuditFilter{Since: clock.Now().Add(-90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestAuditCleanup(t *testing.T) {
	db, svc, clock := setupAuditService(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, AppendInput{EventType: "auth.login"})
	require.NoError(t, err)

	clock.Advance(DefaultAuditRetention + time.Hour)
	_, err = svc.Append(ctx, AppendInput{EventType: "auth.login"})
	require.NoError(t, err)

	removed, err := svc.Cleanup(ctx, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var count int64
	require.NoError(t, db.Model(&models.AuditLog{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}
