// Package risk scores how suspicious a session currently looks. Evaluate is
// a pure function over an explicit input snapshot so it can be tested
// without a running registry. The score is a heuristic, not a hard security
// boundary; callers decide how to act on the required actions.
package risk

import (
	"sort"
	"time"

	"github.com/passq/passq/internal/models"
)

// MaxScore caps the additive risk score.
const MaxScore = 100

// Lookback window for unresolved security events feeding the score.
const EventLookback = 7 * 24 * time.Hour

// Required actions, ordered from most to least urgent when rendered.
const (
	ActionImmediateReview = "immediate_review"
	ActionRequireMFA      = "require_mfa"
	ActionNotifyUser      = "notify_user"
	ActionForceRefresh    = "force_refresh"
	ActionMonitorClosely  = "monitor_closely"
)

// Score weights.
const (
	weightNoFingerprint = 20
	weightNoLocation    = 10
	weightSessionAge    = 10
	weightInactivity    = 15

	weightEventCritical = 40
	weightEventHigh     = 25
	weightEventMedium   = 15
	weightEventLow      = 5
)

// Thresholds on session age and inactivity.
const (
	staleSessionAge     = 7 * 24 * time.Hour
	forcedRefreshAge    = 30 * 24 * time.Hour
	inactivityThreshold = 24 * time.Hour
)

// Input is the snapshot Evaluate scores. Events should already be limited
// to the lookback window; resolved events are skipped either way.
type Input struct {
	Session *models.Session
	Events  []models.SecurityEvent
	Trust   *models.TrustedDevice
	Now     time.Time
}

// Assessment is the result of scoring one session.
type Assessment struct {
	Score           int
	TrustLevel      string
	RequiredActions []string
}

// Evaluate computes the additive risk score, the device trust level, and
// the deterministic list of required actions (sorted, de-duplicated).
func Evaluate(input Input) Assessment {
	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}

	score := 0
	hasCritical := false

	session := input.Session
	if session != nil {
		if session.DeviceFingerprint == "" {
			score += weightNoFingerprint
		}
		if session.LocationCountry == "" {
			score += weightNoLocation
		}
		if now.Sub(session.CreatedAt) > staleSessionAge {
			score += weightSessionAge
		}
		if now.Sub(session.LastActivityAt) > inactivityThreshold {
			score += weightInactivity
		}
	}

	cutoff := now.Add(-EventLookback)
	for _, event := range input.Events {
		if event.Resolved || event.OccurredAt.Before(cutoff) {
			continue
		}
		switch event.Severity {
		case models.SeverityCritical:
			score += weightEventCritical
			hasCritical = true
		case models.SeverityHigh:
			score += weightEventHigh
		case models.SeverityMedium:
			score += weightEventMedium
		case models.SeverityLow:
			score += weightEventLow
		}
	}

	if score > MaxScore {
		score = MaxScore
	}

	trustLevel := models.TrustLevelUntrusted
	if input.Trust != nil {
		trustLevel = input.Trust.TrustLevel
	}

	return Assessment{
		Score:           score,
		TrustLevel:      trustLevel,
		RequiredActions: requiredActions(score, hasCritical, session, now),
	}
}

func requiredActions(score int, hasCritical bool, session *models.Session, now time.Time) []string {
	set := make(map[string]struct{})

	switch {
	case score > 80:
		set[ActionRequireMFA] = struct{}{}
		set[ActionNotifyUser] = struct{}{}
	case score > 60:
		set[ActionRequireMFA] = struct{}{}
	case score > 40:
		set[ActionMonitorClosely] = struct{}{}
	}

	if hasCritical {
		set[ActionImmediateReview] = struct{}{}
	}

	if session != nil && now.Sub(session.CreatedAt) > forcedRefreshAge {
		set[ActionForceRefresh] = struct{}{}
	}

	if len(set) == 0 {
		return nil
	}

	actions := make([]string, 0, len(set))
	for action := range set {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return actions
}
