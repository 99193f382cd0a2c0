// Package hope scores how alive a job application still is. Scores are pure
// functions of the record and a supplied clock, never of the system time.
package hope

import (
	"strings"
	"time"

	"github.com/careerpilot/careerpilot/internal/store"
)

// AtRiskThreshold marks an application as likely ghosted.
const AtRiskThreshold = 30.0

// baselines by status. An application that just moved into a stage starts
// at the stage's baseline and decays from there.
var statusBaseline = map[string]float64{
	store.ApplicationApplied:   100,
	store.ApplicationScreening: 100,
	store.ApplicationInterview: 100,
}

// decayPerDay is the platform-specific score loss per day of silence.
// Platforms with historically poor response rates decay faster.
var decayPerDay = map[string]float64{
	"linkedin": 8.0,
	"indeed":   6.5,
	"company":  4.5,
	"referral": 3.5,
}

const defaultDecayPerDay = 5.5

// Score estimates, in [0,100], whether the application is still active.
// Deterministic in its inputs. Terminal statuses are pinned: rejected and
// withdrawn score 0, offer scores 100. For live statuses the score decays
// with time since the last recorded activity.
func Score(now, createdAt, updatedAt time.Time, status, platform string) float64 {
	switch status {
	case store.ApplicationRejected, store.ApplicationWithdrawn:
		return 0
	case store.ApplicationOffer:
		return 100
	}

	lastActivity := updatedAt
	if lastActivity.IsZero() || lastActivity.Before(createdAt) {
		lastActivity = createdAt
	}
	silent := now.Sub(lastActivity)
	if silent < 0 {
		silent = 0
	}

	base, ok := statusBaseline[status]
	if !ok {
		base = 100
	}
	rate, ok := decayPerDay[strings.ToLower(strings.TrimSpace(platform))]
	if !ok {
		rate = defaultDecayPerDay
	}
	// interview-stage silence hurts less than post-apply silence
	if status == store.ApplicationInterview {
		rate *= 0.6
	}

	days := silent.Hours() / 24
	score := base - rate*days
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// ScoreApplication scores a stored record.
func ScoreApplication(now time.Time, app *store.ApplicationRecord) float64 {
	return Score(now, app.CreatedAt, app.UpdatedAt, app.Status, app.Platform)
}

// AtRisk reports whether the score indicates probable ghosting.
func AtRisk(score float64) bool {
	return score <= AtRiskThreshold
}

// UserHealth is the mean score over a user's applied-status applications.
// The second return is false when the user has none to average.
func UserHealth(now time.Time, apps []store.ApplicationRecord) (float64, bool) {
	var sum float64
	var n int
	for i := range apps {
		if apps[i].Status != store.ApplicationApplied {
			continue
		}
		sum += ScoreApplication(now, &apps[i])
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
