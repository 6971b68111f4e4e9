package srs

import "time"

// User is the singleton record describing the logged-in user.
type User struct {
	Username string `json:"username"`
	Level    int    `json:"level"`

	// MaxLevelGrantedBySubscription caps which assignments count as
	// available; subjects above it are locked.
	MaxLevelGrantedBySubscription int  `json:"max_level_granted_by_subscription"`
	Subscribed                    bool `json:"subscribed"`

	StartedAt         time.Time `json:"started_at,omitzero"`
	VacationStartedAt time.Time `json:"vacation_started_at,omitzero"`

	UpdatedAt time.Time `json:"data_updated_at"`
}

// OnVacation reports whether the account has vacation mode enabled, which
// pauses review scheduling server-side.
func (u *User) OnVacation() bool {
	return !u.VacationStartedAt.IsZero()
}

// LevelProgression records when the user reached and passed one level,
// used for time-per-level statistics.
type LevelProgression struct {
	ID    int64 `json:"id"`
	Level int   `json:"level"`

	CreatedAt   time.Time `json:"created_at,omitzero"`
	UnlockedAt  time.Time `json:"unlocked_at,omitzero"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	PassedAt    time.Time `json:"passed_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	AbandonedAt time.Time `json:"abandoned_at,omitzero"`
}

// TimeSpent returns how long the user spent on this level, measured to
// passed time for finished levels or to now for the current one.
func (lp *LevelProgression) TimeSpent(now time.Time) time.Duration {
	start := lp.UnlockedAt
	if start.IsZero() {
		start = lp.CreatedAt
	}
	if start.IsZero() {
		return 0
	}
	end := lp.PassedAt
	if end.IsZero() {
		end = now
	}
	return end.Sub(start)
}
