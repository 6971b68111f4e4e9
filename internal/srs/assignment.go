// Package srs provides the domain model for the spaced repetition sync core:
// assignments, study materials, queued review progress, and user info.
package srs

import (
	"fmt"
	"time"
)

// Assignment binds a learnable subject to the user's progress on it.
// There is exactly one assignment per (user, subject) pair; the local
// store keys assignments by SubjectID.
type Assignment struct {
	// ID is the server-side assignment identifier, needed when submitting
	// reviews and starting lessons.
	ID int64 `json:"id"`

	SubjectID   int64       `json:"subject_id"`
	SubjectType SubjectType `json:"subject_type"`
	Level       int         `json:"level"`
	SRSStage    Stage       `json:"srs_stage"`

	UnlockedAt  time.Time `json:"unlocked_at,omitzero"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	PassedAt    time.Time `json:"passed_at,omitzero"`
	BurnedAt    time.Time `json:"burned_at,omitzero"`
	AvailableAt time.Time `json:"available_at,omitzero"`

	// UpdatedAt is the server-side modification timestamp. Merges into the
	// local store are last-writer-wins on this field.
	UpdatedAt time.Time `json:"data_updated_at"`
}

// Validate checks the fields a stored assignment must carry.
func (a *Assignment) Validate() error {
	if a.SubjectID <= 0 {
		return fmt.Errorf("subject_id is required")
	}
	if a.SRSStage < 0 || a.SRSStage > StageBurned {
		return fmt.Errorf("srs_stage must be between 0 and %d (got %d)", StageBurned, a.SRSStage)
	}
	return nil
}

// IsLesson reports whether the subject is unlocked but not yet started,
// which makes it available as a lesson.
func (a *Assignment) IsLesson() bool {
	return a.SRSStage == StageInitiate && !a.UnlockedAt.IsZero() && a.StartedAt.IsZero()
}

// IsBurned reports whether the subject has completed all SRS stages.
// Burned assignments never appear as due.
func (a *Assignment) IsBurned() bool {
	return !a.BurnedAt.IsZero() || a.SRSStage >= StageBurned
}

// IsReviewStage reports whether the assignment participates in the review
// cycle at all (started, not burned).
func (a *Assignment) IsReviewStage() bool {
	return a.SRSStage > StageInitiate && !a.IsBurned() && !a.AvailableAt.IsZero()
}

// IsReviewAvailable reports whether a review is due at the given time.
func (a *Assignment) IsReviewAvailable(now time.Time) bool {
	return a.IsReviewStage() && !a.AvailableAt.After(now)
}
