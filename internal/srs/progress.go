package srs

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Progress is a locally queued, not-yet-confirmed review or lesson
// submission. A record is created synchronously when the user answers and
// removed only after the remote service confirms receipt. Failed sends
// retry the same record; at-least-once delivery is the contract, so the
// server may see a duplicate.
type Progress struct {
	// LocalID identifies the record in the pending queue. It never leaves
	// the device.
	LocalID string `json:"local_id"`

	AssignmentID int64       `json:"assignment_id"`
	SubjectID    int64       `json:"subject_id"`
	SubjectType  SubjectType `json:"subject_type"`
	Level        int         `json:"level"`

	// IsLesson marks a lesson completion, sent as an assignment start
	// rather than a review.
	IsLesson bool `json:"is_lesson"`

	MeaningWrongCount int `json:"meaning_wrong_count"`
	ReadingWrongCount int `json:"reading_wrong_count"`

	// SRSStage is the stage the assignment was at when answered, used to
	// apply the local stage transition before the server confirms.
	SRSStage Stage `json:"srs_stage"`

	CreatedAt time.Time `json:"created_at"`
}

// NewProgress builds a Progress for the given assignment with a fresh
// local identifier.
func NewProgress(a *Assignment, meaningWrong, readingWrong int, now time.Time) *Progress {
	return &Progress{
		LocalID:           uuid.NewString(),
		AssignmentID:      a.ID,
		SubjectID:         a.SubjectID,
		SubjectType:       a.SubjectType,
		Level:             a.Level,
		IsLesson:          a.IsLesson(),
		MeaningWrongCount: meaningWrong,
		ReadingWrongCount: readingWrong,
		SRSStage:          a.SRSStage,
		CreatedAt:         now,
	}
}

// Correct reports whether the review had no wrong answers.
func (p *Progress) Correct() bool {
	return p.MeaningWrongCount == 0 && p.ReadingWrongCount == 0
}

// NextStage returns the stage the subject moves to locally once this
// progress is applied: up on a correct answer or lesson completion, down
// otherwise.
func (p *Progress) NextStage() Stage {
	if p.IsLesson || p.Correct() {
		return p.SRSStage.Next()
	}
	return p.SRSStage.Previous()
}

// Projected returns the assignment as local reads should see it while
// this record waits in the outbound queue. The stage has already moved;
// the next review time is unknown until the server confirms, so
// AvailableAt stays unset.
func (p *Progress) Projected() *Assignment {
	a := &Assignment{
		ID:          p.AssignmentID,
		SubjectID:   p.SubjectID,
		SubjectType: p.SubjectType,
		Level:       p.Level,
		SRSStage:    p.NextStage(),
		UpdatedAt:   p.CreatedAt,
	}
	if p.IsLesson {
		a.StartedAt = p.CreatedAt
	}
	return a
}

// Validate checks the fields a queued progress record must carry.
func (p *Progress) Validate() error {
	if p.LocalID == "" {
		return fmt.Errorf("local_id is required")
	}
	if p.SubjectID <= 0 {
		return fmt.Errorf("subject_id is required")
	}
	if p.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}
