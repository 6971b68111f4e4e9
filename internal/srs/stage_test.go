package srs

import (
	"testing"
	"time"
)

func TestStageCategory(t *testing.T) {
	tests := []struct {
		stage Stage
		want  StageCategory
	}{
		{StageApprentice1, CategoryApprentice},
		{StageApprentice4, CategoryApprentice},
		{StageGuru1, CategoryGuru},
		{StageGuru2, CategoryGuru},
		{StageMaster, CategoryMaster},
		{StageEnlightened, CategoryEnlightened},
		{StageBurned, CategoryBurned},
	}
	for _, tt := range tests {
		if got := tt.stage.Category(); got != tt.want {
			t.Errorf("Stage(%d).Category() = %v, want %v", tt.stage, got, tt.want)
		}
	}
}

func TestStageNextPrevious(t *testing.T) {
	if got := StageApprentice1.Next(); got != StageApprentice2 {
		t.Errorf("Next() = %v, want %v", got, StageApprentice2)
	}
	if got := StageBurned.Next(); got != StageBurned {
		t.Errorf("Next() at burned = %v, want burned", got)
	}
	if got := StageApprentice1.Previous(); got != StageApprentice1 {
		t.Errorf("Previous() at apprentice 1 = %v, want apprentice 1", got)
	}
	if got := StageGuru1.Previous(); got != StageApprentice4 {
		t.Errorf("Previous() = %v, want %v", got, StageApprentice4)
	}
}

func TestAssignmentIsLesson(t *testing.T) {
	now := time.Now()
	a := &Assignment{
		ID:         1,
		SubjectID:  10,
		SRSStage:   StageInitiate,
		UnlockedAt: now,
	}
	if !a.IsLesson() {
		t.Error("unlocked unstarted assignment should be a lesson")
	}

	a.StartedAt = now
	if a.IsLesson() {
		t.Error("started assignment should not be a lesson")
	}
}

func TestAssignmentIsReviewAvailable(t *testing.T) {
	now := time.Now()
	a := &Assignment{
		ID:          1,
		SubjectID:   10,
		SRSStage:    StageApprentice2,
		UnlockedAt:  now.Add(-48 * time.Hour),
		StartedAt:   now.Add(-48 * time.Hour),
		AvailableAt: now.Add(-time.Hour),
	}
	if !a.IsReviewAvailable(now) {
		t.Error("past available_at should be reviewable")
	}
	if a.IsReviewAvailable(now.Add(-2 * time.Hour)) {
		t.Error("before available_at should not be reviewable")
	}

	a.SRSStage = StageBurned
	a.BurnedAt = now.Add(-time.Hour)
	if a.IsReviewAvailable(now) {
		t.Error("burned assignment should never be reviewable")
	}
}

func TestProgressNextStage(t *testing.T) {
	now := time.Now()
	a := &Assignment{
		ID:         1,
		SubjectID:  10,
		SRSStage:   StageApprentice3,
		UnlockedAt: now,
		StartedAt:  now,
	}

	correct := NewProgress(a, 0, 0, now)
	if !correct.Correct() {
		t.Error("zero wrong counts should be correct")
	}
	if got := correct.NextStage(); got != StageApprentice4 {
		t.Errorf("NextStage() = %v, want %v", got, StageApprentice4)
	}

	wrong := NewProgress(a, 1, 2, now)
	if wrong.Correct() {
		t.Error("nonzero wrong counts should not be correct")
	}
	if got := wrong.NextStage(); got >= StageApprentice3 {
		t.Errorf("NextStage() after mistakes = %v, want below %v", got, StageApprentice3)
	}
}

func TestNewProgressAssignsLocalID(t *testing.T) {
	now := time.Now()
	a := &Assignment{ID: 1, SubjectID: 10, SRSStage: StageInitiate, UnlockedAt: now}

	p1 := NewProgress(a, 0, 0, now)
	p2 := NewProgress(a, 0, 0, now)
	if p1.LocalID == "" {
		t.Fatal("LocalID should be set")
	}
	if p1.LocalID == p2.LocalID {
		t.Error("LocalIDs should be unique per submission")
	}
	if !p1.IsLesson {
		t.Error("progress for an unstarted assignment should be a lesson")
	}
}

func TestProgressProjected(t *testing.T) {
	now := time.Now()
	a := &Assignment{
		ID:          1,
		SubjectID:   10,
		SubjectType: SubjectKanji,
		Level:       3,
		SRSStage:    StageApprentice3,
		UnlockedAt:  now.Add(-48 * time.Hour),
		StartedAt:   now.Add(-48 * time.Hour),
	}

	got := NewProgress(a, 0, 0, now).Projected()
	if got.SubjectID != 10 || got.Level != 3 || got.SubjectType != SubjectKanji {
		t.Errorf("projected identity = %+v, want the original subject", got)
	}
	if got.SRSStage != StageApprentice4 {
		t.Errorf("projected stage = %v, want %v", got.SRSStage, StageApprentice4)
	}
	if !got.AvailableAt.IsZero() {
		t.Errorf("AvailableAt = %v, want unset", got.AvailableAt)
	}

	lesson := &Assignment{ID: 2, SubjectID: 11, SRSStage: StageInitiate, UnlockedAt: now}
	got = NewProgress(lesson, 0, 0, now).Projected()
	if got.StartedAt.IsZero() {
		t.Error("a completed lesson should project as started")
	}
	if got.IsLesson() {
		t.Error("a completed lesson should no longer project as a lesson")
	}
}

func TestLevelProgressionTimeSpent(t *testing.T) {
	now := time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)

	passed := &LevelProgression{
		Level:      4,
		UnlockedAt: now.Add(-20 * 24 * time.Hour),
		PassedAt:   now.Add(-10 * 24 * time.Hour),
	}
	if got := passed.TimeSpent(now); got != 10*24*time.Hour {
		t.Errorf("TimeSpent() = %v, want 10 days", got)
	}

	// The current level measures to now.
	current := &LevelProgression{
		Level:      5,
		UnlockedAt: now.Add(-3 * 24 * time.Hour),
	}
	if got := current.TimeSpent(now); got != 3*24*time.Hour {
		t.Errorf("TimeSpent() = %v, want 3 days", got)
	}

	// Unlocked time can be missing on old records; created_at stands in.
	legacy := &LevelProgression{
		Level:     2,
		CreatedAt: now.Add(-time.Hour),
	}
	if got := legacy.TimeSpent(now); got != time.Hour {
		t.Errorf("TimeSpent() = %v, want 1h", got)
	}

	if got := (&LevelProgression{Level: 1}).TimeSpent(now); got != 0 {
		t.Errorf("TimeSpent() with no start = %v, want 0", got)
	}
}

func TestUserOnVacation(t *testing.T) {
	u := &User{Username: "a", Level: 5}
	if u.OnVacation() {
		t.Error("zero vacation time should not be on vacation")
	}
	u.VacationStartedAt = time.Now()
	if !u.OnVacation() {
		t.Error("set vacation time should be on vacation")
	}
}
