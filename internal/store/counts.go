package store

import (
	"context"
	"time"

	"github.com/davidsansome/tsurukame/internal/srs"
)

// UpcomingHours is the horizon of the upcoming-review histogram: one
// bucket per hour for a week.
const UpcomingHours = 24 * 7

// AvailableCounts summarizes what the user can study right now.
type AvailableCounts struct {
	Lessons int
	Reviews int

	// Upcoming holds the number of reviews becoming available in each of
	// the next UpcomingHours hours.
	Upcoming [UpcomingHours]int
}

// PendingProgressCount returns the number of queued review submissions.
func (s *Store) PendingProgressCount(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pending_progress").Scan(&count)
	if err != nil {
		return 0, storageErr("count pending progress", err)
	}
	return count, nil
}

// PendingStudyMaterialCount returns the number of study materials
// awaiting upload.
func (s *Store) PendingStudyMaterialCount(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pending_study_materials").Scan(&count)
	if err != nil {
		return 0, storageErr("count pending study materials", err)
	}
	return count, nil
}

// AvailableCounts computes lesson and review availability at the given
// time. Burned assignments and subjects above the user's level or
// subscription cap are never counted.
func (s *Store) AvailableCounts(ctx context.Context, now time.Time) (AvailableCounts, error) {
	var counts AvailableCounts

	assignments, err := s.AllAssignments(ctx)
	if err != nil {
		return counts, err
	}
	user, err := s.User(ctx)
	if err != nil {
		return counts, err
	}

	for _, a := range assignments {
		if user != nil {
			if user.Level > 0 && a.Level > user.Level {
				continue
			}
			if user.MaxLevelGrantedBySubscription > 0 &&
				a.Level > user.MaxLevelGrantedBySubscription {
				continue
			}
		}

		if a.IsLesson() {
			counts.Lessons++
			continue
		}
		if !a.IsReviewStage() {
			continue
		}
		availableIn := a.AvailableAt.Sub(now)
		if availableIn <= 0 {
			counts.Reviews++
			continue
		}
		if hours := int(availableIn / time.Hour); hours < UpcomingHours {
			counts.Upcoming[hours]++
		}
	}
	return counts, nil
}

// SRSStageCounts returns the number of started subjects in each stage
// category. Queued local progress is already reflected because the
// subject_progress rows move on enqueue.
func (s *Store) SRSStageCounts(ctx context.Context) ([srs.NumCategories]int, error) {
	var counts [srs.NumCategories]int

	rows, err := s.conn.QueryContext(ctx, `
	SELECT srs_stage, COUNT(*) FROM subject_progress
	WHERE srs_stage >= 1 GROUP BY srs_stage`)
	if err != nil {
		return counts, storageErr("query stage counts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var stage, count int
		if err := rows.Scan(&stage, &count); err != nil {
			return counts, storageErr("scan stage count", err)
		}
		counts[srs.Stage(stage).Category()] += count
	}
	if err := rows.Err(); err != nil {
		return counts, storageErr("iterate stage counts", err)
	}
	return counts, nil
}

// GuruKanjiCount returns the number of kanji at guru or above.
func (s *Store) GuruKanjiCount(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM subject_progress
	WHERE srs_stage >= ? AND subject_type = ?`,
		int(srs.StageGuru1), string(srs.SubjectKanji)).Scan(&count)
	if err != nil {
		return 0, storageErr("count guru kanji", err)
	}
	return count, nil
}
