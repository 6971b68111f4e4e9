package store

import (
	"context"
	"encoding/json"

	"github.com/davidsansome/tsurukame/internal/srs"
)

// EnqueueProgress appends a completed review to the outbound queue. The
// append is unconditional: the queue does not deduplicate by content, so
// a caller submitting the same subject twice queues two records.
//
// In the same transaction the local SRS view moves to the post-answer
// stage and the now-stale assignment row is dropped, so reads reflect the
// answer immediately while the flush happens in the background.
func (s *Store) EnqueueProgress(ctx context.Context, p *srs.Progress) error {
	if err := p.Validate(); err != nil {
		return storageErr("invalid progress", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin enqueue progress", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO pending_progress (
		local_id, assignment_id, subject_id, subject_type, level,
		is_lesson, meaning_wrong, reading_wrong, srs_stage, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.LocalID, p.AssignmentID, p.SubjectID, string(p.SubjectType), p.Level,
		p.IsLesson, p.MeaningWrongCount, p.ReadingWrongCount, p.SRSStage,
		timeToString(p.CreatedAt),
	); err != nil {
		return storageErr("enqueue progress", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM assignments WHERE subject_id = ?", p.SubjectID); err != nil {
		return storageErr("drop stale assignment", err)
	}

	if _, err := tx.ExecContext(ctx, `
	REPLACE INTO subject_progress (subject_id, level, srs_stage, subject_type)
	VALUES (?, ?, ?, ?)`,
		p.SubjectID, p.Level, int(p.NextStage()), string(p.SubjectType),
	); err != nil {
		return storageErr("update subject progress", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit enqueue progress", err)
	}
	return nil
}

// DequeueProgress removes a record by its local identifier, called only
// after confirmed remote acceptance. Dequeuing an unknown ID is a no-op.
func (s *Store) DequeueProgress(ctx context.Context, localID string) error {
	_, err := s.conn.ExecContext(ctx,
		"DELETE FROM pending_progress WHERE local_id = ?", localID)
	return storageErr("dequeue progress", err)
}

func scanProgress(row interface {
	Scan(dest ...any) error
}) (*srs.Progress, error) {
	var p srs.Progress
	var subjectType, createdAt string
	if err := row.Scan(&p.LocalID, &p.AssignmentID, &p.SubjectID, &subjectType,
		&p.Level, &p.IsLesson, &p.MeaningWrongCount, &p.ReadingWrongCount,
		&p.SRSStage, &createdAt); err != nil {
		return nil, err
	}
	p.SubjectType = srs.SubjectType(subjectType)
	p.CreatedAt = stringToTime(createdAt)
	return &p, nil
}

const progressColumns = `
	local_id, assignment_id, subject_id, subject_type, level,
	is_lesson, meaning_wrong, reading_wrong, srs_stage, created_at`

// PendingProgress returns a snapshot of the outbound queue in enqueue
// order.
func (s *Store) PendingProgress(ctx context.Context) ([]*srs.Progress, error) {
	var ret []*srs.Progress
	err := s.ForEachPendingProgress(ctx, func(p *srs.Progress) error {
		ret = append(ret, p)
		return nil
	})
	return ret, err
}

// ForEachPendingProgress streams the outbound queue in enqueue order
// without buffering it, for resumable flushes. Returning an error from fn
// stops the iteration and propagates the error.
func (s *Store) ForEachPendingProgress(ctx context.Context, fn func(*srs.Progress) error) error {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT"+progressColumns+" FROM pending_progress ORDER BY seq ASC")
	if err != nil {
		return storageErr("query pending progress", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return storageErr("scan pending progress", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return storageErr("iterate pending progress", err)
	}
	return nil
}

// PendingProgressFor returns the queued progress records for one subject,
// oldest first. Used to answer assignment reads for subjects whose
// assignment row was dropped on enqueue.
func (s *Store) PendingProgressFor(ctx context.Context, subjectID int64) ([]*srs.Progress, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT"+progressColumns+" FROM pending_progress WHERE subject_id = ? ORDER BY seq ASC",
		subjectID)
	if err != nil {
		return nil, storageErr("query pending progress", err)
	}
	defer rows.Close()

	var ret []*srs.Progress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, storageErr("scan pending progress", err)
		}
		ret = append(ret, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate pending progress", err)
	}
	return ret, nil
}

// SetStudyMaterial stores a local edit and marks it pending upload. The
// edit is visible to readers immediately; the pending mark is cleared
// once the server confirms the update.
func (s *Store) SetStudyMaterial(ctx context.Context, m *srs.StudyMaterial) error {
	if err := m.Validate(); err != nil {
		return storageErr("invalid study material", err)
	}
	synonyms, err := json.Marshal(m.MeaningSynonyms)
	if err != nil {
		return storageErr("marshal synonyms", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin set study material", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
	REPLACE INTO study_materials (
		subject_id, material_id, meaning_note, reading_note, meaning_synonyms, updated_at
	) VALUES (?, ?, ?, ?, ?, ?)`,
		m.SubjectID, m.ID, m.MeaningNote, m.ReadingNote,
		string(synonyms), timeToString(m.UpdatedAt),
	); err != nil {
		return storageErr("set study material", err)
	}

	if _, err := tx.ExecContext(ctx,
		"REPLACE INTO pending_study_materials (subject_id) VALUES (?)",
		m.SubjectID); err != nil {
		return storageErr("mark study material pending", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit set study material", err)
	}
	return nil
}

// ClearStudyMaterialPending unmarks a study material after the server
// confirms the update. Unknown subject IDs are a no-op.
func (s *Store) ClearStudyMaterialPending(ctx context.Context, subjectID int64) error {
	_, err := s.conn.ExecContext(ctx,
		"DELETE FROM pending_study_materials WHERE subject_id = ?", subjectID)
	return storageErr("clear study material pending", err)
}

// PendingStudyMaterials returns the study materials still awaiting
// upload, in subject order.
func (s *Store) PendingStudyMaterials(ctx context.Context) ([]*srs.StudyMaterial, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT m.subject_id, m.material_id, m.meaning_note, m.reading_note,
	       m.meaning_synonyms, m.updated_at
	FROM study_materials AS m
	JOIN pending_study_materials AS p ON m.subject_id = p.subject_id
	ORDER BY m.subject_id ASC`)
	if err != nil {
		return nil, storageErr("query pending study materials", err)
	}
	defer rows.Close()

	var ret []*srs.StudyMaterial
	for rows.Next() {
		m, err := scanStudyMaterial(rows)
		if err != nil {
			return nil, storageErr("scan pending study material", err)
		}
		ret = append(ret, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate pending study materials", err)
	}
	return ret, nil
}
