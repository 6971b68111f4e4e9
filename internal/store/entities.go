package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/davidsansome/tsurukame/internal/srs"
)

// UpsertAssignments merges server assignments into the cache. An incoming
// record replaces the stored one only if its modification timestamp is
// newer, so the merge is idempotent and order-independent across calls.
func (s *Store) UpsertAssignments(ctx context.Context, assignments []*srs.Assignment) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin upsert assignments", err)
	}
	defer tx.Rollback()

	const query = `
	INSERT INTO assignments (
		subject_id, assignment_id, subject_type, level, srs_stage,
		unlocked_at, started_at, passed_at, burned_at, available_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(subject_id) DO UPDATE SET
		assignment_id = excluded.assignment_id,
		subject_type = excluded.subject_type,
		level = excluded.level,
		srs_stage = excluded.srs_stage,
		unlocked_at = excluded.unlocked_at,
		started_at = excluded.started_at,
		passed_at = excluded.passed_at,
		burned_at = excluded.burned_at,
		available_at = excluded.available_at,
		updated_at = excluded.updated_at
	WHERE excluded.updated_at > assignments.updated_at
	`
	// Derived from the merged row, not the incoming one, so a stale page
	// rejected by the LWW guard cannot regress the local stage view.
	const progressQuery = `
	INSERT INTO subject_progress (subject_id, level, srs_stage, subject_type)
	SELECT subject_id, level, srs_stage, subject_type
	FROM assignments WHERE subject_id = ?
	ON CONFLICT(subject_id) DO UPDATE SET
		level = excluded.level,
		srs_stage = excluded.srs_stage,
		subject_type = excluded.subject_type
	`
	for _, a := range assignments {
		if err := a.Validate(); err != nil {
			return storageErr("invalid assignment", err)
		}
		if _, err := tx.ExecContext(ctx, query,
			a.SubjectID, a.ID, string(a.SubjectType), a.Level, a.SRSStage,
			timeToNullString(a.UnlockedAt),
			timeToNullString(a.StartedAt),
			timeToNullString(a.PassedAt),
			timeToNullString(a.BurnedAt),
			timeToNullString(a.AvailableAt),
			timeToString(a.UpdatedAt),
		); err != nil {
			return storageErr("upsert assignment", err)
		}
		if _, err := tx.ExecContext(ctx, progressQuery, a.SubjectID); err != nil {
			return storageErr("upsert subject progress", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit upsert assignments", err)
	}
	return nil
}

// UpsertStudyMaterials merges server study materials into the cache,
// last-writer-wins per subject ID by modification timestamp.
func (s *Store) UpsertStudyMaterials(ctx context.Context, materials []*srs.StudyMaterial) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin upsert study materials", err)
	}
	defer tx.Rollback()

	const query = `
	INSERT INTO study_materials (
		subject_id, material_id, meaning_note, reading_note, meaning_synonyms, updated_at
	) VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(subject_id) DO UPDATE SET
		material_id = excluded.material_id,
		meaning_note = excluded.meaning_note,
		reading_note = excluded.reading_note,
		meaning_synonyms = excluded.meaning_synonyms,
		updated_at = excluded.updated_at
	WHERE excluded.updated_at > study_materials.updated_at
	`
	for _, m := range materials {
		if err := m.Validate(); err != nil {
			return storageErr("invalid study material", err)
		}
		synonyms, err := json.Marshal(m.MeaningSynonyms)
		if err != nil {
			return storageErr("marshal synonyms", err)
		}
		if _, err := tx.ExecContext(ctx, query,
			m.SubjectID, m.ID, m.MeaningNote, m.ReadingNote,
			string(synonyms), timeToString(m.UpdatedAt),
		); err != nil {
			return storageErr("upsert study material", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit upsert study materials", err)
	}
	return nil
}

// SetUser replaces the singleton user row.
func (s *Store) SetUser(ctx context.Context, u *srs.User) error {
	const query = `
	REPLACE INTO user (
		id, username, level, max_level_granted, subscribed,
		started_at, vacation_started_at, updated_at
	) VALUES (0, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.conn.ExecContext(ctx, query,
		u.Username, u.Level, u.MaxLevelGrantedBySubscription, u.Subscribed,
		timeToNullString(u.StartedAt),
		timeToNullString(u.VacationStartedAt),
		timeToString(u.UpdatedAt),
	)
	return storageErr("set user", err)
}

// UpsertLevelProgressions replaces level progression rows by server ID.
func (s *Store) UpsertLevelProgressions(ctx context.Context, levels []*srs.LevelProgression) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin upsert level progressions", err)
	}
	defer tx.Rollback()

	const query = `
	REPLACE INTO level_progressions (
		id, level, created_at, unlocked_at, started_at,
		passed_at, completed_at, abandoned_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, lp := range levels {
		if _, err := tx.ExecContext(ctx, query,
			lp.ID, lp.Level,
			timeToNullString(lp.CreatedAt),
			timeToNullString(lp.UnlockedAt),
			timeToNullString(lp.StartedAt),
			timeToNullString(lp.PassedAt),
			timeToNullString(lp.CompletedAt),
			timeToNullString(lp.AbandonedAt),
		); err != nil {
			return storageErr("upsert level progression", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit upsert level progressions", err)
	}
	return nil
}

const assignmentColumns = `
	subject_id, assignment_id, subject_type, level, srs_stage,
	unlocked_at, started_at, passed_at, burned_at, available_at, updated_at`

func scanAssignment(row interface {
	Scan(dest ...any) error
}) (*srs.Assignment, error) {
	var a srs.Assignment
	var subjectType, updatedAt string
	var unlocked, started, passed, burned, available sql.NullString

	if err := row.Scan(
		&a.SubjectID, &a.ID, &subjectType, &a.Level, &a.SRSStage,
		&unlocked, &started, &passed, &burned, &available, &updatedAt,
	); err != nil {
		return nil, err
	}
	a.SubjectType = srs.SubjectType(subjectType)
	a.UnlockedAt = nullStringToTime(unlocked)
	a.StartedAt = nullStringToTime(started)
	a.PassedAt = nullStringToTime(passed)
	a.BurnedAt = nullStringToTime(burned)
	a.AvailableAt = nullStringToTime(available)
	a.UpdatedAt = stringToTime(updatedAt)
	return &a, nil
}

// Assignment returns the cached assignment for one subject, or nil if the
// subject has none. While an answer for the subject sits in the outbound
// queue the row is dropped, so the read falls back to a view projected
// from the newest queued record.
func (s *Store) Assignment(ctx context.Context, subjectID int64) (*srs.Assignment, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT"+assignmentColumns+" FROM assignments WHERE subject_id = ?", subjectID)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		pending, err := s.PendingProgressFor(ctx, subjectID)
		if err != nil || len(pending) == 0 {
			return nil, err
		}
		return pending[len(pending)-1].Projected(), nil
	}
	if err != nil {
		return nil, storageErr("get assignment", err)
	}
	return a, nil
}

// AllAssignments returns every cached assignment.
func (s *Store) AllAssignments(ctx context.Context) ([]*srs.Assignment, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT"+assignmentColumns+" FROM assignments")
	if err != nil {
		return nil, storageErr("query assignments", err)
	}
	defer rows.Close()

	var ret []*srs.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, storageErr("scan assignment", err)
		}
		ret = append(ret, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate assignments", err)
	}
	return ret, nil
}

func scanStudyMaterial(row interface {
	Scan(dest ...any) error
}) (*srs.StudyMaterial, error) {
	var m srs.StudyMaterial
	var synonyms, updatedAt string
	if err := row.Scan(&m.SubjectID, &m.ID, &m.MeaningNote, &m.ReadingNote,
		&synonyms, &updatedAt); err != nil {
		return nil, err
	}
	if synonyms != "" && synonyms != "null" {
		if err := json.Unmarshal([]byte(synonyms), &m.MeaningSynonyms); err != nil {
			return nil, err
		}
	}
	m.UpdatedAt = stringToTime(updatedAt)
	return &m, nil
}

// StudyMaterial returns the cached study material for one subject, or nil
// if the subject has none.
func (s *Store) StudyMaterial(ctx context.Context, subjectID int64) (*srs.StudyMaterial, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT subject_id, material_id, meaning_note, reading_note, meaning_synonyms, updated_at
	FROM study_materials WHERE subject_id = ?`, subjectID)
	m, err := scanStudyMaterial(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get study material", err)
	}
	return m, nil
}

// User returns the cached user info, or nil before the first sync.
func (s *Store) User(ctx context.Context) (*srs.User, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT username, level, max_level_granted, subscribed,
	       started_at, vacation_started_at, updated_at
	FROM user WHERE id = 0`)

	var u srs.User
	var started, vacation sql.NullString
	var updatedAt string
	err := row.Scan(&u.Username, &u.Level, &u.MaxLevelGrantedBySubscription,
		&u.Subscribed, &started, &vacation, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get user", err)
	}
	u.StartedAt = nullStringToTime(started)
	u.VacationStartedAt = nullStringToTime(vacation)
	u.UpdatedAt = stringToTime(updatedAt)
	return &u, nil
}

// LevelProgressions returns all cached level progressions ordered by level.
func (s *Store) LevelProgressions(ctx context.Context) ([]*srs.LevelProgression, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, level, created_at, unlocked_at, started_at,
	       passed_at, completed_at, abandoned_at
	FROM level_progressions ORDER BY level ASC`)
	if err != nil {
		return nil, storageErr("query level progressions", err)
	}
	defer rows.Close()

	var ret []*srs.LevelProgression
	for rows.Next() {
		var lp srs.LevelProgression
		var created, unlocked, started, passed, completed, abandoned sql.NullString
		if err := rows.Scan(&lp.ID, &lp.Level, &created, &unlocked, &started,
			&passed, &completed, &abandoned); err != nil {
			return nil, storageErr("scan level progression", err)
		}
		lp.CreatedAt = nullStringToTime(created)
		lp.UnlockedAt = nullStringToTime(unlocked)
		lp.StartedAt = nullStringToTime(started)
		lp.PassedAt = nullStringToTime(passed)
		lp.CompletedAt = nullStringToTime(completed)
		lp.AbandonedAt = nullStringToTime(abandoned)
		ret = append(ret, &lp)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate level progressions", err)
	}
	return ret, nil
}

// AssignmentsUpdatedAfter returns the assignments sync cursor: the server
// timestamp of the last successfully merged batch, or "" for a full
// fetch.
func (s *Store) AssignmentsUpdatedAfter(ctx context.Context) (string, error) {
	var cursor string
	err := s.conn.QueryRowContext(ctx,
		"SELECT assignments_updated_after FROM sync WHERE id = 0").Scan(&cursor)
	if err != nil {
		return "", storageErr("get assignments cursor", err)
	}
	return cursor, nil
}

// SetAssignmentsUpdatedAfter advances the assignments sync cursor. Called
// only after a successful merge; never rolled back except by Clear.
func (s *Store) SetAssignmentsUpdatedAfter(ctx context.Context, cursor string) error {
	_, err := s.conn.ExecContext(ctx,
		"UPDATE sync SET assignments_updated_after = ? WHERE id = 0", cursor)
	return storageErr("set assignments cursor", err)
}

// StudyMaterialsUpdatedAfter returns the study materials sync cursor.
func (s *Store) StudyMaterialsUpdatedAfter(ctx context.Context) (string, error) {
	var cursor string
	err := s.conn.QueryRowContext(ctx,
		"SELECT study_materials_updated_after FROM sync WHERE id = 0").Scan(&cursor)
	if err != nil {
		return "", storageErr("get study materials cursor", err)
	}
	return cursor, nil
}

// SetStudyMaterialsUpdatedAfter advances the study materials sync cursor.
func (s *Store) SetStudyMaterialsUpdatedAfter(ctx context.Context, cursor string) error {
	_, err := s.conn.ExecContext(ctx,
		"UPDATE sync SET study_materials_updated_after = ? WHERE id = 0", cursor)
	return storageErr("set study materials cursor", err)
}
