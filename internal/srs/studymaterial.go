package srs

import (
	"fmt"
	"time"
)

// StudyMaterial holds user-authored notes and synonyms for one subject.
// At most one study material exists per subject ID; conflicting edits are
// resolved last-write-wins by UpdatedAt.
type StudyMaterial struct {
	// ID is the server-side identifier, zero until the server has created
	// the resource.
	ID int64 `json:"id"`

	SubjectID       int64    `json:"subject_id"`
	MeaningNote     string   `json:"meaning_note,omitempty"`
	ReadingNote     string   `json:"reading_note,omitempty"`
	MeaningSynonyms []string `json:"meaning_synonyms,omitempty"`

	UpdatedAt time.Time `json:"data_updated_at"`
}

// Validate checks the fields a stored study material must carry.
func (m *StudyMaterial) Validate() error {
	if m.SubjectID <= 0 {
		return fmt.Errorf("subject_id is required")
	}
	return nil
}
