package sync

import (
	"context"

	"github.com/davidsansome/tsurukame/internal/srs"
)

// RemoteClient is the wire-protocol surface the engine consumes. Every
// call is synchronous from the engine's point of view and may fail with a
// network, auth, or server error; the engine owns the retry policy.
//
// The fetch methods report pages incrementally through onPage so the
// engine can merge each page as it arrives, and return the server
// timestamp to use as the next sync cursor.
type RemoteClient interface {
	// Assignments lists assignments modified after the cursor ("" for
	// all). onPage receives each decoded page; returning an error stops
	// the fetch.
	Assignments(ctx context.Context, updatedAfter string, onPage func([]*srs.Assignment) error) (string, error)

	// StudyMaterials lists study materials modified after the cursor.
	StudyMaterials(ctx context.Context, updatedAfter string, onPage func([]*srs.StudyMaterial) error) (string, error)

	// LevelProgressions lists level progressions modified after the cursor.
	LevelProgressions(ctx context.Context, updatedAfter string) ([]*srs.LevelProgression, string, error)

	// User fetches the logged-in user's info.
	User(ctx context.Context) (*srs.User, error)

	// SendProgress submits one completed lesson or review.
	SendProgress(ctx context.Context, p *srs.Progress) error

	// UpdateStudyMaterial creates or updates one study material.
	UpdateStudyMaterial(ctx context.Context, m *srs.StudyMaterial) error
}
