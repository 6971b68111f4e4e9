package srs

// Stage is a discrete SRS progress level governing review scheduling.
// Stage 0 means the subject is still a lesson; stage 9 means burned.
type Stage int

const (
	StageInitiate    Stage = 0
	StageApprentice1 Stage = 1
	StageApprentice2 Stage = 2
	StageApprentice3 Stage = 3
	StageApprentice4 Stage = 4
	StageGuru1       Stage = 5
	StageGuru2       Stage = 6
	StageMaster      Stage = 7
	StageEnlightened Stage = 8
	StageBurned      Stage = 9
)

// StageCategory groups stages into the five buckets shown to the user.
type StageCategory int

const (
	CategoryApprentice StageCategory = iota
	CategoryGuru
	CategoryMaster
	CategoryEnlightened
	CategoryBurned

	// NumCategories is the size of a stage histogram.
	NumCategories
)

// String returns a human-readable category name.
func (c StageCategory) String() string {
	switch c {
	case CategoryApprentice:
		return "apprentice"
	case CategoryGuru:
		return "guru"
	case CategoryMaster:
		return "master"
	case CategoryEnlightened:
		return "enlightened"
	case CategoryBurned:
		return "burned"
	default:
		return "unknown"
	}
}

// Category maps an SRS stage to its display category. Stage 0 has no
// category; it maps to CategoryApprentice for histogram purposes only
// when the subject has been started, so callers should filter stage 0
// rows before aggregating.
func (s Stage) Category() StageCategory {
	switch {
	case s <= StageApprentice4:
		return CategoryApprentice
	case s <= StageGuru2:
		return CategoryGuru
	case s == StageMaster:
		return CategoryMaster
	case s == StageEnlightened:
		return CategoryEnlightened
	default:
		return CategoryBurned
	}
}

// Next returns the stage after a fully correct review.
func (s Stage) Next() Stage {
	if s >= StageBurned {
		return StageBurned
	}
	return s + 1
}

// Previous returns the stage after an incorrect review.
func (s Stage) Previous() Stage {
	if s <= StageInitiate {
		return StageInitiate
	}
	return s - 1
}

// SubjectType identifies the kind of learnable subject.
type SubjectType string

const (
	SubjectRadical    SubjectType = "radical"
	SubjectKanji      SubjectType = "kanji"
	SubjectVocabulary SubjectType = "vocabulary"
)
