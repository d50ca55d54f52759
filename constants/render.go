package constants

// RenderQuality is the quality tier passed to the rendering engine.
type RenderQuality string

const (
	QualityLow        RenderQuality = "low_quality"
	QualityMedium     RenderQuality = "medium_quality"
	QualityHigh       RenderQuality = "high_quality"
	QualityProduction RenderQuality = "production_quality"
)

// CLIFlag maps a quality tier to the Manim CLI flag. Unknown tiers fall back
// to medium.
func (q RenderQuality) CLIFlag() string {
	switch q {
	case QualityLow:
		return "-ql"
	case QualityMedium:
		return "-qm"
	case QualityHigh:
		return "-qh"
	case QualityProduction:
		return "-qp"
	default:
		return "-qm"
	}
}

// DifficultyLevels accepted on generation requests.
const (
	DifficultyHighSchool    = "high_school"
	DifficultyUndergraduate = "undergraduate"
)

// ValidDifficulty reports whether level is a recognized difficulty.
func ValidDifficulty(level string) bool {
	return level == DifficultyHighSchool || level == DifficultyUndergraduate
}
