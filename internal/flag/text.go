package flag

import "github.com/MrWong99/proctor/internal/detect"

// Reason returns the review description stored with a flag of type t.
func Reason(t detect.Type) string {
	switch t {
	case detect.SuddenNoise:
		return "Sudden loud noise detected"
	case detect.MultipleVoices:
		return "Multiple voices detected"
	case detect.BackgroundNoise:
		return "Continuous background noise"
	default:
		return "Suspicious audio activity"
	}
}

// Warning returns the participant-facing warning for a flag of type t,
// without [WarningPrefix].
func Warning(t detect.Type) string {
	switch t {
	case detect.SuddenNoise:
		return "Loud noise detected - Keep quiet during exam"
	case detect.MultipleVoices:
		return "Multiple voices detected - No talking allowed"
	case detect.BackgroundNoise:
		return "Background noise detected - Find a quiet place"
	default:
		return "Suspicious audio detected"
	}
}
