// Package scoring assigns quality tiers to merged email records.
package scoring

import "github.com/JakeFAU/email-harvester/internal/harvest"

// Confidence thresholds on the 0-100 scale.
const (
	// HighConfidence makes a record High on its own.
	HighConfidence = 80
	// MediumConfidence makes a sourced record at least Medium, even with MX invalid.
	MediumConfidence = 50
)

// Inputs are the only signals the scorer looks at.
type Inputs struct {
	Result      harvest.VerifyResult
	Confidence  *int
	MXValid     bool
	SourceCount int
}

// Score maps inputs to a tier. It is pure: equal inputs give equal tiers.
func Score(in Inputs) harvest.Tier {
	if in.Result == harvest.VerifyDeliverable {
		return harvest.TierHigh
	}
	if in.Confidence != nil && *in.Confidence >= HighConfidence {
		return harvest.TierHigh
	}
	if in.MXValid && in.SourceCount > 1 {
		return harvest.TierHigh
	}
	if in.Confidence != nil && *in.Confidence >= MediumConfidence && (in.MXValid || in.SourceCount >= 1) {
		return harvest.TierMedium
	}
	// Remaining MX-valid records have weak or no verification signal.
	if in.MXValid {
		return harvest.TierMedium
	}
	return harvest.TierLow
}

// InputsFor extracts scoring inputs from a record.
func InputsFor(rec harvest.EmailRecord) Inputs {
	in := Inputs{
		MXValid:     rec.MXValid,
		SourceCount: len(rec.Sources),
	}
	if rec.Verification != nil {
		in.Result = rec.Verification.Result
		in.Confidence = rec.Verification.Confidence
	}
	return in
}

// ScoreRecords sets Quality on every record in place.
func ScoreRecords(records []harvest.EmailRecord) {
	for i := range records {
		records[i].Quality = Score(InputsFor(records[i]))
	}
}

// ScoreRecord sets Quality on one record.
func ScoreRecord(rec *harvest.EmailRecord) {
	rec.Quality = Score(InputsFor(*rec))
}
