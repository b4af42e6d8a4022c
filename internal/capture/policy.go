package capture

import "math"

// Thresholds are the confidence cut-offs of the ingestion policy.
type Thresholds struct {
	Direct  float64
	Confirm float64
}

// Decide maps an extraction outcome to a policy. An extraction error always
// archives the raw text; NaN counts as no confidence at all.
func Decide(confidence float64, extractErr error, t Thresholds) Policy {
	switch {
	case extractErr != nil:
		return PolicyArchiveRaw
	case math.IsNaN(confidence):
		return PolicyTriage
	case confidence >= t.Direct:
		return PolicyDirect
	case confidence >= t.Confirm:
		return PolicyConfirm
	default:
		return PolicyTriage
	}
}
