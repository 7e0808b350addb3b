package license

import "time"

// GracePeriod is how long a suspended license keeps limited operation.
const GracePeriod = 7 * 24 * time.Hour

// GraceEnd computes when the grace window for a suspended license closes.
// SuspendedAt should always be set for suspended licenses; UpdatedAt and
// CreatedAt are fallbacks for records written before the field existed.
func GraceEnd(l *License) time.Time {
	base := l.CreatedAt
	if !l.UpdatedAt.IsZero() {
		base = l.UpdatedAt
	}
	if l.SuspendedAt != nil {
		base = *l.SuspendedAt
	}
	return base.Add(GracePeriod)
}

// graceVerdict maps a suspended license to warn or block. Strictly before
// the window end is warn, at or past it is block.
func graceVerdict(l *License, now time.Time) Verdict {
	end := GraceEnd(l)
	if now.Before(end) {
		return Verdict{
			Valid:     false,
			Status:    l.Status,
			Reason:    "License is suspended",
			Action:    ActionWarn,
			GraceEnds: &end,
		}
	}
	return Verdict{
		Valid:  false,
		Status: l.Status,
		Reason: "License suspended and grace period expired",
		Action: ActionBlock,
	}
}
