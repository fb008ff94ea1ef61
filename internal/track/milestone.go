package track

// DefaultMilestoneThreshold is the view-count step between notifications.
const DefaultMilestoneThreshold = int64(50000)

// Evaluate decides whether a view-count milestone was crossed.
//
// It returns the highest milestone at or below views and true when that
// milestone is above both zero and the last notified one. When several
// thresholds were crossed since the last check only the highest is reported;
// intermediate milestones are deliberately skipped, never queued.
//
// The comparison baseline is the last durably recorded notified milestone,
// not the views seen at the previous check.
func Evaluate(lastNotified, views, threshold int64) (int64, bool) {
	if threshold <= 0 {
		threshold = DefaultMilestoneThreshold
	}
	if views <= 0 {
		return 0, false
	}
	floor := (views / threshold) * threshold
	if floor <= 0 || floor <= lastNotified {
		return 0, false
	}
	return floor, true
}
