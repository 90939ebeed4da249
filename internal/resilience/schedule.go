package resilience

import "time"

// auditDelays is the escalating wait between deep-audit delivery attempts.
// After the schedule is exhausted the task goes to manual follow-up, so the
// last delay is also the cap for configured attempt counts beyond the table.
var auditDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	6 * time.Hour,
}

// AuditBackoff returns the delay before the next deep-audit attempt given
// the number of attempts already made (1-based after the first failure).
func AuditBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > len(auditDelays) {
		return auditDelays[len(auditDelays)-1]
	}
	return auditDelays[attempts-1]
}
