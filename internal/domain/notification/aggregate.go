package notification

import (
	"fmt"
	"math"
)

// Aggregate reduces per-channel outcomes into a SendResult. It is pure:
// outcomes are read in the order given and nothing else is consulted.
func Aggregate(outcomes []ChannelOutcome) *SendResult {
	res := &SendResult{
		NotificationIDs: []string{},
		Errors:          []string{},
		Outcomes:        outcomes,
	}

	succeeded, failed := 0, 0
	for _, o := range outcomes {
		switch {
		case o.Kind.Succeeded():
			succeeded++
			if o.NotificationID != "" {
				res.NotificationIDs = append(res.NotificationIDs, o.NotificationID)
			}
		case o.Kind.Failed():
			failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", o.Channel, o.Error))
			if o.Kind == OutcomeRateLimited && o.RetryAfter > 0 {
				secs := int(math.Ceil(o.RetryAfter.Seconds()))
				if secs > res.RetryAfterSeconds {
					res.RetryAfterSeconds = secs
				}
			}
		case o.Kind == OutcomeSkipped:
			res.Skipped = append(res.Skipped, o.Channel)
		}
	}

	res.Success = succeeded > 0
	res.PartialSuccess = succeeded > 0 && failed > 0
	return res
}
