package alerting

import (
	"errors"
	"fmt"
)

// ErrRuleNotFound means no rule has the requested id or sensor name.
var ErrRuleNotFound = errors.New("alert rule not found")

// RuleError marks a rule that cannot be evaluated. Such rules stay loaded
// and visible but never fire.
type RuleError struct {
	RuleID string
	Reason string
}

func (e *RuleError) Error() string {
	if e == nil {
		return "invalid alert rule"
	}
	return fmt.Sprintf("alert rule %s: %s", e.RuleID, e.Reason)
}
