package usb

import "errors"

// Domain errors for the usb package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, usb.ErrEmptyRuleSet) {
//	    // reject the submission
//	}
var (
	// ErrEmptyRuleSet is returned when a rule submission contains no rules.
	ErrEmptyRuleSet = errors.New("usb: empty rule set")

	// ErrDuplicateRole is returned when two rules in one submission share a role.
	ErrDuplicateRole = errors.New("usb: duplicate role")

	// ErrRulePersist is returned when the rule file cannot be written.
	ErrRulePersist = errors.New("usb: rule persistence failed")

	// ErrRuleFileMalformed is returned when the rule file exists but is not a JSON rule array.
	ErrRuleFileMalformed = errors.New("usb: malformed rule file")
)
