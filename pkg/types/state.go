package types

// IsValidStatusTransition validates status transitions for calendar entities.
//
// Valid transitions:
//
//	(empty) -> proposed     (pipeline-created)
//	(empty) -> confirmed    (user-authored)
//	proposed -> confirmed | dismissed
//	confirmed -> (terminal)
//	dismissed -> (terminal)
func IsValidStatusTransition(current, next Status) bool {
	if next == "" {
		return false
	}

	switch current {
	case "":
		return next == StatusProposed || next == StatusConfirmed

	case StatusProposed:
		return next == StatusConfirmed || next == StatusDismissed

	default:
		// confirmed and dismissed have no transitions out
		return false
	}
}
