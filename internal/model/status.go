package model

// Status is the lifecycle state shared by phases and tasks.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

// ValidStatus reports whether s is one of the recognized states.
// The empty string is treated as pending by consumers, so it is valid too.
func ValidStatus(s Status) bool {
	switch s {
	case "", StatusPending, StatusInProgress, StatusCompleted, StatusBlocked:
		return true
	}
	return false
}

// Effort is the coarse size estimate attached to a task.
type Effort string

const (
	EffortSmall  Effort = "small"
	EffortMedium Effort = "medium"
	EffortLarge  Effort = "large"
	EffortXLarge Effort = "xlarge"
)

func ValidEffort(e Effort) bool {
	switch e {
	case "", EffortSmall, EffortMedium, EffortLarge, EffortXLarge:
		return true
	}
	return false
}
