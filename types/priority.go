package types

// Priority represents the delivery priority of a bus message.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank returns the numeric rank of the priority, higher first. The zero value
// ranks as normal so unset priorities sort predictably.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Valid reports whether p is one of the defined priority levels or empty.
func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow, "":
		return true
	}
	return false
}

// ParsePriority converts a string into a Priority, defaulting to normal for
// unknown or empty input.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityUrgent:
		return PriorityUrgent
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityNormal
	}
}
