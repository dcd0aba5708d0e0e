package bus

import "github.com/certflow/certflow/types"

// Pattern selects messages by envelope fields. A zero-valued field matches
// anything, so the zero Pattern matches every message.
type Pattern struct {
	Type     string         `json:"type,omitempty"`
	Source   string         `json:"source,omitempty"`
	Target   string         `json:"target,omitempty"`
	Priority types.Priority `json:"priority,omitempty"`
}

// Matches reports whether msg satisfies every set field of the pattern.
func (p Pattern) Matches(msg Message) bool {
	if p.Type != "" && p.Type != msg.Type {
		return false
	}
	if p.Source != "" && p.Source != msg.Meta.Source {
		return false
	}
	if p.Target != "" && p.Target != msg.Meta.Target {
		return false
	}
	if p.Priority != "" && p.Priority != msg.Meta.Priority {
		return false
	}
	return true
}

// isTargetMatch reports whether the pattern pinned the message's target
// explicitly. Target-pinned subscriptions are delivered ahead of ones that
// matched on other fields alone.
func (p Pattern) isTargetMatch(msg Message) bool {
	return p.Target != "" && p.Target == msg.Meta.Target
}
