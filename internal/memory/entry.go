package memory

// Entry is the atomic record that flows through every memory tier.
// Timestamps are float seconds since the Unix epoch so that subjective
// (simulated) time and wall time share one representation.
type Entry struct {
	EventType      string         `json:"event_type"`
	Significance   float64        `json:"significance"`
	Timestamp      float64        `json:"timestamp"`
	Weight         float64        `json:"weight"`
	Feedback       map[string]any `json:"feedback,omitempty"`
	SubjectiveTime *float64       `json:"subjective_time,omitempty"`
}

// NewEntry creates an entry with the default weight of 1.0.
// Significance is intended to be in [0,1] but is not clamped here;
// callers own that range.
func NewEntry(eventType string, significance, timestamp float64) Entry {
	return Entry{
		EventType:    eventType,
		Significance: significance,
		Timestamp:    timestamp,
		Weight:       1.0,
	}
}

// Age returns the entry's age in seconds relative to now.
func (e Entry) Age(now float64) float64 {
	return now - e.Timestamp
}

// EpisodicTier is the externally owned episodic store the coordinator
// promotes into. Append and Entries are both required; there is no
// removal. Episodic records leave through decay and archival.
type EpisodicTier interface {
	Append(e Entry)
	Entries() []Entry
}

// SelfState supplies the agent's subjective time to consolidation.
type SelfState interface {
	SubjectiveTime() float64
}
