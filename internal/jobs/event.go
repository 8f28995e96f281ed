package jobs

import "time"

// EventType names a lifecycle transition worth announcing downstream.
type EventType string

const (
	EventCompleted EventType = "job.completed"
	EventHandoff   EventType = "job.handoff"
	EventReleased  EventType = "job.released"
	EventReopened  EventType = "job.reopened"
	EventMarkDone  EventType = "job.markdone"
)

// Event is the JSON payload published for a lifecycle transition.
type Event struct {
	Type       EventType   `json:"type"`
	JobNumbers []int64     `json:"job_numbers"`
	Class      WorkerClass `json:"class,omitempty"`
	Nickname   string      `json:"nickname,omitempty"`
	Pairs      int64       `json:"pairs,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	At         time.Time   `json:"at"`
}
