package constants

import "time"

// Event types and sources produced by the scheduler.
const (
	EventTypeJobFired = "scheduler.job.fired"
	SourceScheduler   = "scheduler"
)

// Scheduler defaults.
const (
	DefaultCleanupInterval   = 24 * time.Hour
	DefaultExecutedRetention = 24 * time.Hour
	DefaultPublishAttempts   = 3
	DefaultPublishBackoff    = 500 * time.Millisecond
	DefaultPublishMaxBackoff = 5 * time.Second
)

// Validator actions and payload keys understood by the relay handlers.
const (
	ActionSendMessage = "send_message"
	PayloadKeyTo      = "to"
	PayloadKeyActorID = "actor_id"
	PayloadKeyText    = "text"
)
