package models

import "time"

// Event type constants for the event bus.
const (
	EventConnectionEstablished = "connection_established"
	EventProgressUpdate        = "progress_update"
	EventStatusChange          = "status_change"
	EventError                 = "error"
	EventHeartbeat             = "heartbeat"
	EventCommandResult         = "command_result"
)

// Topic name helpers.
const TopicGlobal = "events"

// TopicCollection returns the topic carrying all events for one collection.
func TopicCollection(name string) string {
	return "collection:" + name
}

// TopicJob returns the topic carrying events for one job.
func TopicJob(id string) string {
	return "job:" + id
}

// Event is a message published on the event bus and delivered to
// subscribers over WebSocket.
type Event struct {
	Type       string                 `json:"type"`
	Collection string                 `json:"collection,omitempty"`
	JobID      string                 `json:"job_id,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Client command actions accepted on a WebSocket subscription.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
	ActionGetStatus   = "get_status"
	ActionPause       = "pause"
	ActionResume      = "resume"
	ActionCancel      = "cancel"
)

// ClientCommand is a message sent by a WebSocket client.
type ClientCommand struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
	JobID   string `json:"job_id,omitempty"`
}
