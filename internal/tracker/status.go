// ABOUTME: Agent status enum and the event-type -> status classification
// ABOUTME: Pure functions with no tracker state involved

package tracker

import "encoding/json"

// Status is the derived liveness/activity state of an agent.
type Status string

const (
	StatusWorking       Status = "WORKING"
	StatusThinking      Status = "THINKING"
	StatusReading       Status = "READING"
	StatusWaiting       Status = "WAITING"
	StatusDone          Status = "DONE"
	StatusError         Status = "ERROR"
	StatusBlocked       Status = "BLOCKED"
	StatusOffline       Status = "OFFLINE"
	StatusOrchestrating Status = "ORCHESTRATING"
)

// Hook event types emitted by agent sessions. The set is open on the wire;
// unrecognized types classify as WAITING.
const (
	EventUserPromptSubmit   = "UserPromptSubmit"
	EventSessionStart       = "SessionStart"
	EventSessionEnd         = "SessionEnd"
	EventPreToolUse         = "PreToolUse"
	EventPostToolUse        = "PostToolUse"
	EventPostToolUseFailure = "PostToolUseFailure"
	EventPermissionRequest  = "PermissionRequest"
	EventNotification       = "Notification"
	EventStop               = "Stop"
	EventSubagentStart      = "SubagentStart"
	EventSubagentStop       = "SubagentStop"
	EventPreCompact         = "PreCompact"
)

// readingTools are tool names whose PreToolUse classifies as READING
// rather than WORKING.
var readingTools = map[string]bool{
	"Read":       true,
	"Grep":       true,
	"Glob":       true,
	"WebSearch":  true,
	"WebFetch":   true,
	"ToolSearch": true,
}

// sessionInitiating marks the event types that open a primary agent
// lifeline. A lifeline whose first event is anything else is a subagent.
var sessionInitiating = map[string]bool{
	EventUserPromptSubmit: true,
	EventSessionStart:     true,
}

// payloadFields are the few payload keys the state machine looks at.
// Everything else in the payload passes through untouched.
type payloadFields struct {
	ToolName         string `json:"tool_name"`
	NotificationType string `json:"notification_type"`
	Description      string `json:"description"`
}

func parsePayload(payload json.RawMessage) payloadFields {
	var fields payloadFields
	if len(payload) > 0 {
		// Malformed payloads classify as if empty
		_ = json.Unmarshal(payload, &fields)
	}
	return fields
}

// Classify maps an event type (with payload refinements) to a status.
//
// PreToolUse with a reading tool is READING; Notification is WAITING unless
// the payload marks a non-idle notification type, then BLOCKED; anything
// unrecognized is WAITING.
func Classify(eventType string, payload json.RawMessage) Status {
	fields := parsePayload(payload)

	switch eventType {
	case EventPreToolUse:
		if readingTools[fields.ToolName] {
			return StatusReading
		}
		return StatusWorking
	case EventPostToolUse:
		return StatusWorking
	case EventUserPromptSubmit:
		return StatusThinking
	case EventStop:
		return StatusDone
	case EventPostToolUseFailure:
		return StatusError
	case EventPermissionRequest:
		return StatusBlocked
	case EventNotification:
		if fields.NotificationType == "" || fields.NotificationType == "idle_prompt" {
			return StatusWaiting
		}
		return StatusBlocked
	case EventSessionEnd:
		return StatusOffline
	case EventSubagentStart:
		return StatusOrchestrating
	default:
		return StatusWaiting
	}
}
