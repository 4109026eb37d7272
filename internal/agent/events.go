package agent

import (
	"encoding/json"
)

// Stage discriminates the event types of the streamed response protocol.
type Stage string

const (
	StageMetadata   Stage = "metadata"
	StageThinking   Stage = "thinking"
	StageContent    Stage = "content"
	StageToolResult Stage = "tool_result"
	StageToolError  Stage = "tool_error"
	StageFinalize   Stage = "finalize_answer"
	StageError      Stage = "error"
)

// Event is one unit of the streamed response protocol. Events are the only
// channel between the engine and its caller; serialized as one JSON object
// per line with a mandatory "stage" discriminator.
type Event struct {
	Stage          Stage           `json:"stage"`
	ConversationID int64           `json:"conversation_id,omitempty"`
	Response       string          `json:"response,omitempty"`
	Tool           string          `json:"tool,omitempty"`
	Args           json.RawMessage `json:"args,omitempty"`
	Result         string          `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
}

func MetadataEvent(conversationID int64) Event {
	return Event{Stage: StageMetadata, ConversationID: conversationID}
}

func ThinkingEvent(text string) Event {
	return Event{Stage: StageThinking, Response: text}
}

func ContentEvent(text string) Event {
	return Event{Stage: StageContent, Response: text}
}

func ToolResultEvent(tool string, args json.RawMessage, result string) Event {
	return Event{Stage: StageToolResult, Tool: tool, Args: args, Result: result}
}

func ToolErrorEvent(tool, message string) Event {
	return Event{Stage: StageToolError, Tool: tool, Error: message}
}

func FinalizeEvent() Event {
	return Event{Stage: StageFinalize}
}

func ErrorEvent(message string) Event {
	return Event{Stage: StageError, Response: message}
}
