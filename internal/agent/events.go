package agent

import "github.com/soyeahso/bizagent/internal/llm"

// Stream event types.
const (
	EventToolExecution = "tool_execution"
	EventConfirmation  = "bizum_confirmation"
	EventResponseStart = "response_start"
	EventContent       = "content"
	EventComplete      = "complete"
	EventError         = "error"
)

// Event is one item of a streamed turn. Exactly one event per turn has
// IsComplete set, and it is either a complete or an error event.
type Event struct {
	Type       string `json:"type"`
	UserID     string `json:"userId"`
	IsComplete bool   `json:"isComplete"`

	// tool_execution, content
	Iteration int      `json:"iteration,omitempty"`
	Tools     []string `json:"tools,omitempty"`
	Content   string   `json:"content,omitempty"`

	// bizum_confirmation
	ConfirmationID string  `json:"confirmationId,omitempty"`
	Recipient      string  `json:"recipient,omitempty"`
	Amount         float64 `json:"amount,omitempty"`
	Concept        string  `json:"concept,omitempty"`

	// complete, error
	Response   string     `json:"response,omitempty"`
	Iterations int        `json:"iterations,omitempty"`
	ToolsUsed  []string   `json:"toolsUsed,omitempty"`
	Usage      *llm.Usage `json:"usage,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.IsComplete
}

// Collect drains events until the terminal event and returns it with
// everything received. ok is false when the channel closed first.
func Collect(events <-chan Event) (final Event, all []Event, ok bool) {
	for e := range events {
		all = append(all, e)
		if e.Terminal() {
			return e, all, true
		}
	}
	return Event{}, all, false
}
