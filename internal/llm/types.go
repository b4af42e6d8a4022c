package llm

// Role is who a chat message is from.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn. Extraction sends a system prompt plus the
// capture text; summarization sends a single user turn.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest is one call to an inference backend. An empty Model
// means the provider's configured model. JSONMode asks the backend to
// constrain output to a JSON object.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	JSONMode    bool
}

// CompletionResponse is the backend's answer with token accounting, which
// is logged at debug level by the gateway.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
	FinishReason string
}
