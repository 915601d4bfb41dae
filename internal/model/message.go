package model

// Role identifies the author of a conversation message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation log
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System returns a system message with the given content
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User returns a user message with the given content
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant returns an assistant message with the given content
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
