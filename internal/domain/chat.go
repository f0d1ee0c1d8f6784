package domain

// ChatMessage is the provider-agnostic chat message shape used as history
// for generative knowledge-base answers.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
