package model

// Classification is the raw output of the classification capability.
// ConfidenceScore is nil when the model did not return one.
type Classification struct {
	Category        string   `json:"category"`
	Priority        string   `json:"priority"`
	Sentiment       string   `json:"sentiment"`
	Actionability   string   `json:"actionability"`
	ConfidenceScore *float64 `json:"confidence_score"`
	Summary         string   `json:"summary"`
	KeyPoints       []string `json:"key_points"`
	Usage           Usage    `json:"usage"`
}

// GeneratedDraft is the raw output of the drafting capability.
type GeneratedDraft struct {
	Body            string   `json:"body"`
	ConfidenceScore *float64 `json:"confidence_score"`
	IsAutoSendable  bool     `json:"is_auto_sendable"`
	Usage           Usage    `json:"usage"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// DraftContext is what the drafting capability receives about a message.
type DraftContext struct {
	Subject     string
	SenderName  string
	SenderEmail string
	Body        string
	Thread      []ThreadEntry
	MaxLength   int
}

type ThreadEntry struct {
	From string
	Body string
}
