package model

import (
	"strings"
	"time"
)

// ListOptions bounds one page fetched from a channel.
type ListOptions struct {
	MaxResults int64
	PageToken  string
	Query      string
}

type MessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
}

type MessageList struct {
	Refs          []MessageRef `json:"refs"`
	NextPageToken string       `json:"next_page_token"`
}

// RawMessage is the provider payload before normalization. It is persisted
// as the message raw payload so reply threading headers can be derived later.
type RawMessage struct {
	ID         string            `json:"id"`
	ThreadID   string            `json:"thread_id"`
	LabelIDs   []string          `json:"label_ids,omitempty"`
	Headers    map[string]string `json:"headers"`
	TextBody   string            `json:"text_body,omitempty"`
	HTMLBody   string            `json:"html_body,omitempty"`
	Snippet    string            `json:"snippet,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Header performs a case-insensitive header lookup.
func (r *RawMessage) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// SendReplyRequest carries everything a provider needs to thread a reply.
type SendReplyRequest struct {
	ConnectionID      string   `json:"connection_id"`
	OriginalMessageID string   `json:"original_message_id"`
	ThreadID          string   `json:"thread_id"`
	From              string   `json:"from"`
	To                []string `json:"to"`
	Subject           string   `json:"subject"`
	Body              string   `json:"body"`
	InReplyTo         string   `json:"in_reply_to"`
	References        string   `json:"references"`
}

type SendReplyResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}
