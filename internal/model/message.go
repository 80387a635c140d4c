package model

import "time"

type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

func (s MessageStatus) String() string {
	return string(s)
}

func (s MessageStatus) Valid() bool {
	return s == StatusPending || s == StatusSent || s == StatusFailed
}

type MessageKind string

const (
	KindText        MessageKind = "text"
	KindTemplate    MessageKind = "template"
	KindInteractive MessageKind = "interactive"
)

func (k MessageKind) String() string { return string(k) }

// Message is one send attempt, persisted in the messages table.
// A fallback attempt is its own row.
type Message struct {
	ID                string        `db:"id"                  json:"id"`
	WorkflowID        *string       `db:"workflow_id"         json:"workflow_id,omitempty"`
	Provider          string        `db:"provider"            json:"provider"`
	ProviderMessageID *string       `db:"provider_message_id" json:"provider_message_id,omitempty"`
	Recipient         string        `db:"recipient"           json:"recipient"`
	Kind              MessageKind   `db:"kind"                json:"kind"`
	Content           string        `db:"content"             json:"content"`
	Status            MessageStatus `db:"status"              json:"status"`
	Error             *string       `db:"error"               json:"error,omitempty"`
	SentAt            *time.Time    `db:"sent_at"             json:"sent_at,omitempty"`
	CreatedAt         time.Time     `db:"created_at"          json:"created_at"`
}

// Button is one reply option of an interactive message.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Interactive is a titled message with reply buttons.
type Interactive struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Buttons []Button `json:"buttons"`
}
