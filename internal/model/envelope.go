package model

import (
	"encoding/json"
	"time"
)

// Envelope is a raw webhook body as published to Kafka by the HTTP ingress.
type Envelope struct {
	Provider   string          `json:"provider"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// InboundReply is a provider-neutral view of one reply found in a webhook body.
type InboundReply struct {
	EventID   string
	Provider  string
	From      string // address the reply came from
	ActorName string
	ReplyID   string // button reply id, empty for free text
	Text      string
}
