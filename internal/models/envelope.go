package models

import "encoding/json"

// Message kinds sent by the push service.
const (
	KindServiceMessage      = "serviceMessage"
	KindServiceStateChanged = "serviceStateChanged"
	KindHeartbeat           = "heartbeat"
)

// Envelope is the outer frame of every push message.
type Envelope struct {
	Type    string          `json:"type"`
	Service string          `json:"service,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribeRequest asks the push service for events on the given worlds.
type SubscribeRequest struct {
	Service    string   `json:"service"`
	Action     string   `json:"action"`
	Worlds     []string `json:"worlds"`
	EventNames []string `json:"eventNames"`
}

// NewMetagameSubscription builds the subscribe request for metagame events on one world.
func NewMetagameSubscription(world string) SubscribeRequest {
	return SubscribeRequest{
		Service:    "event",
		Action:     "subscribe",
		Worlds:     []string{world},
		EventNames: []string{"MetagameEvent"},
	}
}
