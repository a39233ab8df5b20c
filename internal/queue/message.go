// Package queue carries resource calls over a message broker: request
// messages are published to a routing key and the caller blocks until a
// reply with a matching correlation id arrives or its timeout expires.
package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// MessageType distinguishes requests from replies.
type MessageType string

const (
	TypeRequest  MessageType = "request"
	TypeResponse MessageType = "response"
)

// Header keys specific to queue transport. Session, interaction, language
// and property headers use the same names as over HTTP.
const (
	HeaderMethod = "X-Method"
	HeaderPath   = "X-Path"
	HeaderQuery  = "X-Query"
	HeaderStatus = "X-Status-Code"
)

// Message is one request or reply on the wire.
type Message struct {
	ID            string            `json:"message_id"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	RoutingKey    string            `json:"routing_key"`
	ReplyTo       string            `json:"reply_to,omitempty"`
	Type          MessageType       `json:"type"`
	Headers       map[string]string `json:"headers,omitempty"`
	Body          []byte            `json:"body,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// NewRequest builds a request addressed to routingKey with a fresh id.
func NewRequest(routingKey string) Message {
	return Message{
		ID:         uuid.NewString(),
		RoutingKey: routingKey,
		Type:       TypeRequest,
		Headers:    make(map[string]string),
		Timestamp:  time.Now().UTC(),
	}
}

// Reply builds the response to m, routed to m.ReplyTo and correlated by
// m.ID.
func (m Message) Reply(status int, body []byte) Message {
	return Message{
		ID:            uuid.NewString(),
		CorrelationID: m.ID,
		RoutingKey:    m.ReplyTo,
		Type:          TypeResponse,
		Headers:       map[string]string{HeaderStatus: strconv.Itoa(status)},
		Body:          body,
		Timestamp:     time.Now().UTC(),
	}
}

// Status returns the reply status code, or 0 when absent or malformed.
func (m Message) Status() int {
	n, err := strconv.Atoi(m.Headers[HeaderStatus])
	if err != nil {
		return 0
	}
	return n
}

// Header returns a header value; it is usable as a lookup function.
func (m Message) Header(key string) string {
	return m.Headers[key]
}

// Encode serialises the message for the broker.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses a message produced by Encode.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}
