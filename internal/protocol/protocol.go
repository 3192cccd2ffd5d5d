// Package protocol defines the JSON frames exchanged over the WebSocket
// endpoint and the error codes surfaced to clients. The frame layout is a
// single flat object discriminated by "type"; optional fields are omitted
// when empty so acks and pongs stay small.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Client frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePublish     = "publish"
	FramePing        = "ping"
)

// Server frame types.
const (
	FrameAck   = "ack"
	FrameEvent = "event"
	FrameError = "error"
	FramePong  = "pong"
	FrameInfo  = "info"
)

// Info frame payloads for lifecycle notifications.
const (
	InfoTopicDeleted   = "topic_deleted"
	InfoServerShutdown = "server_shutdown"
)

// ErrorCode identifies a failure class in error frames.
type ErrorCode string

const (
	CodeBadRequest    ErrorCode = "BAD_REQUEST"
	CodeTopicNotFound ErrorCode = "TOPIC_NOT_FOUND"
	CodeSlowConsumer  ErrorCode = "SLOW_CONSUMER"
	CodeInternal      ErrorCode = "INTERNAL"
)

// TimeLayout is UTC ISO-8601 with millisecond precision and a trailing Z.
// Every outbound frame carries a ts in this layout.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Timestamp returns the current UTC time formatted for the wire.
func Timestamp() string {
	return time.Now().UTC().Format(TimeLayout)
}

// Message is a published message: a client-assigned UUID plus an opaque
// JSON payload. The broker never inspects the payload.
type Message struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Validate checks that the message carries a parseable UUID id.
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message.id is required")
	}
	if _, err := uuid.Parse(m.ID); err != nil {
		return fmt.Errorf("message.id must be a valid UUID: %w", err)
	}
	return nil
}

// ClientFrame is the inbound frame union. Which fields are required depends
// on Type; the server validates per operation and answers BAD_REQUEST for
// anything malformed.
type ClientFrame struct {
	Type      string   `json:"type"`
	Topic     string   `json:"topic,omitempty"`
	Message   *Message `json:"message,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	LastN     int      `json:"last_n,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// ErrorDetail is the error object carried by error frames.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ServerFrame is the outbound frame union.
type ServerFrame struct {
	Type      string       `json:"type"`
	RequestID string       `json:"request_id,omitempty"`
	Topic     string       `json:"topic,omitempty"`
	Message   *Message     `json:"message,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
	Status    string       `json:"status,omitempty"`
	Msg       string       `json:"msg,omitempty"`
	TS        string       `json:"ts"`
}

// NewAck builds an ack frame for a successful subscribe/unsubscribe/publish.
func NewAck(topic, requestID string) ServerFrame {
	return ServerFrame{
		Type:      FrameAck,
		RequestID: requestID,
		Topic:     topic,
		Status:    "ok",
		TS:        Timestamp(),
	}
}

// NewEvent builds a delivery frame. The ts is the published-at timestamp
// assigned inside the topic, not the emission time.
func NewEvent(topic string, msg Message, ts string) ServerFrame {
	m := msg
	return ServerFrame{
		Type:    FrameEvent,
		Topic:   topic,
		Message: &m,
		TS:      ts,
	}
}

// NewError builds an error frame carrying the client's request_id when one
// was supplied.
func NewError(code ErrorCode, message, requestID string) ServerFrame {
	return ServerFrame{
		Type:      FrameError,
		RequestID: requestID,
		Error:     &ErrorDetail{Code: code, Message: message},
		TS:        Timestamp(),
	}
}

// NewPong builds the response to a ping frame.
func NewPong(requestID string) ServerFrame {
	return ServerFrame{
		Type:      FramePong,
		RequestID: requestID,
		TS:        Timestamp(),
	}
}

// NewInfo builds a lifecycle notification (topic_deleted, server_shutdown).
func NewInfo(topic, msg string) ServerFrame {
	return ServerFrame{
		Type:  FrameInfo,
		Topic: topic,
		Msg:   msg,
		TS:    Timestamp(),
	}
}
