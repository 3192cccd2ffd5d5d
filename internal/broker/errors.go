package broker

import "errors"

// Broker errors surfaced to the transport layer, which maps them onto wire
// error codes.
var (
	ErrTopicExists         = errors.New("topic already exists")
	ErrTopicNotFound       = errors.New("topic not found")
	ErrDuplicateSubscriber = errors.New("client_id already subscribed to topic")
	ErrNotSubscribed       = errors.New("client not subscribed to topic")
	ErrSubscriberInactive  = errors.New("subscriber is inactive")
	ErrShuttingDown        = errors.New("server is shutting down")
)
