package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/adred-codev/pubsub/internal/broker"
	"github.com/adred-codev/pubsub/internal/monitoring"
	"github.com/adred-codev/pubsub/internal/protocol"
)

// handleFrame parses one inbound frame and routes it by type. Malformed JSON
// and unknown types answer with BAD_REQUEST; the connection stays open.
func (s *Session) handleFrame(data []byte) {
	var frame protocol.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.sendError(protocol.CodeBadRequest, "invalid message format", "")
		return
	}

	switch frame.Type {
	case protocol.FrameSubscribe:
		s.handleSubscribe(frame)
	case protocol.FrameUnsubscribe:
		s.handleUnsubscribe(frame)
	case protocol.FramePublish:
		s.handlePublish(frame)
	case protocol.FramePing:
		s.sendFrame(protocol.NewPong(frame.RequestID))
	default:
		s.sendError(protocol.CodeBadRequest,
			fmt.Sprintf("unknown message type: %s", frame.Type), frame.RequestID)
	}
}

// handleSubscribe attaches the frame's client_id to a topic, acks, replays
// the requested history as event frames and starts the delivery pump. The
// replay goes out before the pump starts, so replayed events are a strict
// prefix of the live stream.
func (s *Session) handleSubscribe(frame protocol.ClientFrame) {
	if frame.Topic == "" {
		s.sendError(protocol.CodeBadRequest, "topic is required", frame.RequestID)
		return
	}
	if frame.ClientID == "" {
		s.sendError(protocol.CodeBadRequest, "client_id is required", frame.RequestID)
		return
	}
	lastN := frame.LastN
	if lastN < 0 {
		lastN = 0
	}

	history, sub, err := s.server.broker.Subscribe(frame.Topic, frame.ClientID, s, lastN)
	if err != nil {
		switch {
		case errors.Is(err, broker.ErrShuttingDown):
			s.sendError(protocol.CodeInternal, "server is shutting down", frame.RequestID)
		case errors.Is(err, broker.ErrTopicNotFound):
			s.sendError(protocol.CodeTopicNotFound,
				fmt.Sprintf("topic '%s' not found", frame.Topic), frame.RequestID)
		case errors.Is(err, broker.ErrDuplicateSubscriber):
			s.sendError(protocol.CodeBadRequest,
				fmt.Sprintf("client_id '%s' already subscribed to topic '%s'", frame.ClientID, frame.Topic),
				frame.RequestID)
		default:
			s.sendError(protocol.CodeInternal, "subscribe failed", frame.RequestID)
		}
		return
	}

	s.sendFrame(protocol.NewAck(frame.Topic, frame.RequestID))

	// Track before the replay so teardown can release the subscriber even
	// when the peer vanishes mid-replay.
	ctx, cancel := context.WithCancel(s.server.ctx)
	s.trackSubscription(subKey{topic: frame.Topic, clientID: frame.ClientID}, &subscription{sub: sub, cancel: cancel})

	for _, entry := range history {
		if err := s.SendFrame(protocol.NewEvent(frame.Topic, entry.Message, entry.TS)); err != nil {
			s.logger.Debug().Err(err).Msg("History replay aborted")
			return
		}
		monitoring.EventsDelivered.Inc()
	}

	s.server.wg.Add(1)
	go s.runPump(ctx, sub)

	s.logger.Info().
		Str("topic", frame.Topic).
		Str("client_id", frame.ClientID).
		Int("replayed", len(history)).
		Msg("Client subscribed")
}

// handleUnsubscribe detaches the frame's client_id from a topic. Both a
// missing topic and a never-subscribed client answer TOPIC_NOT_FOUND; the
// caller cannot distinguish them and does not need to.
func (s *Session) handleUnsubscribe(frame protocol.ClientFrame) {
	if frame.Topic == "" {
		s.sendError(protocol.CodeBadRequest, "topic is required", frame.RequestID)
		return
	}
	if frame.ClientID == "" {
		s.sendError(protocol.CodeBadRequest, "client_id is required", frame.RequestID)
		return
	}

	if err := s.server.broker.Unsubscribe(frame.Topic, frame.ClientID); err != nil {
		s.sendError(protocol.CodeTopicNotFound,
			"topic not found or client not subscribed", frame.RequestID)
		return
	}

	s.forgetSubscription(subKey{topic: frame.Topic, clientID: frame.ClientID})
	s.sendFrame(protocol.NewAck(frame.Topic, frame.RequestID))
	s.logger.Info().
		Str("topic", frame.Topic).
		Str("client_id", frame.ClientID).
		Msg("Client unsubscribed")
}

// handlePublish validates the message and fans it out to the topic.
func (s *Session) handlePublish(frame protocol.ClientFrame) {
	if frame.Topic == "" {
		s.sendError(protocol.CodeBadRequest, "topic is required", frame.RequestID)
		return
	}
	if frame.Message == nil {
		s.sendError(protocol.CodeBadRequest, "message is required", frame.RequestID)
		return
	}
	if err := frame.Message.Validate(); err != nil {
		s.sendError(protocol.CodeBadRequest, err.Error(), frame.RequestID)
		return
	}

	if _, err := s.server.broker.Publish(frame.Topic, *frame.Message); err != nil {
		switch {
		case errors.Is(err, broker.ErrShuttingDown):
			s.sendError(protocol.CodeInternal, "server is shutting down", frame.RequestID)
		case errors.Is(err, broker.ErrTopicNotFound):
			s.sendError(protocol.CodeTopicNotFound,
				fmt.Sprintf("topic '%s' not found", frame.Topic), frame.RequestID)
		default:
			s.sendError(protocol.CodeInternal, "publish failed", frame.RequestID)
		}
		return
	}

	s.sendFrame(protocol.NewAck(frame.Topic, frame.RequestID))
}

// sendFrame pushes a frame toward the peer, logging a failure instead of
// surfacing it; by the time SendFrame fails the session is already closing.
func (s *Session) sendFrame(frame protocol.ServerFrame) {
	if err := s.SendFrame(frame); err != nil {
		s.logger.Debug().Err(err).Str("frame_type", frame.Type).Msg("Failed to send frame")
	}
}

func (s *Session) sendError(code protocol.ErrorCode, message, requestID string) {
	monitoring.ErrorFrames.WithLabelValues(string(code)).Inc()
	s.sendFrame(protocol.NewError(code, message, requestID))
}
