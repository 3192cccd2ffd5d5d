package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/adred-codev/pubsub/internal/broker"
)

// createTopicRequest is the body of POST /topics.
type createTopicRequest struct {
	Name string `json:"name"`
}

// handleCreateTopic registers a new topic. 201 on success, 409 on duplicate,
// 503 during shutdown.
func (srv *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req createTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		srv.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		srv.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := srv.broker.CreateTopic(req.Name); err != nil {
		switch {
		case errors.Is(err, broker.ErrShuttingDown):
			srv.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		case errors.Is(err, broker.ErrTopicExists):
			srv.writeError(w, http.StatusConflict,
				fmt.Sprintf("topic '%s' already exists", req.Name))
		default:
			srv.writeError(w, http.StatusInternalServerError, "failed to create topic")
		}
		return
	}

	srv.writeJSON(w, http.StatusCreated, map[string]string{
		"status": "created",
		"topic":  req.Name,
	})
}

// handleDeleteTopic removes a topic and notifies its subscribers. 200 on
// success, 404 when the topic does not exist.
func (srv *Server) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := srv.broker.DeleteTopic(name); err != nil {
		srv.writeError(w, http.StatusNotFound,
			fmt.Sprintf("topic '%s' not found", name))
		return
	}

	srv.writeJSON(w, http.StatusOK, map[string]string{
		"status": "deleted",
		"topic":  name,
	})
}

// handleListTopics returns every topic with its live subscriber count.
func (srv *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics := srv.broker.List()
	if topics == nil {
		topics = []broker.TopicInfo{}
	}
	srv.writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

// handleHealth reports liveness plus coarse broker totals.
func (srv *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	srv.writeJSON(w, http.StatusOK, map[string]any{
		"uptime_sec":  int64(srv.broker.Uptime().Seconds()),
		"topics":      srv.broker.TopicCount(),
		"subscribers": srv.broker.TotalSubscribers(),
	})
}

// handleStats returns per-topic message and subscriber counts.
func (srv *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	srv.writeJSON(w, http.StatusOK, map[string]any{"topics": srv.broker.Stats()})
}

func (srv *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		srv.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (srv *Server) writeError(w http.ResponseWriter, status int, detail string) {
	srv.writeJSON(w, status, map[string]string{"detail": detail})
}
