package api

import (
	"fmt"
	"net/http"
	"time"
)

// handleStream is the push channel: a Server-Sent Events stream carrying
// every broadcast to every connected viewer.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Flusher is needed to send data to the client as it becomes available.
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorJSON(w, newHTTPError(http.StatusInternalServerError, "streaming unsupported"))
		return
	}

	clientID, clientChan := s.broker.AddClient()
	defer s.broker.RemoveClient(clientID)

	// An initial comment tells the viewer the subscription is live, so it can
	// take its full fetch knowing no later broadcast will be missed.
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeatInterval())
	defer heartbeat.Stop()

	for {
		select {
		case message, open := <-clientChan:
			if !open {
				// The broker dropped us for lagging; the viewer will resync.
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", message)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) heartbeatInterval() time.Duration {
	if s.config.HeartbeatInterval > 0 {
		return s.config.HeartbeatInterval
	}
	return 15 * time.Second
}
