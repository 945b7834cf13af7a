package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/svarunid/voiceflow/livechannel"
	"github.com/svarunid/voiceflow/logger"
	"github.com/svarunid/voiceflow/metrics"
)

// handleAttachRun upgrades to WebSocket and streams the run's envelopes to
// the single observer. Already-produced envelopes are replayed first. A
// client disconnect only detaches the observer; the run is unaffected.
func (s *Server) handleAttachRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	ch, err := s.channels.Get(runID)
	if err != nil {
		writeError(w, err)
		return
	}

	stream, err := ch.Attach()
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its response; free the observer slot.
		ch.Detach(stream)
		return
	}
	defer conn.Close()

	metrics.ObserversAttached.Inc()
	defer metrics.ObserversAttached.Dec()
	logger.Debug("Observer attached", "run_id", runID, "remote", conn.RemoteAddr())

	// Reader goroutine: processes close frames and signals disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case env, ok := <-stream:
			if !ok {
				// Terminal envelope already delivered (or the channel
				// detached a slow observer); close the socket politely.
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(env); err != nil {
				logger.Debug("Observer write failed, detaching", "run_id", runID, "error", err)
				ch.Detach(stream)
				return
			}
			if env.Type == livechannel.EnvelopeEnd || env.Type == livechannel.EnvelopeError {
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			}
		case <-done:
			logger.Debug("Observer disconnected", "run_id", runID)
			ch.Detach(stream)
			return
		}
	}
}
