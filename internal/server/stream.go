package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/pipeline"
)

// GET /ws/research
//
// The client sends one request {query, mode, target_sources}. The server
// answers with session_created, then the session's events in order, and
// closes the socket after report or error. Only the writer goroutine
// writes data frames.
func (s *Server) handleResearchStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var req researchRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.rejectStream(conn, "Invalid request")
		return
	}
	if req.Query == "" {
		s.rejectStream(conn, "Query is required")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := s.newSession(req.Query, req.Mode, req.TargetSources)
	logger := s.logger.With(zap.String("session_id", sess.ID))
	logger.Info("websocket research started", zap.String("query", sess.Query))

	events := make(chan model.Event, eventBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		writeEvents(conn, events, cancel, logger)
	}()
	go watchClose(conn, cancel)

	emit := pipeline.NewChannelEmitter(events)
	if err := emit.Emit(ctx, model.SessionCreatedEvent(sess)); err == nil {
		sess = s.runner.Run(ctx, sess, emit)
	}
	close(events)
	<-done

	closeStream(conn, websocket.CloseNormalClosure, "")
	logger.Info("websocket research finished",
		zap.String("status", sess.Status),
		zap.String("phase", string(sess.Phase)))
}

// writeEvents drains events onto the socket. After a write failure the
// session is cancelled and the remaining events are discarded so the
// pipeline never blocks on a dead client.
func writeEvents(conn *websocket.Conn, events <-chan model.Event, cancel context.CancelFunc, logger *zap.Logger) {
	failed := false
	for e := range events {
		if failed {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(e); err != nil {
			logger.Info("websocket client gone", zap.Error(err))
			failed = true
			cancel()
		}
	}
}

// watchClose reads until the connection fails so close frames from the
// client are processed and a disconnect cancels the session
func watchClose(conn *websocket.Conn, cancel context.CancelFunc) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			cancel()
			return
		}
	}
}

func (s *Server) rejectStream(conn *websocket.Conn, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(model.ErrorEvent("", message, "")); err != nil {
		s.logger.Debug("websocket reject failed", zap.Error(err))
	}
	closeStream(conn, websocket.ClosePolicyViolation, message)
}

func closeStream(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
