package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vaultmind/vaultmind/internal/events"
	"github.com/vaultmind/vaultmind/internal/models"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleCollectionWS handles GET /api/collections/{name}/ws — a live stream
// of one collection's events.
func (s *Server) handleCollectionWS(w http.ResponseWriter, r *http.Request, name string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	if _, err := s.app.Registry.Get(r.Context(), name); err != nil {
		WriteServiceError(w, err)
		return
	}

	s.serveWS(w, r, models.TopicCollection(name))
}

// handleGlobalWS handles GET /api/events/ws — every event in the system.
func (s *Server) handleGlobalWS(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	s.serveWS(w, r, models.TopicGlobal)
}

// serveWS upgrades the connection, attaches a bus subscriber, and runs the
// read and write pumps until either side goes away.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, topics ...string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sub := s.app.Bus.Subscribe(topics...)
	s.app.Bus.Send(sub, models.Event{
		Type: models.EventConnectionEstablished,
		Data: map[string]interface{}{"topics": topics},
	})

	go s.readPump(conn, sub)
	s.writePump(conn, sub)
}

// writePump forwards bus events to the socket and keeps the connection
// alive with control pings. Runs until the subscriber is disconnected.
func (s *Server) writePump(conn *websocket.Conn, sub *events.Subscriber) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				// bus disconnected us: overflow or shutdown
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, sub.CloseReason()))
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client commands until the socket closes, then detaches
// the subscriber.
func (s *Server) readPump(conn *websocket.Conn, sub *events.Subscriber) {
	defer func() {
		s.app.Bus.Unsubscribe(sub)
		conn.Close()
	}()

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		var cmd models.ClientCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.handleClientCommand(sub, cmd)
	}
}

// handleClientCommand executes one WebSocket command and replies with a
// command_result event delivered to this subscriber only.
func (s *Server) handleClientCommand(sub *events.Subscriber, cmd models.ClientCommand) {
	ctx := context.Background()
	reply := func(data map[string]interface{}) {
		data["action"] = cmd.Action
		s.app.Bus.Send(sub, models.Event{Type: models.EventCommandResult, Data: data})
	}

	switch cmd.Action {
	case models.ActionPing:
		reply(map[string]interface{}{"pong": true})

	case models.ActionSubscribe:
		if cmd.Channel == "" {
			reply(map[string]interface{}{"error": "channel is required"})
			return
		}
		s.app.Bus.AddTopic(sub, cmd.Channel)
		reply(map[string]interface{}{"subscribed": cmd.Channel})

	case models.ActionUnsubscribe:
		if cmd.Channel == "" {
			reply(map[string]interface{}{"error": "channel is required"})
			return
		}
		s.app.Bus.RemoveTopic(sub, cmd.Channel)
		reply(map[string]interface{}{"unsubscribed": cmd.Channel})

	case models.ActionGetStatus:
		if cmd.JobID == "" {
			reply(map[string]interface{}{"error": "job_id is required"})
			return
		}
		job, err := s.app.Jobs.Get(ctx, cmd.JobID)
		if err != nil {
			reply(map[string]interface{}{"error": err.Error()})
			return
		}
		reply(map[string]interface{}{"job": job})

	case models.ActionPause:
		ok, err := s.app.Jobs.Pause(ctx, cmd.JobID)
		replyBool(reply, "paused", ok, err)

	case models.ActionResume:
		ok, err := s.app.Jobs.Resume(ctx, cmd.JobID)
		replyBool(reply, "resumed", ok, err)

	case models.ActionCancel:
		ok, err := s.app.Jobs.Cancel(ctx, cmd.JobID)
		replyBool(reply, "cancelled", ok, err)

	default:
		reply(map[string]interface{}{"error": "unknown action '" + cmd.Action + "'"})
	}
}

func replyBool(reply func(map[string]interface{}), key string, ok bool, err error) {
	if err != nil {
		reply(map[string]interface{}{"error": err.Error()})
		return
	}
	reply(map[string]interface{}{key: ok})
}
