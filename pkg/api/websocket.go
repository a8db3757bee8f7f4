package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/memeperp/engine/internal/broadcast"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by rs/cors on the REST surface; the
		// WS upgrade itself accepts any origin.
		return true
	},
}

const (
	pongWait  = broadcast.HeartbeatInterval * (broadcast.HeartbeatMisses + 1)
	writeWait = 10 * time.Second
)

// channelTopic maps a spec.md §6 channel name + token (market symbol or
// trader address, depending on the channel) to the broadcast.Hub topic it
// actually corresponds to.
func channelTopic(channel, token string) (string, bool) {
	switch channel {
	case "orderbook", "trade", "kline", "liquidation", "halt", "risk":
		if token == "" {
			return "", false
		}
		return "market:" + token + ":" + channel, true
	case "balance", "positions", "orders":
		if token == "" {
			return "", false
		}
		return "trader:" + token + ":" + channel, true
	default:
		return "", false
	}
}

// handleWebSocket upgrades the connection, registers a broadcast.Client,
// and starts its read/write pumps (spec.md §4.J's realtime channel).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	id := conn.RemoteAddr().String()
	client := broadcast.NewClient(id, s.hub)
	s.hub.Register(client)

	go s.writePump(conn, client)
	s.readPump(conn, client)
}

// readPump drains subscribe/unsubscribe control messages and pong frames
// until the connection closes, then unregisters the client.
func (s *Server) readPump(conn *websocket.Conn, client *broadcast.Client) {
	defer func() {
		s.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		client.ResetHeartbeat()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req SubscribeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}

		topic, ok := channelTopic(req.Channel, req.Token)
		if !ok {
			continue
		}
		switch req.Type {
		case "subscribe":
			s.hub.Subscribe(client, topic)
		case "unsubscribe":
			s.hub.Unsubscribe(client, topic)
		}
	}
}

// writePump drains the client's send queue to the socket and drives the
// 15s heartbeat ping (spec.md §4.J: "missing two heartbeats closes the
// connection server-side").
func (s *Server) writePump(conn *websocket.Conn, client *broadcast.Client) {
	ticker := time.NewTicker(broadcast.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	var hbSeq uint64

	for {
		select {
		case msg, ok := <-client.Send():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				if reason, closed := client.CloseReason(); closed {
					s.logger.Info("ws client closed", zap.String("reason", reason))
				}
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			hbSeq++
			if err := conn.WriteMessage(websocket.TextMessage, broadcast.HeartbeatMessage(hbSeq)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if client.RecordHeartbeatMiss() {
				s.hub.Disconnect(client, "heartbeat_timeout")
				return
			}
		}
	}
}
