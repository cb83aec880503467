// Package ws is the websocket signaling adapter: it upgrades connections,
// pumps frames and dispatches the message vocabulary to the app relay.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicegrid/internal/app"
	"github.com/dkeye/voicegrid/internal/domain"
)

type Controller struct {
	Relay      *app.Relay
	ReadLimit  int64
	SendBuffer int
	Limiter    *RateLimiter
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	log.Info().Str("module", "ws").Str("token", token).Msg("new WS connection")

	wsc, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		wsc.SetReadLimit(ctl.ReadLimit)
	}

	conn := newConn(wsc, ctl.SendBuffer, c.Query("device"))
	ctl.Relay.Register(ctx, token, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, token, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *Conn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "ws").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "ws").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, token string, c *Conn) {
	defer func() {
		log.Info().Str("module", "ws").Str("token", token).Msg("readPump closing")
		cancel()
		ctl.Relay.OnDisconnect(token)
		ctl.Limiter.Forget(token)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "ws").Str("token", token).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "ws").Str("token", token).Msg("readPump read error")
				return
			}
			ctl.handleSignal(ctx, token, c, data)
		}
	}
}

// envelope is the inbound frame. channelId/serverId/action/data are read
// per message type.
type envelope struct {
	Type      string          `json:"type"`
	ChannelID string          `json:"channelId,omitempty"`
	ServerID  string          `json:"serverId,omitempty"`
	Action    string          `json:"action,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (ctl *Controller) handleSignal(ctx context.Context, token string, c *Conn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad json")
		ctl.sendError(c, "", "malformed message")
		return
	}

	if !ctl.Limiter.Allow(token) {
		ctl.sendError(c, env.Type, "rate limited")
		return
	}

	channelID := domain.ChannelID(env.ChannelID)
	serverID := domain.ServerID(env.ServerID)

	switch env.Type {
	case "ping":
		if err := ctl.Relay.Ping(ctx, token); err != nil {
			ctl.sendError(c, env.Type, err.Error())
			return
		}
		ctl.sendJSON(c, map[string]string{"type": "pong"})
	case "joinRoom":
		if err := ctl.Relay.JoinRoom(ctx, token, c, channelID, c.device); err != nil {
			log.Error().Err(err).Str("module", "ws").Str("token", token).Str("channel", env.ChannelID).Msg("joinRoom")
			ctl.sendError(c, env.Type, err.Error())
			return
		}
		ctl.sendJSON(c, map[string]string{"type": "joinedRoom", "channelId": env.ChannelID})
	case "leaveRoom":
		if err := ctl.Relay.LeaveRoom(ctx, token, channelID); err != nil {
			log.Error().Err(err).Str("module", "ws").Str("token", token).Str("channel", env.ChannelID).Msg("leaveRoom")
			ctl.sendError(c, env.Type, err.Error())
			return
		}
		ctl.sendJSON(c, map[string]string{"type": "leftRoom", "channelId": env.ChannelID})
	case "media":
		res, err := ctl.Relay.Media(ctx, token, channelID, env.Action, env.Data)
		if err != nil {
			log.Error().Err(err).Str("module", "ws").Str("token", token).Str("action", env.Action).Msg("media")
			ctl.sendError(c, env.Type, err.Error())
			return
		}
		ctl.sendJSON(c, map[string]any{"type": "media", "action": env.Action, "data": res})
	case "mediaReconfigure":
		results, err := ctl.Relay.Reconfigure(ctx, token, channelID)
		if err != nil {
			log.Error().Err(err).Str("module", "ws").Str("token", token).Str("channel", env.ChannelID).Msg("mediaReconfigure")
			ctl.sendError(c, env.Type, err.Error())
			return
		}
		ctl.sendJSON(c, map[string]any{"type": "mediaReconfigured", "results": results})
	case "mediaRoomClients":
		info, err := ctl.Relay.RoomClients(ctx, channelID)
		if err != nil {
			ctl.sendError(c, env.Type, err.Error())
			return
		}
		ctl.sendJSON(c, map[string]any{"type": "mediaRoomClients", "data": info})
	case "mediaRoomInfo":
		stats, err := ctl.Relay.RoomInfo(ctx, channelID)
		if err != nil {
			ctl.sendError(c, env.Type, err.Error())
			return
		}
		ctl.sendJSON(c, map[string]any{"type": "mediaRoomInfo", "data": stats})
	case "workersInfo":
		ctl.sendJSON(c, map[string]any{"type": "workersInfo", "data": ctl.Relay.WorkersInfo()})
	case "subscribeServer":
		ctl.Relay.SubscribeServer(token, serverID)
		ctl.sendJSON(c, map[string]string{"type": "subscribedServer", "serverId": env.ServerID})
	case "watchServer":
		ctl.Relay.WatchServer(token, serverID)
		ctl.sendJSON(c, map[string]string{"type": "watchingServer", "serverId": env.ServerID})
	default:
		log.Warn().Str("module", "ws").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, env.Type, "unknown message type")
	}
}

func (ctl *Controller) sendJSON(c *Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c *Conn, reqType, msg string) {
	ctl.sendJSON(c, map[string]string{"type": "error", "request": reqType, "error": msg})
}
