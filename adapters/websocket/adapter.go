// Package websocket bridges gorilla/websocket connections onto game hubs:
// one JSON message per logical event, a write pump draining the member's
// queue, and a read pump feeding mutations through the hub.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"vttkit/core"
	"vttkit/realtime"
	"vttkit/session"
)

const (
	writeWait = 5 * time.Second
	// pongWait is the connection idle timeout; pings keep healthy
	// connections alive under it.
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second

	// replyBuffer holds per-connection frames (rejection notices) that
	// bypass the hub. Overflow drops the reply rather than the member.
	replyBuffer = 16
)

// errorReply is sent only to the originator of a rejected mutation.
type errorReply struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Handler returns an http.Handler that upgrades to WebSocket and attaches
// the connection to a game hub. Owner, slug, player name, and color come
// from query parameters.
func Handler(svc *session.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		Attach(svc, logger, w, r,
			core.OwnerID(q.Get("owner")), core.Slug(q.Get("slug")),
			q.Get("name"), q.Get("color"))
	})
}

// Attach upgrades the request and runs the connection until it closes.
// The connection is CONNECTING until the join resolves a live or lazily
// materialized game; from then on it is an attached hub member.
func Attach(svc *session.Service, logger *slog.Logger, w http.ResponseWriter, r *http.Request, owner core.OwnerID, slug core.Slug, player, color string) {
	if logger == nil {
		logger = slog.Default()
	}
	upgrader := gorillaws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if player == "" {
		player = "anonymous"
	}

	entry, member, err := svc.Join(r.Context(), owner, slug, player, color)
	if err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(gorillaws.CloseMessage,
			gorillaws.FormatCloseMessage(gorillaws.ClosePolicyViolation, "no such game"))
		return
	}
	defer svc.Leave(r.Context(), entry, member)

	replies := make(chan []byte, replyBuffer)
	go writePump(conn, member, replies, logger)
	readPump(r.Context(), conn, entry, member, replies, logger)
}

// writePump is the sole writer on the connection. It interleaves hub
// events, direct replies, and keepalive pings; any write failure closes
// the connection, which unblocks the read side.
func writePump(conn *gorillaws.Conn, member *realtime.Member, replies <-chan []byte, logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	write := func(messageType int, data []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(messageType, data)
	}
	for {
		select {
		case ev := <-member.Events():
			if err := write(gorillaws.TextMessage, realtime.MarshalJSON(ev)); err != nil {
				logger.Warn("websocket write failed", "player", member.Player, "error", err)
				_ = conn.Close()
				return
			}
		case msg := <-replies:
			if err := write(gorillaws.TextMessage, msg); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := write(gorillaws.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-member.Done():
			_ = write(gorillaws.CloseMessage,
				gorillaws.FormatCloseMessage(gorillaws.CloseGoingAway, ""))
			_ = conn.Close()
			return
		}
	}
}

// readPump decodes inbound events and routes mutations through the hub.
// Returning unwinds into Leave, so hub bookkeeping stays consistent no
// matter how the connection dies.
func readPump(ctx context.Context, conn *gorillaws.Conn, entry *session.Entry, member *realtime.Member, replies chan<- []byte, logger *slog.Logger) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !gorillaws.IsCloseError(err, gorillaws.CloseNormalClosure, gorillaws.CloseGoingAway) {
				logger.Debug("websocket read ended", "player", member.Player, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var ev core.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			replyError(replies, "invalid event json")
			continue
		}
		if !ev.Type.Mutation() {
			continue
		}
		if _, err := entry.Hub.Mutate(ctx, member, ev); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				replyError(replies, err.Error())
				continue
			}
			logger.Warn("mutation failed", "player", member.Player, "error", err)
			replyError(replies, "mutation failed")
		}
	}
}

func replyError(replies chan<- []byte, msg string) {
	b, _ := json.Marshal(errorReply{Type: "error", Error: msg})
	select {
	case replies <- b:
	default:
	}
}
