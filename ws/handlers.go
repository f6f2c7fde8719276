package ws

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"lowcard/config"
	"lowcard/internal/broadcast"
	"lowcard/internal/router"
)

// Broadcaster is the subset of internal/broadcast.Broadcaster the
// command bridge emits replies through.
type Broadcaster interface {
	To(roomID, event string, payload any)
}

// Enqueuer is the subset of internal/serializer.Serializer the bridge
// uses to keep one room's commands processing strictly in order.
type Enqueuer interface {
	Enqueue(roomID string, item any)
}

// CommandPublisher is the subset of the Keyed Store pub/sub a
// websocket-received command is published through, so every replica's
// Per-Room Serializer (including this one's) picks it up the same way
// regardless of which instance terminated the socket (spec §4.5).
type CommandPublisher interface {
	Publish(ctx context.Context, channel, payload string) error
}

// RoutedCommand is one command queued through the Per-Room Serializer;
// it carries the originating client so a private reply can be written
// back directly instead of broadcast to the whole room.
type RoutedCommand struct {
	Cmd    router.Command
	Client *Client
}

// NewRoutedCommandProcessor builds the function passed to
// internal/serializer.New: it runs one queued command through the
// Command Router and turns the result into either a private reply or
// a room-wide chat broadcast, per the Result shape's IsPvt/Silent
// flags (spec §7, §9).
func NewRoutedCommandProcessor(rt *router.Router, bcast Broadcaster) func(ctx context.Context, item any) {
	return func(ctx context.Context, item any) {
		rc, ok := item.(RoutedCommand)
		if !ok {
			return
		}

		res := rt.Dispatch(ctx, rc.Cmd)
		if res == nil || res.Silent {
			return
		}
		if res.IsPvt {
			// Only the replica that actually holds this socket has a
			// non-nil Client; every other subscriber to game:command
			// silently drops its own copy of the reply.
			if rc.Client != nil {
				_ = rc.Client.writeJSON(map[string]any{
					"type": "command:reply", "success": res.Success, "message": res.Message, "data": res.Data,
				})
			}
			return
		}
		bcast.To(rc.Cmd.RoomID, "chat:message", map[string]any{"text": res.Message})
	}
}

// NewCommandHandler builds the Hub's CommandHandler. Plain chat (no
// leading "!" or "/") is broadcast immediately and never touches the
// command bus, since it carries no game-state mutation to order;
// anything starting with "!" (play/lifecycle commands) or "/" (admin
// bot commands, spec §4.4/§6.5) is published to game:command instead
// of being enqueued directly, so every replica's Per-Room Serializer —
// this one's included — picks it up the same way (spec §4.5, §6.2).
func NewCommandHandler(pub CommandPublisher, bcast Broadcaster) CommandHandler {
	return func(client *Client, roomID, userID, username, text string) {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return
		}

		if !strings.HasPrefix(trimmed, "!") && !strings.HasPrefix(trimmed, "/") {
			bcast.To(roomID, "chat:message", map[string]any{"userId": userID, "username": username, "text": trimmed})
			return
		}

		msg := broadcast.CommandMessage{RoomID: roomID, UserID: userID, Username: username, Message: trimmed, SocketID: client.id}
		data, err := json.Marshal(msg)
		if err != nil {
			log.Printf("❌ command handler: marshal: %v", err)
			return
		}
		if err := pub.Publish(context.Background(), config.ChannelGameCommand, string(data)); err != nil {
			log.Printf("❌ command handler: publish: %v", err)
		}
	}
}
