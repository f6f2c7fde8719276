// Package broadcast implements the Broadcaster contract (spec §6.1)
// the engine emits domain events through, and the cross-room pub/sub
// fan-out (spec §6.2) required of chat/credit/private events.
//
// The subscriber registry and its buffered broadcast channels live
// behind RoomSubscriber (ws.Hub, which mirrors the teacher's
// ws/unified.go runEventHub/broadcastToSubscribers pair); this package
// adds the cross-replica republish step on top.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"lowcard/config"
)

// Publisher is the subset of the Keyed Store pub/sub the Broadcaster
// needs to fan out across replicas.
type Publisher interface {
	Publish(ctx context.Context, channel, payload string) error
}

// RoomSubscriber receives events scoped to one room; ws.Hub implements
// this to hand events to the matching websocket subscribers.
type RoomSubscriber interface {
	EmitToRoom(roomID, event string, payload any)
	EmitGlobal(event string, payload any)
}

// Broadcaster is the engine's sole way of talking to the outside
// world. Room and global events are handed to the RoomSubscriber;
// chat, credit and private events are also published to the keyed
// store synchronously, on the caller's goroutine.
type Broadcaster struct {
	ctx     context.Context
	pub     Publisher
	sub     RoomSubscriber
}

// New builds a Broadcaster. ctx is used only for the outbound Redis
// PUBLISH calls, not stored per-event.
func New(ctx context.Context, pub Publisher, sub RoomSubscriber) *Broadcaster {
	return &Broadcaster{ctx: ctx, pub: pub, sub: sub}
}

// To emits event/payload to everyone subscribed to room, and — for the
// three event kinds spec §6.1 calls out — also republishes to the
// matching cross-replica channel.
func (b *Broadcaster) To(roomID, event string, payload any) {
	b.sub.EmitToRoom(roomID, event, payload)

	switch event {
	case "chat:message":
		b.republish(config.ChannelChatMessage, map[string]any{"roomId": roomID, "messageData": payload})
	case "credits:updated":
		b.republish(config.ChannelCreditsUpdate, payloadWithRoom(roomID, payload))
	default:
		if isPrivate(payload) {
			b.republish(config.ChannelPrivateMessage, map[string]any{"roomId": roomID, "userId": privateUserID(payload), "messageData": payload})
		}
	}
}

// Emit broadcasts a room-less (server-wide) event.
func (b *Broadcaster) Emit(event string, payload any) {
	b.sub.EmitGlobal(event, payload)
}

func (b *Broadcaster) republish(channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("❌ broadcast: failed to marshal payload for %s: %v", channel, err)
		return
	}
	if err := b.pub.Publish(b.ctx, channel, string(data)); err != nil {
		log.Printf("❌ broadcast: publish to %s failed: %v", channel, err)
	}
}

func isPrivate(payload any) bool {
	m, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	t, _ := m["type"].(string)
	return t == "private"
}

func privateUserID(payload any) string {
	m, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	userID, _ := m["userId"].(string)
	return userID
}

func payloadWithRoom(roomID string, payload any) any {
	m, ok := payload.(map[string]any)
	if !ok {
		return payload
	}
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out["roomId"] = roomID
	return out
}

// CommandMessage is the shape of a command delivered over the
// game:command pub/sub channel (spec §6.2).
type CommandMessage struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Message  string `json:"message"`
	SocketID string `json:"socketId,omitempty"`
}

// DecodeCommand parses a raw pub/sub payload into a CommandMessage.
func DecodeCommand(payload string) (CommandMessage, error) {
	var msg CommandMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return CommandMessage{}, fmt.Errorf("decode command: %w", err)
	}
	return msg, nil
}
