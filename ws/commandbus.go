package ws

import (
	"context"
	"log"

	"lowcard/config"
	"lowcard/internal/broadcast"
	"lowcard/internal/router"
)

// CommandSubscriber is the subset of the Keyed Store pub/sub the
// command bus reads game:command through.
type CommandSubscriber interface {
	Subscribe(ctx context.Context, channel string) <-chan string
}

// RunCommandBus is the receiving half of NewCommandHandler's publish:
// it subscribes to game:command and enqueues every decoded command
// into the Per-Room Serializer, exactly as if it had been read off a
// local websocket connection. In a single-instance deployment this is
// the only path a "!"-command ever takes; in a multi-replica one,
// every replica runs this loop and only the replica whose Hub still
// holds the originating socket id resolves a non-nil Client for a
// private reply (spec §4.5, §6.2, the cross-replica idempotence case).
func RunCommandBus(ctx context.Context, sub CommandSubscriber, hub *Hub, queue Enqueuer) {
	ch := sub.Subscribe(ctx, config.ChannelGameCommand)
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			msg, err := broadcast.DecodeCommand(payload)
			if err != nil {
				log.Printf("❌ command bus: decode: %v", err)
				continue
			}

			var client *Client
			if msg.SocketID != "" {
				client = hub.ClientByID(msg.SocketID)
			}

			queue.Enqueue(msg.RoomID, RoutedCommand{
				Cmd:    router.Command{RoomID: msg.RoomID, UserID: msg.UserID, Username: msg.Username, Text: msg.Message},
				Client: client,
			})
		}
	}
}
