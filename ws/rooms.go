package ws

import (
	"context"
	"log"
	"time"

	"lowcard/internal/gamestate"
)

// ActiveRoomLister is the subset of internal/gamestate.Directory the
// lobby feed polls.
type ActiveRoomLister interface {
	ListActive(ctx context.Context) ([]gamestate.ActiveRoom, error)
}

// RunRoomBroadcaster periodically emits the active-room list on the
// "rooms:update" global channel, the same periodic-poll-then-broadcast
// shape as the teacher's runPeriodicRoomBroadcaster over globalRooms,
// generalized from an in-memory map to a Scan over the Game State
// Manager's directory. Call it once, in the background; it runs until
// ctx is cancelled.
func RunRoomBroadcaster(ctx context.Context, games ActiveRoomLister, hub *Hub, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rooms, err := games.ListActive(ctx)
			if err != nil {
				log.Printf("⚠️  room broadcaster: list active: %v", err)
				continue
			}
			hub.EmitGlobal("rooms:update", rooms)
		}
	}
}
