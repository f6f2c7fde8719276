package lowcard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lowcard/config"
)

// KeyedStore is the subset of the Keyed Store the engine persists game
// snapshots, timers, and bot records through.
type KeyedStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

func gameKey(roomID string) string  { return fmt.Sprintf(config.KeyLowcardGame, roomID) }
func timerKey(roomID string) string { return fmt.Sprintf(config.KeyLowcardTimer, roomID) }

func (e *Engine) loadGame(ctx context.Context, roomID string) (*Game, error) {
	raw, ok, err := e.store.Get(ctx, gameKey(roomID))
	if err != nil {
		return nil, fmt.Errorf("lowcard: load game: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var g Game
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, fmt.Errorf("lowcard: load game: unmarshal: %w", err)
	}
	return &g, nil
}

func (e *Engine) saveGame(ctx context.Context, g *Game) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("lowcard: save game: marshal: %w", err)
	}
	if err := e.store.Set(ctx, gameKey(g.RoomID), string(data), config.GameSnapshotTTL); err != nil {
		return fmt.Errorf("lowcard: save game: %w", err)
	}
	return nil
}

// saveGameVerified writes the snapshot and reads it back to confirm
// the write landed (spec §4.7 step 8). A mismatch here is the
// "infrastructure fault" class of error (spec §7).
func (e *Engine) saveGameVerified(ctx context.Context, g *Game) error {
	if err := e.saveGame(ctx, g); err != nil {
		return err
	}
	readBack, err := e.loadGame(ctx, g.RoomID)
	if err != nil {
		return fmt.Errorf("lowcard: verify snapshot: %w", err)
	}
	if readBack == nil || readBack.ID != g.ID {
		return fmt.Errorf("lowcard: verify snapshot: write did not take effect")
	}
	return nil
}

func (e *Engine) deleteGame(ctx context.Context, roomID string) error {
	return e.store.Delete(ctx, gameKey(roomID))
}

func (e *Engine) loadTimer(ctx context.Context, roomID string) (*Timer, error) {
	raw, ok, err := e.store.Get(ctx, timerKey(roomID))
	if err != nil {
		return nil, fmt.Errorf("lowcard: load timer: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var t Timer
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("lowcard: load timer: unmarshal: %w", err)
	}
	return &t, nil
}

// setTimer writes the single timer key for a room (invariant I7: at
// most one timer key exists per active game, and it must match the
// game's current phase).
func (e *Engine) setTimer(ctx context.Context, roomID string, phase Phase, expiresAt int64, round int) error {
	t := Timer{Phase: phase, ExpiresAt: expiresAt, RoundNumber: round, CreatedAt: e.now().UnixMilli()}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("lowcard: set timer: marshal: %w", err)
	}
	if err := e.store.Set(ctx, timerKey(roomID), string(data), config.TimerTTL); err != nil {
		return fmt.Errorf("lowcard: set timer: %w", err)
	}
	return nil
}

func (e *Engine) clearTimer(ctx context.Context, roomID string) error {
	return e.store.Delete(ctx, timerKey(roomID))
}

// cleanupRoomKeys removes every LowCard key for a room: game snapshot,
// timer, and deck. Bot-enabled status is intentionally left alone —
// it outlives any single game.
func (e *Engine) cleanupRoomKeys(ctx context.Context, roomID string) {
	if err := e.deleteGame(ctx, roomID); err != nil {
		e.logCritical("cleanup: delete game key room=%s: %v", roomID, err)
	}
	if err := e.clearTimer(ctx, roomID); err != nil {
		e.logCritical("cleanup: delete timer key room=%s: %v", roomID, err)
	}
	if err := e.deck.Reset(ctx, roomID); err != nil {
		e.logCritical("cleanup: reset deck room=%s: %v", roomID, err)
	}
}
