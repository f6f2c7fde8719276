// Package gamestate is the per-room "which game type is active"
// directory (spec §2.6). It backs the Command Router's affinity checks
// (spec §4.4): a scoped play command is only honored while its game
// type owns the room.
package gamestate

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const keyPattern = "room:%s:active_game"

// defaultTTL matches the outer game snapshot TTL. The entry is written
// on SetActive only and is not refreshed or cleared when a game
// finishes, so it lapses after this TTL unless Clear runs first.
const defaultTTL = 1 * time.Hour

const scanPattern = "room:*:active_game"
const roomIDPrefix = "room:"
const roomIDSuffix = ":active_game"

// Store is the subset of the Keyed Store the directory needs.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// ActiveRoom names one room with a currently-running game, for the
// lobby's "what's running right now" feed.
type ActiveRoom struct {
	RoomID   string `json:"roomId"`
	GameType string `json:"gameType"`
}

// Directory tracks which game type (if any) is active in each room.
type Directory struct {
	store Store
}

// New builds a Directory.
func New(store Store) *Directory {
	return &Directory{store: store}
}

// Active returns the active game type for roomID ("" if none).
func (d *Directory) Active(ctx context.Context, roomID string) (string, error) {
	val, ok, err := d.store.Get(ctx, fmt.Sprintf(keyPattern, roomID))
	if err != nil {
		return "", fmt.Errorf("gamestate active: %w", err)
	}
	if !ok {
		return "", nil
	}
	return val, nil
}

// SetActive records gameType as the active game for roomID.
func (d *Directory) SetActive(ctx context.Context, roomID, gameType string) error {
	if err := d.store.Set(ctx, fmt.Sprintf(keyPattern, roomID), gameType, defaultTTL); err != nil {
		return fmt.Errorf("gamestate set active: %w", err)
	}
	return nil
}

// Clear removes the active-game marker for roomID.
func (d *Directory) Clear(ctx context.Context, roomID string) error {
	if err := d.store.Delete(ctx, fmt.Sprintf(keyPattern, roomID)); err != nil {
		return fmt.Errorf("gamestate clear: %w", err)
	}
	return nil
}

// ListActive scans every room currently holding an active-game marker,
// for the lobby's periodic room-list broadcast.
func (d *Directory) ListActive(ctx context.Context) ([]ActiveRoom, error) {
	keys, err := d.store.Scan(ctx, scanPattern)
	if err != nil {
		return nil, fmt.Errorf("gamestate list active: %w", err)
	}

	rooms := make([]ActiveRoom, 0, len(keys))
	for _, key := range keys {
		gameType, ok, err := d.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		roomID := strings.TrimSuffix(strings.TrimPrefix(key, roomIDPrefix), roomIDSuffix)
		rooms = append(rooms, ActiveRoom{RoomID: roomID, GameType: gameType})
	}
	return rooms, nil
}
