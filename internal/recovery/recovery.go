// Package recovery implements Restart Recovery (spec §4.8): on every
// boot, before the Timer Poller or any websocket traffic is accepted,
// sweep every room's outstanding game state and refund anyone whose
// bet never resolved. A crash mid-game must never leave a bet taken
// without either a finish or a refund — recovery is what re-closes
// that window after a hard restart. It must also be safe to run twice
// in a row (spec property P6): a room with no outstanding game is a
// no-op.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"lowcard/config"
)

// Scanner is the subset of the Keyed Store recovery sweeps through.
type Scanner interface {
	Scan(ctx context.Context, pattern string) ([]string, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// Ledger is the subset of internal/ledger.Ledger recovery refunds
// through.
type Ledger interface {
	Credit(ctx context.Context, userID, username string, amount int64, reason string) (int64, error)
	InvalidateCache(ctx context.Context, userID string) error
}

// DeckResetter clears a room's deck once its game is refunded away.
type DeckResetter interface {
	Reset(ctx context.Context, roomID string) error
}

// snapshotPlayer mirrors internal/lowcard.Player's JSON shape,
// duplicated so recovery depends only on wire shape, never on the
// lowcard package's internal types (it must be able to run even if
// lowcard's snapshot format evolves independently of this sweep).
type snapshotPlayer struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	IsEliminated bool   `json:"isEliminated"`
}

type snapshotGame struct {
	RoomID      string            `json:"roomId"`
	Status      string            `json:"status"`
	EntryAmount int64             `json:"entryAmount"`
	Players     []snapshotPlayer  `json:"players"`
}

// Sweep runs the full restart-recovery pass.
type Sweep struct {
	store   Scanner
	ledger  Ledger
	deck    DeckResetter
}

// New builds a Sweep.
func New(store Scanner, ledger Ledger, deck DeckResetter) *Sweep {
	return &Sweep{store: store, ledger: ledger, deck: deck}
}

// Run performs one full recovery pass across LowCard and the sibling
// games' key namespaces.
func (s *Sweep) Run(ctx context.Context) {
	log.Println("🔄 restart recovery: starting sweep")
	lowcardRefunds := s.sweepLowcard(ctx)
	siblingCleaned := s.sweepSiblingKeys(ctx, config.KeyDicebotGameScan)
	siblingCleaned += s.sweepSiblingKeys(ctx, config.KeyFlagbotBetsScan)
	log.Printf("✅ restart recovery: %d lowcard refunds issued, %d sibling-game keys cleared", lowcardRefunds, siblingCleaned)
}

func (s *Sweep) sweepLowcard(ctx context.Context) int {
	keys, err := s.store.Scan(ctx, lowcardGameScanPattern)
	if err != nil {
		log.Printf("❌ restart recovery: scan lowcard games: %v", err)
		return 0
	}

	refunds := 0
	for _, key := range keys {
		raw, ok, err := s.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var game snapshotGame
		if err := json.Unmarshal([]byte(raw), &game); err != nil {
			log.Printf("❌ restart recovery: decode %s: %v", key, err)
			continue
		}
		if game.Status != "waiting" && game.Status != "playing" {
			continue
		}

		for _, p := range game.Players {
			if p.IsEliminated {
				continue
			}
			description := fmt.Sprintf("Lowcard Refund - Server Restart (Room %s)", game.RoomID)
			if _, err := s.ledger.Credit(ctx, p.UserID, p.Username, game.EntryAmount, description); err != nil {
				log.Printf("🚨 CRITICAL restart recovery: UNREFUNDABLE userId=%s room=%s amount=%d: %v", p.UserID, game.RoomID, game.EntryAmount, err)
				continue
			}
			if err := s.ledger.InvalidateCache(ctx, p.UserID); err != nil {
				log.Printf("⚠️  restart recovery: invalidate cache userId=%s: %v", p.UserID, err)
			}
			refunds++
		}

		if err := s.deck.Reset(ctx, game.RoomID); err != nil {
			log.Printf("⚠️  restart recovery: reset deck room=%s: %v", game.RoomID, err)
		}
		timerKey := fmt.Sprintf(config.KeyLowcardTimer, game.RoomID)
		if err := s.store.Delete(ctx, key, timerKey); err != nil {
			log.Printf("⚠️  restart recovery: delete keys room=%s: %v", game.RoomID, err)
		}
	}
	return refunds
}

// sweepSiblingKeys clears stale DiceBot/FlagBot state without
// attempting a refund: their wire format and rules are out of scope
// here (spec.md's explicit non-goal), so the safest recovery action is
// to drop the dangling key rather than guess at its payout logic.
func (s *Sweep) sweepSiblingKeys(ctx context.Context, pattern string) int {
	keys, err := s.store.Scan(ctx, pattern)
	if err != nil {
		log.Printf("❌ restart recovery: scan %s: %v", pattern, err)
		return 0
	}
	if len(keys) == 0 {
		return 0
	}
	if err := s.store.Delete(ctx, keys...); err != nil {
		log.Printf("❌ restart recovery: delete %s: %v", pattern, err)
		return 0
	}
	return len(keys)
}

const lowcardGameScanPattern = "lowcard:game:*"
