// Package timer is the Timer Poller (spec §4.6): the sole clock
// authority for every room's game. It never suspends a goroutine per
// room; it wakes on a fixed tick, scans the keyed store for timer
// records past their deadline, and dispatches the matching engine
// transition. Repeated firings of the same expired timer must be safe
// no-ops — the engine methods it calls are themselves idempotent.
package timer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"lowcard/config"
)

// Scanner is the subset of the Keyed Store the poller scans through.
type Scanner interface {
	Scan(ctx context.Context, pattern string) ([]string, error)
	Get(ctx context.Context, key string) (string, bool, error)
}

// Poller scans room:*:lowcard:timer every tick and advances any room
// whose deadline has passed.
type Poller struct {
	store    Scanner
	begin    func(ctx context.Context, roomID string)
	autoDraw func(ctx context.Context, roomID string) error
	interval time.Duration
}

// New builds a Poller. begin is called once a waiting-phase timer
// expires; autoDraw is called once a countdown/round/tie timer
// expires (it is the engine's job to tell a countdown deadline from a
// round deadline by re-reading the game snapshot).
func New(store Scanner, begin func(ctx context.Context, roomID string), autoDraw func(ctx context.Context, roomID string) error, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{store: store, begin: begin, autoDraw: autoDraw, interval: interval}
}

// Run blocks, ticking until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	keys, err := p.store.Scan(ctx, config.KeyLowcardTimerScan)
	if err != nil {
		log.Printf("❌ timer poller: scan failed: %v", err)
		return
	}

	now := time.Now().UnixMilli()

	for _, key := range keys {
		raw, ok, err := p.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		record, err := decodeTimer(raw)
		if err != nil {
			log.Printf("❌ timer poller: decode %s: %v", key, err)
			continue
		}
		if record.ExpiresAt > now {
			continue
		}

		roomID, ok := roomIDFromTimerKey(key)
		if !ok {
			continue
		}

		switch record.Phase {
		case "waiting":
			p.begin(ctx, roomID)
		default:
			if err := p.autoDraw(ctx, roomID); err != nil {
				log.Printf("❌ timer poller: auto-draw room=%s: %v", roomID, err)
			}
		}
	}
}

// timerRecord mirrors the JSON shape internal/lowcard.Timer writes,
// duplicated here (rather than imported) so the poller depends only on
// wire shape, not on the lowcard package's internal types.
type timerRecord struct {
	Phase       string `json:"phase"`
	ExpiresAt   int64  `json:"expiresAt"`
	RoundNumber int    `json:"roundNumber"`
	CreatedAt   int64  `json:"createdAt"`
}

func decodeTimer(raw string) (timerRecord, error) {
	var t timerRecord
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return timerRecord{}, fmt.Errorf("unmarshal: %w", err)
	}
	return t, nil
}

// roomIDFromTimerKey extracts {roomId} out of "room:{roomId}:lowcard:timer".
func roomIDFromTimerKey(key string) (string, bool) {
	const prefix = "room:"
	const suffix = ":lowcard:timer"
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) {
		return "", false
	}
	return key[len(prefix) : len(key)-len(suffix)], true
}
