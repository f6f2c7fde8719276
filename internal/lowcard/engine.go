package lowcard

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"lowcard/config"
	"lowcard/internal/ledger"
)

// Ledger is the subset of internal/ledger.Ledger the engine drives.
type Ledger interface {
	Deduct(ctx context.Context, userID string, amount int64, username, reason, gameSessionID string) (ledger.DeductResult, error)
	Credit(ctx context.Context, userID, username string, amount int64, reason string) (int64, error)
}

// Locker is the subset of internal/lock.Manager the engine uses to
// serialize mutations on a single room.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, attempts int, delay time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// DeckService is the subset of internal/deck.Service the engine draws
// cards through.
type DeckService interface {
	Draw(ctx context.Context, roomID string) (Card, error)
	Reset(ctx context.Context, roomID string) error
}

// DurableStore is the subset of the Durable Store the engine reads
// and writes directly (beyond what the Ledger already owns).
type DurableStore interface {
	RoomName(ctx context.Context, roomID string) (string, error)
	InsertGameHistoryLose(ctx context.Context, userID, username, sessionID string) error
	InsertGameHistoryWin(ctx context.Context, userID, username, sessionID string, reward int64) error
	InsertLowcardGame(ctx context.Context, roomID, startedBy string, entryAmount int64) (int64, error)
	FinishLowcardGame(ctx context.Context, dbID int64, roomID, winnerID string, pot, winnings, houseFee int64, playerCount int) error
	ActiveMerchantFor(ctx context.Context, userID string) (string, bool, error)
}

// Broadcaster is the subset of internal/broadcast.Broadcaster the
// engine emits domain events through (spec §6.1, §6.3).
type Broadcaster interface {
	To(roomID, event string, payload any)
}

// IDGenerator produces opaque identifiers for new games. Production
// wiring uses uuid.NewString; tests can pin a sequence.
type IDGenerator func() string

// Engine is the LowCard state machine (spec §4.7).
type Engine struct {
	store   KeyedStore
	durable DurableStore
	locker  Locker
	ledger  Ledger
	deck    DeckService
	bcast   Broadcaster
	newID   IDGenerator
	clock   func() time.Time

	criticalLog []string
}

// New builds an Engine.
func New(store KeyedStore, durable DurableStore, locker Locker, ldg Ledger, deck DeckService, bcast Broadcaster, newID IDGenerator) *Engine {
	return &Engine{
		store:   store,
		durable: durable,
		locker:  locker,
		ledger:  ldg,
		deck:    deck,
		bcast:   bcast,
		newID:   newID,
		clock:   time.Now,
	}
}

// SetClock overrides the engine's time source; used only by tests.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock()
	}
	return time.Now()
}

// logCritical records an unrefundable-refund-class failure (spec §7):
// the process must not crash, but the event must not be silently lost.
func (e *Engine) logCritical(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("🚨 CRITICAL lowcard: %s", msg)
	e.criticalLog = append(e.criticalLog, msg)
	if len(e.criticalLog) > 200 {
		e.criticalLog = e.criticalLog[len(e.criticalLog)-200:]
	}
}

// CriticalLog returns a snapshot of the recent critical-failure ring
// buffer, surfaced on the health endpoint.
func (e *Engine) CriticalLog() []string {
	out := make([]string, len(e.criticalLog))
	copy(out, e.criticalLog)
	return out
}

/* =========================
   START
========================= */

// StartGame implements spec §4.7 startGame, holding lowcard:lock:{R}
// for the whole mutation.
func (e *Engine) StartGame(ctx context.Context, roomID, userID, username string, amount int64) Result {
	lockKey := fmt.Sprintf(config.KeyLowcardStartLock, roomID)
	token, acquired, err := e.locker.Acquire(ctx, lockKey, config.StartLockTTL)
	if err != nil {
		e.logCritical("startGame: acquire lock room=%s: %v", roomID, err)
		return fail("Server busy, please try again.")
	}
	if !acquired {
		return fail("Server busy, please try again.")
	}
	defer func() {
		if err := e.locker.Release(ctx, lockKey, token); err != nil {
			e.logCritical("startGame: release lock room=%s: %v", roomID, err)
		}
	}()

	return e.startGameLocked(ctx, roomID, userID, username, amount)
}

func (e *Engine) startGameLocked(ctx context.Context, roomID, userID, username string, amount int64) Result {
	if err := e.checkAndCleanupStaleGame(ctx, roomID); err != nil {
		e.logCritical("startGame: stale cleanup room=%s: %v", roomID, err)
	}

	existing, err := e.loadGame(ctx, roomID)
	if err != nil {
		e.logCritical("startGame: load existing room=%s: %v", roomID, err)
		return fail("Game creation failed, credits refunded. Try again.")
	}

	if existing != nil {
		timer, terr := e.loadTimer(ctx, roomID)
		if terr != nil {
			e.logCritical("startGame: load timer room=%s: %v", roomID, terr)
		}
		createdAge := e.now().Sub(time.UnixMilli(existing.CreatedAt))
		stuck := existing.Status == StatusWaiting && timer == nil && createdAge > config.StaleWaitingGrace

		switch {
		case stuck:
			e.refundAll(ctx, existing, "Lowcard Refund - stuck game cleanup")
			e.cleanupRoomKeys(ctx, roomID)
		case existing.Status == StatusWaiting || existing.Status == StatusPlaying:
			return fail("A game is already in progress in this room.")
		default:
			e.cleanupRoomKeys(ctx, roomID)
		}
	}

	roomName, err := e.durable.RoomName(ctx, roomID)
	if err != nil {
		e.logCritical("startGame: room name room=%s: %v", roomID, err)
	}
	minEntry, maxEntry := entryBounds(roomName)

	if amount == 0 {
		amount = minEntry
	}
	if amount < minEntry {
		return fail(fmt.Sprintf("Minimum %d COINS required to start.", minEntry))
	}
	if amount > maxEntry {
		return fail(fmt.Sprintf("Maximum %d COINS allowed to start.", maxEntry))
	}

	sessionID := e.newID()

	deductRes, err := e.ledger.Deduct(ctx, userID, amount, username, "Lowcard bet", sessionID)
	if err != nil {
		e.logCritical("startGame: deduct userId=%s room=%s: %v", userID, roomID, err)
		return fail("Game creation failed, credits refunded. Try again.")
	}
	if !deductRes.Success {
		return fail("Not enough credits.")
	}

	refund := func() {
		if _, err := e.ledger.Credit(ctx, userID, username, amount, "Lowcard Refund - start failed"); err != nil {
			e.logCritical("startGame: UNREFUNDABLE deduction userId=%s room=%s amount=%d: %v", userID, roomID, amount, err)
		}
	}

	if err := e.durable.InsertGameHistoryLose(ctx, userID, username, sessionID); err != nil {
		e.logCritical("startGame: insert game_history room=%s: %v", roomID, err)
		refund()
		return fail("Game creation failed, credits refunded. Try again.")
	}

	dbID, err := e.durable.InsertLowcardGame(ctx, roomID, userID, amount)
	if err != nil {
		e.logCritical("startGame: insert lowcard_games room=%s: %v", roomID, err)
		refund()
		return fail("Game creation failed, credits refunded. Try again.")
	}

	now := e.now()
	game := &Game{
		ID:                sessionID,
		DBID:              dbID,
		RoomID:            roomID,
		Status:            StatusWaiting,
		Phase:             PhaseWaiting,
		EntryAmount:       amount,
		Pot:               amount,
		CurrentRound:      0,
		Players:           []Player{{UserID: userID, Username: username}},
		StartedBy:         userID,
		StartedByUsername: username,
		CreatedAt:         now.UnixMilli(),
		JoinDeadline:      now.Add(config.JoinPhaseDuration).UnixMilli(),
	}

	if err := e.saveGameVerified(ctx, game); err != nil {
		e.logCritical("startGame: verify snapshot room=%s: %v", roomID, err)
		refund()
		return fail("Game creation failed, credits refunded. Try again.")
	}

	if err := e.setTimer(ctx, roomID, PhaseWaiting, game.JoinDeadline, 0); err != nil {
		e.logCritical("startGame: set timer room=%s: %v", roomID, err)
	}

	e.bcast.To(roomID, "game:started", map[string]any{
		"gameId": game.ID, "startedBy": username, "entryAmount": amount, "joinDeadline": game.JoinDeadline,
	})
	e.bcast.To(roomID, "chat:message", map[string]any{"text": fmt.Sprintf("%s started a LowCard game! Entry: %d COINS. Type !j to join.", username, amount)})

	return ok("Game started.", map[string]any{"gameId": game.ID})
}

// entryBounds implements the "big game" room override (spec §4.7
// step 3, GLOSSARY).
func entryBounds(roomName string) (min, max int64) {
	if strings.Contains(strings.ToLower(roomName), config.BigGameSubstring) {
		return config.BigGameMinEntry, 1<<62 // effectively uncapped
	}
	return config.DefaultMinEntry, config.DefaultMaxEntry
}

/* =========================
   JOIN
========================= */

// JoinGame implements spec §4.7 joinGame, holding the join lock with
// retry (5 attempts x 100ms).
func (e *Engine) JoinGame(ctx context.Context, roomID, userID, username string) Result {
	lockKey := fmt.Sprintf(config.KeyLowcardJoinLock, roomID)
	token, acquired, err := e.locker.AcquireWithRetry(ctx, lockKey, config.JoinLockTTL, config.JoinLockAttempts, config.JoinLockDelay)
	if err != nil {
		e.logCritical("joinGame: acquire lock room=%s: %v", roomID, err)
		return fail("Server busy, please try again.")
	}
	if !acquired {
		return fail("Server busy, please try again.")
	}
	defer func() {
		if err := e.locker.Release(ctx, lockKey, token); err != nil {
			e.logCritical("joinGame: release lock room=%s: %v", roomID, err)
		}
	}()

	game, err := e.loadGame(ctx, roomID)
	if err != nil {
		e.logCritical("joinGame: load room=%s: %v", roomID, err)
		return fail("Server busy, please try again.")
	}
	if game == nil {
		return failSilent()
	}
	if game.Status != StatusWaiting {
		return failSilent()
	}
	if e.now().UnixMilli() > game.JoinDeadline {
		return failSilent()
	}
	if game.PlayerIndex(userID) >= 0 {
		return fail("You have already joined.")
	}

	deductRes, err := e.ledger.Deduct(ctx, userID, game.EntryAmount, username, "Lowcard bet", game.ID)
	if err != nil {
		e.logCritical("joinGame: deduct userId=%s room=%s: %v", userID, roomID, err)
		return fail("Server busy, please try again.")
	}
	if !deductRes.Success {
		return fail("Not enough credits.")
	}

	if err := e.durable.InsertGameHistoryLose(ctx, userID, username, game.ID); err != nil {
		e.logCritical("joinGame: insert game_history room=%s: %v", roomID, err)
	}

	game.Players = append(game.Players, Player{UserID: userID, Username: username})
	game.Pot += game.EntryAmount

	if err := e.saveGame(ctx, game); err != nil {
		e.logCritical("joinGame: save room=%s: %v", roomID, err)
		if _, cerr := e.ledger.Credit(ctx, userID, username, game.EntryAmount, "Lowcard Refund - join failed"); cerr != nil {
			e.logCritical("joinGame: UNREFUNDABLE deduction userId=%s room=%s amount=%d: %v", userID, roomID, game.EntryAmount, cerr)
		}
		return fail("Server busy, please try again.")
	}

	e.bcast.To(roomID, "game:player:joined", map[string]any{"userId": userID, "username": username, "players": len(game.Players), "pot": game.Pot})
	e.bcast.To(roomID, "chat:message", map[string]any{"text": fmt.Sprintf("%s joined! (%d players, pot: %d)", username, len(game.Players), game.Pot)})

	return ok("Joined.", nil)
}

/* =========================
   BEGIN (timer-driven)
========================= */

// BeginGame implements spec §4.7 beginGame, invoked only by the Timer
// Poller when the join-phase deadline expires.
func (e *Engine) BeginGame(ctx context.Context, roomID string) Result {
	lockKey := fmt.Sprintf(config.KeyLowcardJoinLock, roomID)
	token, acquired, err := e.locker.Acquire(ctx, lockKey, config.JoinLockTTL)
	if err != nil || !acquired {
		// The poller retries next tick; this is not a user-facing error.
		return failSilent()
	}
	defer func() {
		if err := e.locker.Release(ctx, lockKey, token); err != nil {
			e.logCritical("beginGame: release lock room=%s: %v", roomID, err)
		}
	}()

	game, err := e.loadGame(ctx, roomID)
	if err != nil {
		e.logCritical("beginGame: load room=%s: %v", roomID, err)
		return failSilent()
	}
	if game == nil || game.Status != StatusWaiting {
		// Idempotent: a second firing of the same expired timer must be
		// a no-op once the phase has already advanced.
		return failSilent()
	}

	if len(game.Players) < 2 {
		e.refundAll(ctx, game, "Lowcard Refund - not enough players")
		e.cleanupRoomKeys(ctx, roomID)
		e.bcast.To(roomID, "game:cancelled", map[string]any{"reason": "not enough players"})
		e.bcast.To(roomID, "chat:message", map[string]any{"text": "Not enough players joined. Game cancelled, everyone refunded."})
		return ok("Cancelled.", nil)
	}

	now := e.now()
	game.Status = StatusPlaying
	game.Phase = PhaseCountdown
	game.CurrentRound = 1
	game.IsRoundStarted = true
	for i := range game.Players {
		game.Players[i].HasDrawn = false
		game.Players[i].CurrentCard = nil
	}
	if err := e.deck.Reset(ctx, roomID); err != nil {
		e.logCritical("beginGame: reset deck room=%s: %v", roomID, err)
	}
	game.CountdownEndsAt = now.Add(config.CountdownDuration).UnixMilli()
	game.RoundDeadline = now.Add(config.CountdownDuration + config.RoundDuration).UnixMilli()

	if err := e.saveGame(ctx, game); err != nil {
		e.logCritical("beginGame: save room=%s: %v", roomID, err)
		return failSilent()
	}
	if err := e.setTimer(ctx, roomID, PhaseCountdown, game.CountdownEndsAt, game.CurrentRound); err != nil {
		e.logCritical("beginGame: set timer room=%s: %v", roomID, err)
	}

	e.bcast.To(roomID, "game:countdown", map[string]any{"countdownEndsAt": game.CountdownEndsAt, "round": game.CurrentRound})
	e.bcast.To(roomID, "chat:message", map[string]any{"text": fmt.Sprintf("Game starting! Round %d begins in %s.", game.CurrentRound, config.CountdownDuration)})

	return ok("Started.", nil)
}

/* =========================
   DRAW
========================= */

// DrawCardForPlayer implements spec §4.7 drawCardForPlayer.
func (e *Engine) DrawCardForPlayer(ctx context.Context, roomID, userID, username string) Result {
	lockKey := fmt.Sprintf(config.KeyLowcardDrawLock, roomID)
	token, acquired, err := e.locker.Acquire(ctx, lockKey, config.DrawLockTTL)
	if err != nil {
		e.logCritical("draw: acquire lock room=%s: %v", roomID, err)
		return fail("Server busy, please try again.")
	}
	if !acquired {
		return fail("Server busy, please try again.")
	}
	defer func() {
		if err := e.locker.Release(ctx, lockKey, token); err != nil {
			e.logCritical("draw: release lock room=%s: %v", roomID, err)
		}
	}()

	game, err := e.loadGame(ctx, roomID)
	if err != nil {
		e.logCritical("draw: load room=%s: %v", roomID, err)
		return fail("Server busy, please try again.")
	}
	if game == nil || game.Status != StatusPlaying {
		return failSilent()
	}
	if e.now().UnixMilli() < game.CountdownEndsAt {
		return failSilent()
	}

	idx := game.PlayerIndex(userID)
	if idx < 0 || game.Players[idx].IsEliminated {
		return failSilent()
	}
	if game.IsTieBreaker && !game.Players[idx].InTieBreaker {
		return failSilent()
	}
	if game.Players[idx].HasDrawn {
		return failSilent()
	}

	card, err := e.deck.Draw(ctx, roomID)
	if err != nil {
		e.logCritical("draw: deck draw room=%s: %v", roomID, err)
		return fail("Server busy, please try again.")
	}

	game.Players[idx].CurrentCard = &card
	game.Players[idx].HasDrawn = true

	if err := e.saveGame(ctx, game); err != nil {
		e.logCritical("draw: save room=%s: %v", roomID, err)
		return fail("Server busy, please try again.")
	}

	cardDisplay := fmt.Sprintf("[CARD:%s]", card.Code)
	e.bcast.To(roomID, "game:draw", map[string]any{"userId": userID, "username": username, "card": card})
	e.bcast.To(roomID, "chat:message", map[string]any{"text": fmt.Sprintf("%s draws: %s", username, cardDisplay)})

	if e.allInScopeDrawn(game) {
		return e.tallyRound(ctx, roomID, false)
	}

	return ok("Drawn.", map[string]any{"cardDisplay": cardDisplay})
}

func (e *Engine) allInScopeDrawn(game *Game) bool {
	for _, p := range game.InScopePlayers() {
		if !p.HasDrawn {
			return false
		}
	}
	return true
}

/* =========================
   AUTO-DRAW (timer-driven)
========================= */

// AutoDrawForTimeout implements spec §4.7 autoDrawForTimeout: every
// in-scope player who hasn't drawn by the round deadline is drawn for
// automatically, after which the round always tallies (the deadline
// firing is itself the signal that the round is over).
func (e *Engine) AutoDrawForTimeout(ctx context.Context, roomID string) error {
	lockKey := fmt.Sprintf(config.KeyLowcardDrawLock, roomID)
	token, acquired, err := e.locker.Acquire(ctx, lockKey, config.DrawLockTTL)
	if err != nil {
		return fmt.Errorf("autoDraw: acquire lock room=%s: %w", roomID, err)
	}
	if !acquired {
		// A manual draw is in flight; it will reach the same tally.
		return nil
	}
	defer func() {
		if err := e.locker.Release(ctx, lockKey, token); err != nil {
			e.logCritical("autoDraw: release lock room=%s: %v", roomID, err)
		}
	}()

	game, err := e.loadGame(ctx, roomID)
	if err != nil {
		return fmt.Errorf("autoDraw: load room=%s: %w", roomID, err)
	}
	if game == nil || game.Status != StatusPlaying {
		return nil
	}
	if e.now().UnixMilli() < game.RoundDeadline {
		return nil
	}

	for i := range game.Players {
		p := &game.Players[i]
		if p.IsEliminated || p.HasDrawn {
			continue
		}
		if game.IsTieBreaker && !p.InTieBreaker {
			continue
		}
		card, err := e.deck.Draw(ctx, roomID)
		if err != nil {
			e.logCritical("autoDraw: deck draw room=%s userId=%s: %v", roomID, p.UserID, err)
			continue
		}
		p.CurrentCard = &card
		p.HasDrawn = true
		e.bcast.To(roomID, "chat:message", map[string]any{"text": fmt.Sprintf("Bot draws - %s: [CARD:%s]", p.Username, card.Code)})
	}

	if err := e.saveGame(ctx, game); err != nil {
		return fmt.Errorf("autoDraw: save room=%s: %w", roomID, err)
	}

	e.tallyRound(ctx, roomID, true)
	return nil
}

/* =========================
   CANCEL / STOP / RESET
========================= */

// CancelByStarter implements spec §4.7 cancelByStarter.
func (e *Engine) CancelByStarter(ctx context.Context, roomID, userID string) Result {
	game, err := e.loadGame(ctx, roomID)
	if err != nil {
		e.logCritical("cancel: load room=%s: %v", roomID, err)
		return fail("Server busy, please try again.")
	}
	if game == nil || game.Status != StatusWaiting {
		return failSilent()
	}
	if game.StartedBy != userID {
		return fail("Only the game starter can cancel.")
	}

	e.refundAll(ctx, game, "Lowcard Refund - cancelled by starter")
	e.cleanupRoomKeys(ctx, roomID)
	e.bcast.To(roomID, "game:cancelled", map[string]any{"reason": "cancelled"})
	e.bcast.To(roomID, "chat:message", map[string]any{"text": "Game cancelled. Everyone refunded."})
	return ok("Cancelled.", nil)
}

// StopGame implements spec §4.7 stopGame.
func (e *Engine) StopGame(ctx context.Context, roomID string) Result {
	game, err := e.loadGame(ctx, roomID)
	if err != nil {
		e.logCritical("stop: load room=%s: %v", roomID, err)
		return fail("Server busy, please try again.")
	}
	if game == nil || game.Status != StatusWaiting {
		return failSilent()
	}

	e.refundAll(ctx, game, "Lowcard Refund - stopped")
	e.cleanupRoomKeys(ctx, roomID)
	e.bcast.To(roomID, "game:cancelled", map[string]any{"reason": "stopped"})
	e.bcast.To(roomID, "chat:message", map[string]any{"text": "Game stopped. Everyone refunded."})
	return ok("Stopped.", nil)
}

// ResetGame implements spec §4.7 resetGame: unconditional, refunds
// every non-eliminated player.
func (e *Engine) ResetGame(ctx context.Context, roomID, byUsername string) Result {
	game, err := e.loadGame(ctx, roomID)
	if err != nil {
		e.logCritical("reset: load room=%s: %v", roomID, err)
		return fail("Server busy, please try again.")
	}
	if game == nil {
		return failSilent()
	}

	e.refundNonEliminated(ctx, game, "Lowcard Refund - reset")
	e.cleanupRoomKeys(ctx, roomID)
	e.bcast.To(roomID, "game:cancelled", map[string]any{"reason": "reset"})
	e.bcast.To(roomID, "chat:message", map[string]any{"text": fmt.Sprintf("Game reset by %s. Remaining players refunded.", byUsername)})
	return ok("Reset.", nil)
}

// checkAndCleanupStaleGame implements spec §4.7: a waiting game more
// than joinDeadline+120s old is stale regardless of timer state.
func (e *Engine) checkAndCleanupStaleGame(ctx context.Context, roomID string) error {
	game, err := e.loadGame(ctx, roomID)
	if err != nil {
		return err
	}
	if game == nil || game.Status != StatusWaiting {
		return nil
	}
	if e.now().UnixMilli() <= game.JoinDeadline+config.StaleWaitingCleanup.Milliseconds() {
		return nil
	}

	e.refundAll(ctx, game, "Lowcard Refund - stale game cleanup")
	e.cleanupRoomKeys(ctx, roomID)
	return nil
}

/* =========================
   REFUND HELPERS
========================= */

func (e *Engine) refundAll(ctx context.Context, game *Game, reason string) {
	for _, p := range game.Players {
		e.refundPlayer(ctx, game, p, reason)
	}
}

func (e *Engine) refundNonEliminated(ctx context.Context, game *Game, reason string) {
	for _, p := range game.Players {
		if p.IsEliminated {
			continue
		}
		e.refundPlayer(ctx, game, p, reason)
	}
}

func (e *Engine) refundPlayer(ctx context.Context, game *Game, p Player, reason string) {
	if _, err := e.ledger.Credit(ctx, p.UserID, p.Username, game.EntryAmount, reason); err != nil {
		e.logCritical("refund: UNREFUNDABLE userId=%s room=%s amount=%d reason=%q: %v", p.UserID, game.RoomID, game.EntryAmount, reason, err)
		return
	}
	e.bcast.To(game.RoomID, "credits:updated", map[string]any{"userId": p.UserID})
}
