package lowcard

import (
	"context"
	"fmt"

	"lowcard/config"
)

// tallyRound implements spec §4.7 tallyRound: once every in-scope
// player has drawn, the lowest card (suits never break ties) is
// eliminated; a tie among the lowest sends exactly those players into
// a tie-breaker sub-round (invariant I5) instead of eliminating all of
// them at once.
func (e *Engine) tallyRound(ctx context.Context, roomID string, forced bool) Result {
	game, err := e.loadGame(ctx, roomID)
	if err != nil {
		e.logCritical("tally: load room=%s: %v", roomID, err)
		return failSilent()
	}
	if game == nil || game.Status != StatusPlaying {
		return failSilent()
	}

	scoped := game.InScopePlayers()
	if len(scoped) == 0 {
		return failSilent()
	}

	lowest := lowestCardHolders(scoped)

	if len(lowest) > 1 {
		return e.enterTieBreaker(ctx, game, lowest)
	}

	loser := lowest[0]
	loser.IsEliminated = true

	if game.IsTieBreaker {
		game.IsTieBreaker = false
		for i := range game.Players {
			game.Players[i].InTieBreaker = false
		}
	}

	e.bcast.To(game.RoomID, "game:round:tallied", map[string]any{
		"reason": "eliminated", "userId": loser.UserID, "username": loser.Username,
	})

	remaining := game.RemainingCount()

	if remaining <= 1 {
		return e.finishGame(ctx, game)
	}

	return e.startNextRound(ctx, game)
}

// lowestCardHolders returns every scoped player holding the minimum
// drawn card value. Players who have not drawn (auto-draw failures)
// are never eligible to be the sole winner of a comparison and are
// treated as holding the lowest possible card, per spec §7's
// fail-safe-toward-the-house rule for infrastructure faults.
func lowestCardHolders(scoped []*Player) []*Player {
	min := 999
	for _, p := range scoped {
		if p.CurrentCard == nil {
			min = 0
			continue
		}
		if p.CurrentCard.Value < min {
			min = p.CurrentCard.Value
		}
	}
	var lowest []*Player
	for _, p := range scoped {
		v := 0
		if p.CurrentCard != nil {
			v = p.CurrentCard.Value
		}
		if v == min {
			lowest = append(lowest, p)
		}
	}
	return lowest
}

func (e *Engine) enterTieBreaker(ctx context.Context, game *Game, tied []*Player) Result {
	tiedIDs := make(map[string]bool, len(tied))
	for _, p := range tied {
		tiedIDs[p.UserID] = true
	}
	for i := range game.Players {
		if tiedIDs[game.Players[i].UserID] {
			game.Players[i].InTieBreaker = true
			game.Players[i].HasDrawn = false
			game.Players[i].CurrentCard = nil
		}
	}
	game.IsTieBreaker = true
	game.WasTieBreaker = true
	game.Phase = PhaseTieCountdown

	now := e.now()
	game.CountdownEndsAt = now.Add(config.CountdownDuration).UnixMilli()
	game.RoundDeadline = now.Add(config.CountdownDuration + config.RoundDuration).UnixMilli()

	if err := e.saveGame(ctx, game); err != nil {
		e.logCritical("tally: save tie-breaker room=%s: %v", game.RoomID, err)
		return failSilent()
	}
	if err := e.deck.Reset(ctx, game.RoomID); err != nil {
		e.logCritical("tally: reset deck for tie-breaker room=%s: %v", game.RoomID, err)
	}
	if err := e.setTimer(ctx, game.RoomID, PhaseTieCountdown, game.CountdownEndsAt, game.CurrentRound); err != nil {
		e.logCritical("tally: set tie timer room=%s: %v", game.RoomID, err)
	}

	names := make([]string, 0, len(tied))
	for _, p := range tied {
		names = append(names, p.Username)
	}
	e.bcast.To(game.RoomID, "game:round:tallied", map[string]any{"reason": "tie", "players": names})
	e.bcast.To(game.RoomID, "chat:message", map[string]any{"text": fmt.Sprintf("Tie between %v! Draw again to break it.", names)})

	return ok("Tie-breaker.", nil)
}

func (e *Engine) startNextRound(ctx context.Context, game *Game) Result {
	// wasTieBreaker only holds for the one round right after a tie
	// resolves (spec §3.2); consume it here before it's cleared.
	tieBroken := game.WasTieBreaker
	game.WasTieBreaker = false

	game.CurrentRound++
	game.Phase = PhaseCountdown
	for i := range game.Players {
		if game.Players[i].IsEliminated {
			continue
		}
		game.Players[i].HasDrawn = false
		game.Players[i].CurrentCard = nil
	}

	now := e.now()
	game.CountdownEndsAt = now.Add(config.CountdownDuration).UnixMilli()
	game.RoundDeadline = now.Add(config.CountdownDuration + config.RoundDuration).UnixMilli()

	if err := e.saveGame(ctx, game); err != nil {
		e.logCritical("tally: save next round room=%s: %v", game.RoomID, err)
		return failSilent()
	}
	if err := e.setTimer(ctx, game.RoomID, PhaseCountdown, game.CountdownEndsAt, game.CurrentRound); err != nil {
		e.logCritical("tally: set round timer room=%s: %v", game.RoomID, err)
	}

	e.bcast.To(game.RoomID, "game:round:started", map[string]any{"round": game.CurrentRound, "countdownEndsAt": game.CountdownEndsAt})
	text := fmt.Sprintf("Round %d! %d players remain.", game.CurrentRound, game.RemainingCount())
	if tieBroken {
		text = "Tie broken! " + text
	}
	e.bcast.To(game.RoomID, "chat:message", map[string]any{"text": text})

	return ok("Next round.", nil)
}

// finishGame implements spec §4.7 finishGame: the sole remaining
// player takes the pot minus the house fee. If the winner carries an
// active merchant tag, that merchant is paid a commission out of the
// house fee; the winner's payout is unchanged (spec §1, §4.2).
func (e *Engine) finishGame(ctx context.Context, game *Game) Result {
	var winner *Player
	for i := range game.Players {
		if !game.Players[i].IsEliminated {
			winner = &game.Players[i]
			break
		}
	}
	if winner == nil {
		// Every player eliminated in the same tally (shouldn't happen
		// given tie-breaker routing, but fail safe toward the house
		// rather than crediting nobody and losing the pot).
		e.logCritical("finish: no winner room=%s pot=%d", game.RoomID, game.Pot)
		e.cleanupRoomKeys(ctx, game.RoomID)
		return failSilent()
	}

	houseFee := game.Pot * config.HouseFeeNumerator / config.HouseFeeDenominator
	winnings := game.Pot - houseFee

	// A merchant tag on the winner redirects a slice of the house fee
	// to the merchant; it never reduces the winner's own payout.
	if merchantID, active, err := e.durable.ActiveMerchantFor(ctx, winner.UserID); err != nil {
		e.logCritical("finish: merchant lookup room=%s: %v", game.RoomID, err)
	} else if active {
		commission := houseFee * config.MerchantCommissionNumerator / config.MerchantCommissionDenominator
		if _, err := e.ledger.Credit(ctx, merchantID, "merchant", commission, "Lowcard merchant commission"); err != nil {
			e.logCritical("finish: UNREFUNDABLE merchant commission merchantId=%s room=%s amount=%d: %v", merchantID, game.RoomID, commission, err)
		}
	}

	if _, err := e.ledger.Credit(ctx, winner.UserID, winner.Username, winnings, "Lowcard win"); err != nil {
		e.logCritical("finish: UNREFUNDABLE winnings userId=%s room=%s amount=%d: %v", winner.UserID, game.RoomID, winnings, err)
	}
	if err := e.durable.InsertGameHistoryWin(ctx, winner.UserID, winner.Username, game.ID, winnings); err != nil {
		e.logCritical("finish: insert game_history win room=%s: %v", game.RoomID, err)
	}

	playerCount := len(game.Players)
	if err := e.durable.FinishLowcardGame(ctx, game.DBID, game.RoomID, winner.UserID, game.Pot, winnings, houseFee, playerCount); err != nil {
		e.logCritical("finish: finish lowcard_games room=%s: %v", game.RoomID, err)
	}

	game.Status = StatusFinished
	game.Phase = PhaseFinished
	game.WinnerID = winner.UserID
	game.WinnerUsername = winner.Username
	game.Winnings = winnings
	game.HouseFee = houseFee
	game.FinishedAt = e.now().UnixMilli()

	if err := e.saveGame(ctx, game); err != nil {
		e.logCritical("finish: save final snapshot room=%s: %v", game.RoomID, err)
	}

	e.cleanupRoomKeys(ctx, game.RoomID)

	e.bcast.To(game.RoomID, "game:finished", map[string]any{
		"winnerId": winner.UserID, "winnerUsername": winner.Username, "winnings": winnings, "houseFee": houseFee, "pot": game.Pot,
	})
	e.bcast.To(game.RoomID, "chat:message", map[string]any{"text": fmt.Sprintf("%s wins %d COINS! (pot %d, house fee %d)", winner.Username, winnings, game.Pot, houseFee)})
	e.bcast.To(game.RoomID, "credits:updated", map[string]any{"userId": winner.UserID})

	return ok("Finished.", map[string]any{"winnerId": winner.UserID, "winnings": winnings})
}
