// Package ledger is the single source of truth for virtual-currency
// movement (spec §4.2). All engine error paths route through it; an
// engine must never deduct without a compensating refund path.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lowcard/config"
)

// DurableStore is the subset of the Durable Store the Ledger needs.
// *db.PostgresStore satisfies this structurally.
type DurableStore interface {
	GetCredits(ctx context.Context, userID string) (int64, error)
	DeductCredits(ctx context.Context, userID string, amount int64) (newBalance int64, applied bool, err error)
	CreditCredits(ctx context.Context, userID, username string, amount int64) (newBalance int64, err error)
	AppendCreditLog(ctx context.Context, userID, username string, amount int64, txType, description string) error
}

// CacheStore is the subset of the Keyed Store the Ledger reads and
// write-throughs the cached balance against.
type CacheStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// MerchantHook is the opaque merchant-tag commission collaborator
// (spec §1, §4.2). Tagged credits are consumed preferentially over a
// player's regular balance during a bet.
type MerchantHook interface {
	// TaggedBalance returns the tagged-credit balance available to
	// userID, or 0 if the user carries no merchant tag.
	TaggedBalance(ctx context.Context, userID string) (int64, error)
	// ConsumeForGame spends up to amount of tagged credits against a
	// game session, returning how much was actually consumed and how
	// much of the original bet remains to be taken from the regular
	// balance.
	ConsumeForGame(ctx context.Context, userID, game string, amount int64, gameSessionID string) (usedTaggedCredits int64, remainingAmount int64, err error)
}

// Ledger wires the durable store, the cached-balance keyed store, and
// the merchant hook together behind deduct/credit/read.
type Ledger struct {
	durable  DurableStore
	cache    CacheStore
	merchant MerchantHook
}

// New builds a Ledger. merchant may be nil, in which case every bet is
// taken entirely from the regular balance.
func New(durable DurableStore, cache CacheStore, merchant MerchantHook) *Ledger {
	return &Ledger{durable: durable, cache: cache, merchant: merchant}
}

// DeductResult is returned by Deduct.
type DeductResult struct {
	Success           bool
	Balance           int64
	UsedTaggedCredits int64
}

// Deduct implements spec §4.2's four-step protocol: ask the merchant
// hook first, fall through to a conditional decrement of users.credits
// for whatever the hook didn't cover, and log either way.
func (l *Ledger) Deduct(ctx context.Context, userID string, amount int64, username, reason, gameSessionID string) (DeductResult, error) {
	remaining := amount
	var usedTagged int64

	if l.merchant != nil {
		taggedBalance, err := l.merchant.TaggedBalance(ctx, userID)
		if err != nil {
			return DeductResult{}, fmt.Errorf("ledger deduct: tagged balance: %w", err)
		}
		if taggedBalance > 0 {
			used, remain, err := l.merchant.ConsumeForGame(ctx, userID, "lowcard", amount, gameSessionID)
			if err != nil {
				return DeductResult{}, fmt.Errorf("ledger deduct: consume for game: %w", err)
			}
			usedTagged = used
			remaining = remain
		}
	}

	if remaining <= 0 {
		if err := l.durable.AppendCreditLog(ctx, userID, username, -amount, "game_bet", reason+" (Tagged Credits)"); err != nil {
			return DeductResult{}, fmt.Errorf("ledger deduct: append log: %w", err)
		}
		balance, err := l.ReadBalance(ctx, userID)
		if err != nil {
			return DeductResult{}, fmt.Errorf("ledger deduct: read cached balance: %w", err)
		}
		return DeductResult{Success: true, Balance: balance, UsedTaggedCredits: usedTagged}, nil
	}

	newBalance, applied, err := l.durable.DeductCredits(ctx, userID, remaining)
	if err != nil {
		return DeductResult{}, fmt.Errorf("ledger deduct: conditional update: %w", err)
	}
	if !applied {
		return DeductResult{Success: false}, nil
	}

	if err := l.writeThrough(ctx, userID, newBalance); err != nil {
		return DeductResult{}, err
	}
	if err := l.durable.AppendCreditLog(ctx, userID, username, -remaining, "game_bet", reason); err != nil {
		return DeductResult{}, fmt.Errorf("ledger deduct: append log: %w", err)
	}

	return DeductResult{Success: true, Balance: newBalance, UsedTaggedCredits: usedTagged}, nil
}

// Credit unconditionally increments a user's balance: wins, refunds,
// and merchant-commission transfers all flow through here.
// The transaction type is game_refund when reason mentions a refund,
// otherwise game_win.
func (l *Ledger) Credit(ctx context.Context, userID, username string, amount int64, reason string) (int64, error) {
	newBalance, err := l.durable.CreditCredits(ctx, userID, username, amount)
	if err != nil {
		return 0, fmt.Errorf("ledger credit: %w", err)
	}

	if err := l.writeThrough(ctx, userID, newBalance); err != nil {
		return 0, err
	}

	txType := "game_win"
	if strings.Contains(strings.ToLower(reason), "refund") {
		txType = "game_refund"
	}
	if err := l.durable.AppendCreditLog(ctx, userID, username, amount, txType, reason); err != nil {
		return 0, fmt.Errorf("ledger credit: append log: %w", err)
	}

	return newBalance, nil
}

// ReadBalance implements spec §4.2's cache-aside read: consult
// credits:{userId} first, and only fall through to the durable store
// (repopulating the cache) on a miss.
func (l *Ledger) ReadBalance(ctx context.Context, userID string) (int64, error) {
	key := fmt.Sprintf(config.KeyCreditsCache, userID)
	if cached, found, err := l.cache.Get(ctx, key); err == nil && found {
		if balance, err := strconv.ParseInt(cached, 10, 64); err == nil {
			return balance, nil
		}
	}

	balance, err := l.durable.GetCredits(ctx, userID)
	if err != nil {
		return 0, err
	}
	_ = l.writeThrough(ctx, userID, balance)
	return balance, nil
}

// InvalidateCache clears the cached balance for userID, used by
// Restart Recovery after an out-of-band refund.
func (l *Ledger) InvalidateCache(ctx context.Context, userID string) error {
	key := fmt.Sprintf(config.KeyCreditsCache, userID)
	return l.cache.Delete(ctx, key)
}

func (l *Ledger) writeThrough(ctx context.Context, userID string, balance int64) error {
	key := fmt.Sprintf(config.KeyCreditsCache, userID)
	if err := l.cache.Set(ctx, key, fmt.Sprintf("%d", balance), config.CreditsCacheTTL); err != nil {
		return fmt.Errorf("ledger write-through: %w", err)
	}
	return nil
}
