package lowcard

import (
	"context"
	"testing"
	"time"

	"lowcard/internal/deck"
	"lowcard/internal/ledger"

	"github.com/stretchr/testify/require"
)

/* ===== fakes ===== */

type fakeKeyedStore struct {
	data map[string]string
}

func newFakeKeyedStore() *fakeKeyedStore { return &fakeKeyedStore{data: map[string]string{}} }

func (f *fakeKeyedStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}
func (f *fakeKeyedStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.data[key] = value
	return nil
}
func (f *fakeKeyedStore) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

type fakeLocker struct{ held map[string]string }

func newFakeLocker() *fakeLocker { return &fakeLocker{held: map[string]string{}} }

func (f *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if _, busy := f.held[key]; busy {
		return "", false, nil
	}
	f.held[key] = "tok"
	return "tok", true, nil
}
func (f *fakeLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, attempts int, delay time.Duration) (string, bool, error) {
	return f.Acquire(ctx, key, ttl)
}
func (f *fakeLocker) Release(ctx context.Context, key, token string) error {
	delete(f.held, key)
	return nil
}

type fakeDurable struct {
	roomNames     map[string]string
	merchants     map[string]string
	historyLoses  int
	historyWins   int
	finishedGames int
	nextGameID    int64
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{roomNames: map[string]string{}, merchants: map[string]string{}}
}

func (f *fakeDurable) RoomName(ctx context.Context, roomID string) (string, error) {
	return f.roomNames[roomID], nil
}
func (f *fakeDurable) InsertGameHistoryLose(ctx context.Context, userID, username, sessionID string) error {
	f.historyLoses++
	return nil
}
func (f *fakeDurable) InsertGameHistoryWin(ctx context.Context, userID, username, sessionID string, reward int64) error {
	f.historyWins++
	return nil
}
func (f *fakeDurable) InsertLowcardGame(ctx context.Context, roomID, startedBy string, entryAmount int64) (int64, error) {
	f.nextGameID++
	return f.nextGameID, nil
}
func (f *fakeDurable) FinishLowcardGame(ctx context.Context, dbID int64, roomID, winnerID string, pot, winnings, houseFee int64, playerCount int) error {
	f.finishedGames++
	return nil
}
func (f *fakeDurable) ActiveMerchantFor(ctx context.Context, userID string) (string, bool, error) {
	m, ok := f.merchants[userID]
	return m, ok, nil
}

type fakeLedgerDurable struct {
	balances map[string]int64
}

func (f *fakeLedgerDurable) GetCredits(ctx context.Context, userID string) (int64, error) {
	return f.balances[userID], nil
}
func (f *fakeLedgerDurable) DeductCredits(ctx context.Context, userID string, amount int64) (int64, bool, error) {
	if f.balances[userID] < amount {
		return f.balances[userID], false, nil
	}
	f.balances[userID] -= amount
	return f.balances[userID], true, nil
}
func (f *fakeLedgerDurable) CreditCredits(ctx context.Context, userID, username string, amount int64) (int64, error) {
	f.balances[userID] += amount
	return f.balances[userID], nil
}
func (f *fakeLedgerDurable) AppendCreditLog(ctx context.Context, userID, username string, amount int64, txType, description string) error {
	return nil
}

type fakeLedgerCache struct{}

func (f *fakeLedgerCache) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeLedgerCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return nil
}
func (f *fakeLedgerCache) Delete(ctx context.Context, keys ...string) error { return nil }

type fakeBroadcaster struct {
	events   []string
	payloads []any
}

func (f *fakeBroadcaster) To(roomID, event string, payload any) {
	f.events = append(f.events, event)
	f.payloads = append(f.payloads, payload)
}

// lastPayload returns the payload of the most recent emission of event,
// or nil if event was never emitted.
func (f *fakeBroadcaster) lastPayload(event string) any {
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i] == event {
			return f.payloads[i]
		}
	}
	return nil
}

/* ===== harness ===== */

func newTestEngine(t *testing.T, cards []deck.Card) (*Engine, *fakeDurable, *fakeLedgerDurable, *fakeBroadcaster) {
	t.Helper()

	store := newFakeKeyedStore()
	locker := newFakeLocker()
	durable := newFakeDurable()
	ledgerDurable := &fakeLedgerDurable{balances: map[string]int64{}}
	ledgerCache := &fakeLedgerCache{}
	ldg := ledger.New(ledgerDurable, ledgerCache, nil)
	deckSvc := &stubDeck{cards: cards}
	bcast := &fakeBroadcaster{}

	idSeq := 0
	newID := func() string {
		idSeq++
		return "game-" + string(rune('a'+idSeq))
	}

	e := New(store, durable, locker, ldg, deckSvc, bcast, newID)
	return e, durable, ledgerDurable, bcast
}

// stubDeck serves cards from a fixed slice in order, looping if
// exhausted, to pin exact draw outcomes in tests (spec's "injected RNG"
// determinism requirement without pulling in the real shuffle).
type stubDeck struct {
	cards []deck.Card
	pos   int
}

func (d *stubDeck) Draw(ctx context.Context, roomID string) (deck.Card, error) {
	c := d.cards[d.pos%len(d.cards)]
	d.pos++
	return c, nil
}
func (d *stubDeck) Reset(ctx context.Context, roomID string) error { return nil }

func card(value int) deck.Card { return deck.Card{Value: value, Suit: "h"} }

/* ===== tests ===== */

func TestStartGame_BumpsZeroAmountToMinimumEntry(t *testing.T) {
	e, _, ledgerDurable, _ := newTestEngine(t, []deck.Card{card(5)})
	ledgerDurable.balances["alice"] = 100

	res := e.StartGame(context.Background(), "room1", "alice", "alice", 0)
	require.True(t, res.Success)
	require.Equal(t, int64(99), ledgerDurable.balances["alice"])

	game, err := e.loadGame(context.Background(), "room1")
	require.NoError(t, err)
	require.Equal(t, int64(1), game.EntryAmount)
}

func TestStartGame_InsufficientFunds(t *testing.T) {
	e, _, ledgerDurable, _ := newTestEngine(t, []deck.Card{card(5)})
	ledgerDurable.balances["alice"] = 0

	res := e.StartGame(context.Background(), "room1", "alice", "alice", 10)
	require.False(t, res.Success)
	require.Equal(t, "Not enough credits.", res.Message)
}

func TestStartGame_RefusesWhenGameAlreadyInProgress(t *testing.T) {
	e, _, ledgerDurable, _ := newTestEngine(t, []deck.Card{card(5)})
	ledgerDurable.balances["alice"] = 100
	ledgerDurable.balances["bob"] = 100

	require.True(t, e.StartGame(context.Background(), "room1", "alice", "alice", 10).Success)
	res := e.StartGame(context.Background(), "room1", "bob", "bob", 10)
	require.False(t, res.Success)
	require.Equal(t, int64(100), ledgerDurable.balances["bob"])
}

func TestJoinGame_SecondPlayerJoinsAndPotGrows(t *testing.T) {
	e, _, ledgerDurable, _ := newTestEngine(t, []deck.Card{card(5)})
	ledgerDurable.balances["alice"] = 100
	ledgerDurable.balances["bob"] = 100

	require.True(t, e.StartGame(context.Background(), "room1", "alice", "alice", 10).Success)
	res := e.JoinGame(context.Background(), "room1", "bob", "bob")
	require.True(t, res.Success)

	game, _ := e.loadGame(context.Background(), "room1")
	require.Equal(t, int64(20), game.Pot)
	require.Len(t, game.Players, 2)
}

func TestJoinGame_SameUserTwiceRejected(t *testing.T) {
	e, _, ledgerDurable, _ := newTestEngine(t, []deck.Card{card(5)})
	ledgerDurable.balances["alice"] = 100

	require.True(t, e.StartGame(context.Background(), "room1", "alice", "alice", 10).Success)
	res := e.JoinGame(context.Background(), "room1", "alice", "alice")
	require.False(t, res.Success)
	require.Equal(t, "You have already joined.", res.Message)
}

func TestBeginGame_FewerThanTwoPlayersRefundsAndCancels(t *testing.T) {
	e, _, ledgerDurable, bcast := newTestEngine(t, []deck.Card{card(5)})
	ledgerDurable.balances["alice"] = 100

	require.True(t, e.StartGame(context.Background(), "room1", "alice", "alice", 10).Success)
	res := e.BeginGame(context.Background(), "room1")
	require.True(t, res.Success)
	require.Equal(t, int64(100), ledgerDurable.balances["alice"])

	game, _ := e.loadGame(context.Background(), "room1")
	require.Nil(t, game)
	require.Contains(t, bcast.events, "game:cancelled")
}

func TestFullRound_TwoPlayersLowestCardEliminatedAndWinnerPaid(t *testing.T) {
	// alice draws 5 (low), bob draws 10 (high) -> bob wins.
	e, durable, ledgerDurable, bcast := newTestEngine(t, []deck.Card{card(5), card(10)})
	ledgerDurable.balances["alice"] = 100
	ledgerDurable.balances["bob"] = 100

	ctx := context.Background()
	require.True(t, e.StartGame(ctx, "room1", "alice", "alice", 10).Success)
	require.True(t, e.JoinGame(ctx, "room1", "bob", "bob").Success)
	require.True(t, e.BeginGame(ctx, "room1").Success)

	game, _ := e.loadGame(ctx, "room1")
	game.CountdownEndsAt = 0 // fast-forward past countdown for the test
	require.NoError(t, e.saveGame(ctx, game))

	require.True(t, e.DrawCardForPlayer(ctx, "room1", "alice", "alice").Success)
	require.True(t, e.DrawCardForPlayer(ctx, "room1", "bob", "bob").Success)

	require.Equal(t, int64(108), ledgerDurable.balances["bob"]) // 100-10 bet +18 winnings (pot 20, fee 2)
	require.Equal(t, int64(90), ledgerDurable.balances["alice"])
	require.Equal(t, 1, durable.finishedGames)
	require.Contains(t, bcast.events, "game:finished")

	finished, _ := e.loadGame(ctx, "room1")
	require.Nil(t, finished)
}

func TestFullRound_TieSendsOnlyTiedPlayersToTieBreaker(t *testing.T) {
	// alice=5, bob=5 (tie), carol=10 -> alice and bob tie-break while carol sits out.
	e, _, ledgerDurable, bcast := newTestEngine(t, []deck.Card{card(5), card(5), card(10)})
	ledgerDurable.balances["alice"] = 100
	ledgerDurable.balances["bob"] = 100
	ledgerDurable.balances["carol"] = 100

	ctx := context.Background()
	require.True(t, e.StartGame(ctx, "room1", "alice", "alice", 10).Success)
	require.True(t, e.JoinGame(ctx, "room1", "bob", "bob").Success)
	require.True(t, e.JoinGame(ctx, "room1", "carol", "carol").Success)
	require.True(t, e.BeginGame(ctx, "room1").Success)

	game, _ := e.loadGame(ctx, "room1")
	game.CountdownEndsAt = 0
	require.NoError(t, e.saveGame(ctx, game))

	require.True(t, e.DrawCardForPlayer(ctx, "room1", "alice", "alice").Success)
	require.True(t, e.DrawCardForPlayer(ctx, "room1", "bob", "bob").Success)
	require.True(t, e.DrawCardForPlayer(ctx, "room1", "carol", "carol").Success)

	require.Contains(t, bcast.events, "game:round:tallied")
	require.Equal(t, "tie", bcast.lastPayload("game:round:tallied").(map[string]any)["reason"])

	game, _ = e.loadGame(ctx, "room1")
	require.True(t, game.IsTieBreaker)
	require.True(t, game.WasTieBreaker)
	require.True(t, game.Players[game.PlayerIndex("alice")].InTieBreaker)
	require.True(t, game.Players[game.PlayerIndex("bob")].InTieBreaker)
	require.False(t, game.Players[game.PlayerIndex("carol")].InTieBreaker)
	require.False(t, game.Players[game.PlayerIndex("carol")].IsEliminated)
}

func TestFullRound_TieBreakResolutionPrependsTieBrokenToNextRoundBroadcast(t *testing.T) {
	// Round 1: alice=5, bob=5 tie, carol=10 sits out. Tie-break: alice=3
	// (eliminated), bob=9. Bob and carol survive into round 2.
	e, _, ledgerDurable, bcast := newTestEngine(t, []deck.Card{card(5), card(5), card(10), card(3), card(9)})
	ledgerDurable.balances["alice"] = 100
	ledgerDurable.balances["bob"] = 100
	ledgerDurable.balances["carol"] = 100

	ctx := context.Background()
	require.True(t, e.StartGame(ctx, "room1", "alice", "alice", 10).Success)
	require.True(t, e.JoinGame(ctx, "room1", "bob", "bob").Success)
	require.True(t, e.JoinGame(ctx, "room1", "carol", "carol").Success)
	require.True(t, e.BeginGame(ctx, "room1").Success)

	game, _ := e.loadGame(ctx, "room1")
	game.CountdownEndsAt = 0
	require.NoError(t, e.saveGame(ctx, game))

	require.True(t, e.DrawCardForPlayer(ctx, "room1", "alice", "alice").Success)
	require.True(t, e.DrawCardForPlayer(ctx, "room1", "bob", "bob").Success)
	require.True(t, e.DrawCardForPlayer(ctx, "room1", "carol", "carol").Success)

	game, _ = e.loadGame(ctx, "room1")
	require.True(t, game.WasTieBreaker)
	game.CountdownEndsAt = 0
	require.NoError(t, e.saveGame(ctx, game))

	require.True(t, e.DrawCardForPlayer(ctx, "room1", "alice", "alice").Success)
	require.True(t, e.DrawCardForPlayer(ctx, "room1", "bob", "bob").Success)

	require.Contains(t, bcast.events, "game:round:started")
	chatText := bcast.lastPayload("chat:message").(map[string]any)["text"]
	require.Contains(t, chatText, "Tie broken!")

	game, _ = e.loadGame(ctx, "room1")
	require.False(t, game.WasTieBreaker)
	require.True(t, game.Players[game.PlayerIndex("alice")].IsEliminated)
	require.False(t, game.Players[game.PlayerIndex("bob")].IsEliminated)
}

func TestCancelByStarter_OnlyStarterCanCancel(t *testing.T) {
	e, _, ledgerDurable, _ := newTestEngine(t, []deck.Card{card(5)})
	ledgerDurable.balances["alice"] = 100
	ledgerDurable.balances["bob"] = 100

	ctx := context.Background()
	require.True(t, e.StartGame(ctx, "room1", "alice", "alice", 10).Success)
	require.True(t, e.JoinGame(ctx, "room1", "bob", "bob").Success)

	res := e.CancelByStarter(ctx, "room1", "bob")
	require.False(t, res.Success)

	res = e.CancelByStarter(ctx, "room1", "alice")
	require.True(t, res.Success)
	require.Equal(t, int64(100), ledgerDurable.balances["alice"])
	require.Equal(t, int64(100), ledgerDurable.balances["bob"])
}

func TestCheckAndCleanupStaleGame_RefundsAfterAbsoluteStaleness(t *testing.T) {
	e, _, ledgerDurable, _ := newTestEngine(t, []deck.Card{card(5)})
	ledgerDurable.balances["alice"] = 100

	ctx := context.Background()
	require.True(t, e.StartGame(ctx, "room1", "alice", "alice", 10).Success)

	future := time.Now().Add(3 * time.Minute)
	e.SetClock(func() time.Time { return future })

	require.NoError(t, e.checkAndCleanupStaleGame(ctx, "room1"))
	require.Equal(t, int64(100), ledgerDurable.balances["alice"])

	game, _ := e.loadGame(ctx, "room1")
	require.Nil(t, game)
}
