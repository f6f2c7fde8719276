package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type logEntry struct {
	userID, txType, description string
	amount                      int64
}

type fakeDurable struct {
	balances map[string]int64
	logs     []logEntry
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{balances: make(map[string]int64)}
}

func (f *fakeDurable) GetCredits(_ context.Context, userID string) (int64, error) {
	return f.balances[userID], nil
}

func (f *fakeDurable) DeductCredits(_ context.Context, userID string, amount int64) (int64, bool, error) {
	if f.balances[userID] < amount {
		return 0, false, nil
	}
	f.balances[userID] -= amount
	return f.balances[userID], true, nil
}

func (f *fakeDurable) CreditCredits(_ context.Context, userID, _ string, amount int64) (int64, error) {
	f.balances[userID] += amount
	return f.balances[userID], nil
}

func (f *fakeDurable) AppendCreditLog(_ context.Context, userID, _ string, amount int64, txType, description string) error {
	f.logs = append(f.logs, logEntry{userID: userID, amount: amount, txType: txType, description: description})
	return nil
}

type fakeCache struct {
	data map[string]string
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string]string)} }

func (f *fakeCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.data[key] = value
	return nil
}

func (f *fakeCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

type noTagMerchant struct{}

func (noTagMerchant) TaggedBalance(context.Context, string) (int64, error) { return 0, nil }
func (noTagMerchant) ConsumeForGame(context.Context, string, string, int64, string) (int64, int64, error) {
	return 0, 0, nil
}

type taggedMerchant struct{ balance int64 }

func (t *taggedMerchant) TaggedBalance(context.Context, string) (int64, error) { return t.balance, nil }
func (t *taggedMerchant) ConsumeForGame(_ context.Context, _, _ string, amount int64, _ string) (int64, int64, error) {
	used := amount
	if used > t.balance {
		used = t.balance
	}
	t.balance -= used
	return used, amount - used, nil
}

func TestDeduct_InsufficientFundsFails(t *testing.T) {
	durable := newFakeDurable()
	l := New(durable, newFakeCache(), noTagMerchant{})

	res, err := l.Deduct(context.Background(), "alice", 10, "Alice", "Lowcard bet", "sess1")
	require.NoError(t, err)
	require.False(t, res.Success)
}

func TestDeduct_RegularBalance_WritesThroughAndLogs(t *testing.T) {
	durable := newFakeDurable()
	durable.balances["alice"] = 100
	cache := newFakeCache()
	l := New(durable, cache, noTagMerchant{})

	res, err := l.Deduct(context.Background(), "alice", 10, "Alice", "Lowcard bet", "sess1")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.EqualValues(t, 90, res.Balance)
	require.Equal(t, "90", cache.data["credits:alice"])
	require.Len(t, durable.logs, 1)
	require.Equal(t, "game_bet", durable.logs[0].txType)
}

func TestDeduct_TaggedCreditsCoverFullAmount(t *testing.T) {
	durable := newFakeDurable()
	durable.balances["alice"] = 100
	merchant := &taggedMerchant{balance: 50}
	l := New(durable, newFakeCache(), merchant)

	res, err := l.Deduct(context.Background(), "alice", 10, "Alice", "Lowcard bet", "sess1")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.EqualValues(t, 10, res.UsedTaggedCredits)
	// Regular balance must be untouched — tagged credits covered it all.
	require.EqualValues(t, 100, durable.balances["alice"])
	require.Contains(t, durable.logs[0].description, "Tagged Credits")
}

func TestDeduct_TaggedCreditsPartial_FallsThroughToRegularBalance(t *testing.T) {
	durable := newFakeDurable()
	durable.balances["alice"] = 100
	merchant := &taggedMerchant{balance: 4}
	l := New(durable, newFakeCache(), merchant)

	res, err := l.Deduct(context.Background(), "alice", 10, "Alice", "Lowcard bet", "sess1")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.EqualValues(t, 4, res.UsedTaggedCredits)
	require.EqualValues(t, 94, durable.balances["alice"])
}

func TestCredit_RefundReasonUsesRefundTransactionType(t *testing.T) {
	durable := newFakeDurable()
	l := New(durable, newFakeCache(), noTagMerchant{})

	_, err := l.Credit(context.Background(), "alice", "Alice", 10, "Lowcard Refund - cancelled")
	require.NoError(t, err)
	require.Equal(t, "game_refund", durable.logs[0].txType)
}

func TestCredit_WinReasonUsesWinTransactionType(t *testing.T) {
	durable := newFakeDurable()
	l := New(durable, newFakeCache(), noTagMerchant{})

	_, err := l.Credit(context.Background(), "carol", "Carol", 27, "Lowcard win")
	require.NoError(t, err)
	require.Equal(t, "game_win", durable.logs[0].txType)
}

func TestConservation_DeductThenRefundNetsZero(t *testing.T) {
	durable := newFakeDurable()
	durable.balances["alice"] = 50
	l := New(durable, newFakeCache(), noTagMerchant{})

	before := durable.balances["alice"]
	res, err := l.Deduct(context.Background(), "alice", 10, "Alice", "Lowcard bet", "sess1")
	require.NoError(t, err)
	require.True(t, res.Success)

	_, err = l.Credit(context.Background(), "alice", "Alice", 10, "Lowcard Refund")
	require.NoError(t, err)

	require.Equal(t, before, durable.balances["alice"])
}

func TestReadBalance_CacheHitSkipsDurableStore(t *testing.T) {
	durable := newFakeDurable()
	durable.balances["alice"] = 999
	cache := newFakeCache()
	cache.data["credits:alice"] = "42"
	l := New(durable, cache, noTagMerchant{})

	balance, err := l.ReadBalance(context.Background(), "alice")
	require.NoError(t, err)
	require.EqualValues(t, 42, balance)
}

func TestReadBalance_CacheMissFallsThroughAndRepopulates(t *testing.T) {
	durable := newFakeDurable()
	durable.balances["alice"] = 75
	cache := newFakeCache()
	l := New(durable, cache, noTagMerchant{})

	balance, err := l.ReadBalance(context.Background(), "alice")
	require.NoError(t, err)
	require.EqualValues(t, 75, balance)
	require.Equal(t, "75", cache.data["credits:alice"])
}

func TestReadBalance_InvalidatedCacheFallsThroughToDurable(t *testing.T) {
	durable := newFakeDurable()
	durable.balances["alice"] = 30
	cache := newFakeCache()
	cache.data["credits:alice"] = "999"
	l := New(durable, cache, noTagMerchant{})

	require.NoError(t, l.InvalidateCache(context.Background(), "alice"))

	balance, err := l.ReadBalance(context.Background(), "alice")
	require.NoError(t, err)
	require.EqualValues(t, 30, balance)
}
