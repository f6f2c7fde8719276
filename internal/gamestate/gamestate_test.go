package gamestate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{data: map[string]string{}} }

func (f *fakeStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}
func (f *fakeStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.data[key] = value
	return nil
}
func (f *fakeStore) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}
func (f *fakeStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	prefix, suffix, _ := strings.Cut(pattern, "*")
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) && strings.HasSuffix(k, suffix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func TestDirectory_SetActiveThenActiveRoundTrips(t *testing.T) {
	d := New(newFakeStore())
	ctx := context.Background()

	require.NoError(t, d.SetActive(ctx, "room1", "lowcard"))

	got, err := d.Active(ctx, "room1")
	require.NoError(t, err)
	require.Equal(t, "lowcard", got)
}

func TestDirectory_ActiveEmptyWhenUnset(t *testing.T) {
	d := New(newFakeStore())
	got, err := d.Active(context.Background(), "unknown-room")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDirectory_ClearRemovesMarker(t *testing.T) {
	d := New(newFakeStore())
	ctx := context.Background()
	require.NoError(t, d.SetActive(ctx, "room1", "lowcard"))
	require.NoError(t, d.Clear(ctx, "room1"))

	got, err := d.Active(ctx, "room1")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDirectory_ListActiveReturnsEveryMarkedRoom(t *testing.T) {
	d := New(newFakeStore())
	ctx := context.Background()
	require.NoError(t, d.SetActive(ctx, "room1", "lowcard"))
	require.NoError(t, d.SetActive(ctx, "room2", "dicebot"))

	rooms, err := d.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)

	byRoom := map[string]string{}
	for _, r := range rooms {
		byRoom[r.RoomID] = r.GameType
	}
	require.Equal(t, "lowcard", byRoom["room1"])
	require.Equal(t, "dicebot", byRoom["room2"])
}
