package router

import (
	"context"
	"testing"

	"lowcard/internal/lowcard"

	"github.com/stretchr/testify/require"
)

type fakeGames struct {
	active map[string]string
}

func newFakeGames() *fakeGames { return &fakeGames{active: map[string]string{}} }

func (f *fakeGames) Active(ctx context.Context, roomID string) (string, error) {
	return f.active[roomID], nil
}
func (f *fakeGames) SetActive(ctx context.Context, roomID, gameType string) error {
	f.active[roomID] = gameType
	return nil
}
func (f *fakeGames) Clear(ctx context.Context, roomID string) error {
	delete(f.active, roomID)
	return nil
}

type fakeAdmin struct {
	roomAdmins map[string]bool
	sysAdmins  map[string]bool
}

func (f *fakeAdmin) IsRoomAdmin(ctx context.Context, roomID, userID string) (bool, error) {
	return f.roomAdmins[roomID+":"+userID], nil
}
func (f *fakeAdmin) IsSystemAdmin(ctx context.Context, userID string) (bool, error) {
	return f.sysAdmins[userID], nil
}

type fakeBots struct {
	enabled map[string]bool
}

func (f *fakeBots) SetEnabled(ctx context.Context, gameType, roomID string, active bool, defaultAmount int64) error {
	if f.enabled == nil {
		f.enabled = map[string]bool{}
	}
	f.enabled[gameType+":"+roomID] = active
	return nil
}
func (f *fakeBots) IsEnabled(ctx context.Context, gameType, roomID string) (bool, error) {
	return f.enabled[gameType+":"+roomID], nil
}

type fakeEngine struct {
	started bool
	joined  bool
	drawn   bool
	stopped bool
}

func (f *fakeEngine) StartGame(ctx context.Context, roomID, userID, username string, amount int64) lowcard.Result {
	f.started = true
	return lowcard.Result{Success: true}
}
func (f *fakeEngine) JoinGame(ctx context.Context, roomID, userID, username string) lowcard.Result {
	f.joined = true
	return lowcard.Result{Success: true}
}
func (f *fakeEngine) DrawCardForPlayer(ctx context.Context, roomID, userID, username string) lowcard.Result {
	f.drawn = true
	return lowcard.Result{Success: true}
}
func (f *fakeEngine) CancelByStarter(ctx context.Context, roomID, userID string) lowcard.Result {
	return lowcard.Result{Success: true}
}
func (f *fakeEngine) StopGame(ctx context.Context, roomID string) lowcard.Result {
	f.stopped = true
	return lowcard.Result{Success: true}
}
func (f *fakeEngine) ResetGame(ctx context.Context, roomID, byUsername string) lowcard.Result {
	return lowcard.Result{Success: true}
}

func TestDispatch_StartClaimsRoomForLowcard(t *testing.T) {
	games := newFakeGames()
	engine := &fakeEngine{}
	r := New(games, &fakeAdmin{}, &fakeBots{}, engine)

	res := r.Dispatch(context.Background(), Command{RoomID: "room1", UserID: "u1", Username: "alice", Text: "!start 10"})
	require.NotNil(t, res)
	require.True(t, res.Success)
	require.True(t, engine.started)
	require.Equal(t, "lowcard", games.active["room1"])
}

func TestDispatch_NIsAnAliasForCancel(t *testing.T) {
	games := newFakeGames()
	games.active["room1"] = "lowcard"
	engine := &fakeEngine{}
	r := New(games, &fakeAdmin{}, &fakeBots{}, engine)

	res := r.Dispatch(context.Background(), Command{RoomID: "room1", UserID: "u1", Username: "alice", Text: "!n"})
	require.NotNil(t, res)
	require.True(t, res.Success)
}

func TestDispatch_RezetIsAnAliasForReset(t *testing.T) {
	games := newFakeGames()
	games.active["room1"] = "lowcard"
	engine := &fakeEngine{}
	admin := &fakeAdmin{sysAdmins: map[string]bool{"u1": true}}
	r := New(games, admin, &fakeBots{}, engine)

	res := r.Dispatch(context.Background(), Command{RoomID: "room1", UserID: "u1", Username: "alice", Text: "!rezet"})
	require.NotNil(t, res)
	require.True(t, res.Success)
	require.Equal(t, "", games.active["room1"])
}

func TestDispatch_BotLowcardAddRequiresAdmin(t *testing.T) {
	games := newFakeGames()
	engine := &fakeEngine{}
	admin := &fakeAdmin{roomAdmins: map[string]bool{}, sysAdmins: map[string]bool{}}
	r := New(games, admin, &fakeBots{}, engine)

	res := r.Dispatch(context.Background(), Command{RoomID: "room1", UserID: "u1", Username: "alice", Text: "/bot lowcard add"})
	require.NotNil(t, res)
	require.False(t, res.Success)

	admin.roomAdmins = map[string]bool{"room1:u1": true}
	res = r.Dispatch(context.Background(), Command{RoomID: "room1", UserID: "u1", Username: "alice", Text: "/bot lowcard add"})
	require.NotNil(t, res)
	require.True(t, res.Success)
	require.Equal(t, "lowcard", games.active["room1"])
}

func TestDispatch_BotLowcardAddRefusedWhenDiceBotActive(t *testing.T) {
	games := newFakeGames()
	engine := &fakeEngine{}
	admin := &fakeAdmin{roomAdmins: map[string]bool{"room1:u1": true}}
	bots := &fakeBots{enabled: map[string]bool{"dice:room1": true}}
	r := New(games, admin, bots, engine)

	res := r.Dispatch(context.Background(), Command{RoomID: "room1", UserID: "u1", Username: "alice", Text: "/bot lowcard add"})
	require.NotNil(t, res)
	require.False(t, res.Success)
}

func TestDispatch_AddBotAlternatePhrasing(t *testing.T) {
	games := newFakeGames()
	engine := &fakeEngine{}
	admin := &fakeAdmin{roomAdmins: map[string]bool{"room1:u1": true}}
	r := New(games, admin, &fakeBots{}, engine)

	res := r.Dispatch(context.Background(), Command{RoomID: "room1", UserID: "u1", Username: "alice", Text: "/add bot lowcard"})
	require.NotNil(t, res)
	require.True(t, res.Success)
	require.Equal(t, "lowcard", games.active["room1"])
}

func TestDispatch_BotLowcardRemoveClearsActiveAndStopsGame(t *testing.T) {
	games := newFakeGames()
	games.active["room1"] = "lowcard"
	engine := &fakeEngine{}
	admin := &fakeAdmin{roomAdmins: map[string]bool{"room1:u1": true}}
	bots := &fakeBots{enabled: map[string]bool{"lowcard:room1": true}}
	r := New(games, admin, bots, engine)

	res := r.Dispatch(context.Background(), Command{RoomID: "room1", UserID: "u1", Username: "alice", Text: "/bot lowcard remove"})
	require.NotNil(t, res)
	require.True(t, res.Success)
	require.True(t, engine.stopped)
	require.False(t, bots.enabled["lowcard:room1"])
	require.Equal(t, "", games.active["room1"])
}

func TestDispatch_JoinRefusedWhenLowcardNotActive(t *testing.T) {
	games := newFakeGames()
	engine := &fakeEngine{}
	r := New(games, &fakeAdmin{}, &fakeBots{}, engine)

	res := r.Dispatch(context.Background(), Command{RoomID: "room1", UserID: "u2", Username: "bob", Text: "!j"})
	require.NotNil(t, res)
	require.True(t, res.Silent)
	require.False(t, engine.joined)
}

func TestDispatch_JoinDispatchesWhenLowcardActive(t *testing.T) {
	games := newFakeGames()
	games.active["room1"] = "lowcard"
	engine := &fakeEngine{}
	r := New(games, &fakeAdmin{}, &fakeBots{}, engine)

	res := r.Dispatch(context.Background(), Command{RoomID: "room1", UserID: "u2", Username: "bob", Text: "!j"})
	require.NotNil(t, res)
	require.True(t, engine.joined)
}

func TestDispatch_StopRequiresAdmin(t *testing.T) {
	games := newFakeGames()
	games.active["room1"] = "lowcard"
	engine := &fakeEngine{}
	admin := &fakeAdmin{roomAdmins: map[string]bool{}, sysAdmins: map[string]bool{}}
	r := New(games, admin, &fakeBots{}, engine)

	res := r.Dispatch(context.Background(), Command{RoomID: "room1", UserID: "u3", Username: "carol", Text: "!stop"})
	require.False(t, res.Success)
	require.False(t, engine.stopped)

	admin.roomAdmins = map[string]bool{"room1:u3": true}
	res = r.Dispatch(context.Background(), Command{RoomID: "room1", UserID: "u3", Username: "carol", Text: "!stop"})
	require.True(t, res.Success)
	require.True(t, engine.stopped)
	require.Equal(t, "", games.active["room1"])
}

func TestDispatch_UnknownCommandReturnsNil(t *testing.T) {
	r := New(newFakeGames(), &fakeAdmin{}, &fakeBots{}, &fakeEngine{})
	res := r.Dispatch(context.Background(), Command{Text: "hello everyone"})
	require.Nil(t, res)
}
