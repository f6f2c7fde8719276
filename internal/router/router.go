// Package router is the Command Router (spec §4.4): the single place
// that turns a chat line into a call against the right game engine. It
// normalizes the raw text, looks up which game type (if any) owns the
// room, and dispatches to a bucket — admin/bot-management, lifecycle
// (start/cancel/stop/reset), or scoped play (join/draw) — refusing any
// play command whose bucket doesn't match the room's active game type
// (spec §2.6, §4.4).
package router

import (
	"context"
	"strconv"
	"strings"

	"lowcard/internal/lowcard"
)

const (
	gameTypeLowcard = "lowcard"
	gameTypeDice    = "dice"
	gameTypeFlagh   = "flagh"
)

// GameDirectory is the subset of internal/gamestate.Directory the
// router consults to decide which game type currently owns a room.
type GameDirectory interface {
	Active(ctx context.Context, roomID string) (string, error)
	SetActive(ctx context.Context, roomID, gameType string) error
	Clear(ctx context.Context, roomID string) error
}

// AdminChecker is the subset of the Durable Store the router uses to
// gate admin-only commands.
type AdminChecker interface {
	IsRoomAdmin(ctx context.Context, roomID, userID string) (bool, error)
	IsSystemAdmin(ctx context.Context, userID string) (bool, error)
}

// BotManager is mirrored at the interface level only (spec.md scopes
// DiceBot/FlagBot out in full); internal/dicebot provides a stub
// implementation so the admin dispatch table below is exercised.
type BotManager interface {
	SetEnabled(ctx context.Context, gameType, roomID string, active bool, defaultAmount int64) error
	IsEnabled(ctx context.Context, gameType, roomID string) (bool, error)
}

// LowcardEngine is the subset of internal/lowcard.Engine the router
// dispatches play/lifecycle commands to.
type LowcardEngine interface {
	StartGame(ctx context.Context, roomID, userID, username string, amount int64) lowcard.Result
	JoinGame(ctx context.Context, roomID, userID, username string) lowcard.Result
	DrawCardForPlayer(ctx context.Context, roomID, userID, username string) lowcard.Result
	CancelByStarter(ctx context.Context, roomID, userID string) lowcard.Result
	StopGame(ctx context.Context, roomID string) lowcard.Result
	ResetGame(ctx context.Context, roomID, byUsername string) lowcard.Result
}

// Command is one parsed chat line ready for dispatch.
type Command struct {
	RoomID   string
	UserID   string
	Username string
	Text     string
}

// Router holds every collaborator the dispatch table needs.
type Router struct {
	games   GameDirectory
	admin   AdminChecker
	bots    BotManager
	lowcard LowcardEngine
}

// New builds a Router.
func New(games GameDirectory, admin AdminChecker, bots BotManager, engine LowcardEngine) *Router {
	return &Router{games: games, admin: admin, bots: bots, lowcard: engine}
}

// Dispatch routes one chat command. A nil Result means the text wasn't
// a recognized command at all (plain chat, left untouched).
func (r *Router) Dispatch(ctx context.Context, cmd Command) *lowcard.Result {
	fields := strings.Fields(strings.TrimSpace(cmd.Text))
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(fields[0])
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch name {
	case "/bot":
		return r.dispatchBotCommand(ctx, cmd, fields[1:])
	case "/add":
		return r.dispatchAddBotCommand(ctx, cmd, fields[1:])
	case "!start":
		return r.startLowcard(ctx, cmd, arg)
	case "!j", "!join":
		return r.playLowcard(ctx, cmd, func() lowcard.Result {
			return r.lowcard.JoinGame(ctx, cmd.RoomID, cmd.UserID, cmd.Username)
		})
	case "!d":
		return r.playLowcard(ctx, cmd, func() lowcard.Result {
			return r.lowcard.DrawCardForPlayer(ctx, cmd.RoomID, cmd.UserID, cmd.Username)
		})
	case "!cancel", "!n":
		return r.playLowcard(ctx, cmd, func() lowcard.Result {
			return r.lowcard.CancelByStarter(ctx, cmd.RoomID, cmd.UserID)
		})
	case "!stop":
		return r.adminOnly(ctx, cmd, func() lowcard.Result {
			return r.lowcard.StopGame(ctx, cmd.RoomID)
		})
	case "!reset", "!rezet":
		return r.adminOnly(ctx, cmd, func() lowcard.Result {
			return r.lowcard.ResetGame(ctx, cmd.RoomID, cmd.Username)
		})
	default:
		return nil
	}
}

// dispatchBotCommand handles "/bot <game> <add|remove>" (spec §6.5).
// Only the lowcard game has a bot surface implemented here; DiceBot and
// FlagBot are mirrored at the interface level only, so "/bot dice …"
// and "/bot flagh …" are consumed silently rather than acted on.
func (r *Router) dispatchBotCommand(ctx context.Context, cmd Command, rest []string) *lowcard.Result {
	if len(rest) < 2 {
		return &lowcard.Result{Silent: true}
	}
	game := strings.ToLower(rest[0])
	action := strings.ToLower(rest[1])
	if game != gameTypeLowcard {
		return &lowcard.Result{Silent: true}
	}
	switch action {
	case "add":
		amount := int64(0)
		if len(rest) > 2 {
			amount, _ = strconv.ParseInt(rest[2], 10, 64)
		}
		return r.addLowcardBot(ctx, cmd, amount)
	case "remove":
		return r.removeLowcardBot(ctx, cmd)
	default:
		return &lowcard.Result{Silent: true}
	}
}

// dispatchAddBotCommand handles the "/add bot <game>" alternate
// phrasing spec §4.4 names alongside "/bot <game> add".
func (r *Router) dispatchAddBotCommand(ctx context.Context, cmd Command, rest []string) *lowcard.Result {
	if len(rest) < 2 || strings.ToLower(rest[0]) != "bot" || strings.ToLower(rest[1]) != gameTypeLowcard {
		return &lowcard.Result{Silent: true}
	}
	amount := int64(0)
	if len(rest) > 2 {
		amount, _ = strconv.ParseInt(rest[2], 10, 64)
	}
	return r.addLowcardBot(ctx, cmd, amount)
}

// addLowcardBot implements "/bot lowcard add" (spec §6.5): refuses if
// DiceBot or FlagBot is already running in the room, marks LowCard's
// own bot enabled, and claims the room for LowCard.
func (r *Router) addLowcardBot(ctx context.Context, cmd Command, defaultAmount int64) *lowcard.Result {
	isAdmin, err := r.isAdmin(ctx, cmd.RoomID, cmd.UserID)
	if err != nil || !isAdmin {
		return &lowcard.Result{Success: false, Message: "Admins only.", IsPvt: true}
	}

	diceActive, _ := r.bots.IsEnabled(ctx, gameTypeDice, cmd.RoomID)
	flaghActive, _ := r.bots.IsEnabled(ctx, gameTypeFlagh, cmd.RoomID)
	if diceActive || flaghActive {
		return &lowcard.Result{Success: false, Message: "Another bot is already running in this room.", IsPvt: true}
	}

	if err := r.bots.SetEnabled(ctx, gameTypeLowcard, cmd.RoomID, true, defaultAmount); err != nil {
		return &lowcard.Result{Success: false, Message: "Server busy, please try again.", IsPvt: true}
	}
	_ = r.games.SetActive(ctx, cmd.RoomID, gameTypeLowcard)
	return &lowcard.Result{Success: true, Message: "Bot is running", IsPvt: true}
}

// removeLowcardBot implements "/bot lowcard remove" (spec §6.5):
// refunds any waiting game and deletes its keys via StopGame, deletes
// the bot record, and clears the room's active game type.
func (r *Router) removeLowcardBot(ctx context.Context, cmd Command) *lowcard.Result {
	isAdmin, err := r.isAdmin(ctx, cmd.RoomID, cmd.UserID)
	if err != nil || !isAdmin {
		return &lowcard.Result{Success: false, Message: "Admins only.", IsPvt: true}
	}

	r.lowcard.StopGame(ctx, cmd.RoomID)
	_ = r.bots.SetEnabled(ctx, gameTypeLowcard, cmd.RoomID, false, 0)
	_ = r.games.Clear(ctx, cmd.RoomID)
	return &lowcard.Result{Success: true, Message: "Bot removed.", IsPvt: true}
}

func (r *Router) startLowcard(ctx context.Context, cmd Command, arg string) *lowcard.Result {
	active, err := r.games.Active(ctx, cmd.RoomID)
	if err != nil {
		res := lowcard.Result{Success: false, Message: "Server busy, please try again.", IsPvt: true}
		return &res
	}
	if active != "" && active != gameTypeLowcard {
		res := lowcard.Result{Success: false, Silent: true}
		return &res
	}

	amount, _ := strconv.ParseInt(arg, 10, 64)
	res := r.lowcard.StartGame(ctx, cmd.RoomID, cmd.UserID, cmd.Username, amount)
	if res.Success {
		_ = r.games.SetActive(ctx, cmd.RoomID, gameTypeLowcard)
	}
	return &res
}

// playLowcard refuses to run fn unless LowCard currently owns the
// room; this is the affinity check spec §4.4 requires of every scoped
// play command.
func (r *Router) playLowcard(ctx context.Context, cmd Command, fn func() lowcard.Result) *lowcard.Result {
	active, err := r.games.Active(ctx, cmd.RoomID)
	if err != nil || active != gameTypeLowcard {
		res := lowcard.Result{Silent: true}
		return &res
	}
	res := fn()
	return &res
}

func (r *Router) adminOnly(ctx context.Context, cmd Command, fn func() lowcard.Result) *lowcard.Result {
	isAdmin, err := r.isAdmin(ctx, cmd.RoomID, cmd.UserID)
	if err != nil || !isAdmin {
		res := lowcard.Result{Success: false, Message: "Admins only.", IsPvt: true}
		return &res
	}
	res := r.playLowcard(ctx, cmd, fn)
	if res != nil && res.Success {
		_ = r.games.Clear(ctx, cmd.RoomID)
	}
	return res
}

func (r *Router) isAdmin(ctx context.Context, roomID, userID string) (bool, error) {
	if sysAdmin, err := r.admin.IsSystemAdmin(ctx, userID); err != nil {
		return false, err
	} else if sysAdmin {
		return true, nil
	}
	return r.admin.IsRoomAdmin(ctx, roomID, userID)
}
