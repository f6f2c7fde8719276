// Package lowcard implements the LowCard game engine: a per-room
// finite state machine with wall-clock deadlines, driven by timed
// polling rather than suspended computations (spec §4.7).
package lowcard

import (
	"lowcard/internal/deck"
)

// Status is the game's coarse lifecycle phase (spec §3.2, invariant I3).
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Phase is the finer-grained state (spec §4.7), stored in the snapshot
// next to Status and in the timer record. The engine's guards check
// Status; the Timer Poller dispatches on the phase of the timer record.
type Phase string

const (
	PhaseAbsent       Phase = "absent"
	PhaseWaiting      Phase = "waiting"
	PhaseCountdown    Phase = "countdown"
	PhaseDrawing      Phase = "drawing"
	PhaseTieCountdown Phase = "tie-countdown"
	PhaseTieDrawing   Phase = "tie-drawing"
	PhaseFinished     Phase = "finished"
)

// Card is an alias of the Deck Service's card type so callers outside
// this package never need to import internal/deck directly.
type Card = deck.Card

// Player is one seat in a LowCard game (spec §3.2).
type Player struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	IsEliminated bool   `json:"isEliminated"`
	HasDrawn     bool   `json:"hasDrawn"`
	CurrentCard  *Card  `json:"currentCard,omitempty"`
	InTieBreaker bool   `json:"inTieBreaker"`
}

// Game is the full snapshot persisted at lowcard:game:{roomId}
// (spec §3.2).
type Game struct {
	ID       string `json:"id"`
	DBID     int64  `json:"dbId"`
	RoomID   string `json:"roomId"`
	Status   Status `json:"status"`
	Phase    Phase  `json:"phase"`

	EntryAmount int64    `json:"entryAmount"`
	Pot         int64    `json:"pot"`
	CurrentRound int     `json:"currentRound"`
	Players     []Player `json:"players"`

	StartedBy         string `json:"startedBy"`
	StartedByUsername string `json:"startedByUsername"`
	CreatedAt         int64  `json:"createdAt"` // epoch ms

	JoinDeadline    int64 `json:"joinDeadline"`    // epoch ms
	CountdownEndsAt int64 `json:"countdownEndsAt"` // epoch ms, valid while playing
	RoundDeadline   int64 `json:"roundDeadline"`   // epoch ms, valid while playing

	IsTieBreaker  bool `json:"isTieBreaker"`
	WasTieBreaker bool `json:"wasTieBreaker"`
	IsRoundStarted bool `json:"isRoundStarted"`

	WinnerID         string `json:"winnerId,omitempty"`
	WinnerUsername    string `json:"winnerUsername,omitempty"`
	Winnings          int64  `json:"winnings,omitempty"`
	HouseFee          int64  `json:"houseFee,omitempty"`
	FinishedAt        int64  `json:"finishedAt,omitempty"`
}

// PlayerIndex returns the index of userID in g.Players, or -1.
func (g *Game) PlayerIndex(userID string) int {
	for i := range g.Players {
		if g.Players[i].UserID == userID {
			return i
		}
	}
	return -1
}

// InScopePlayers returns the players who must draw this round: every
// non-eliminated player normally, or exactly the tied players during a
// tie-breaker (spec invariant I5).
func (g *Game) InScopePlayers() []*Player {
	var scoped []*Player
	for i := range g.Players {
		p := &g.Players[i]
		if p.IsEliminated {
			continue
		}
		if g.IsTieBreaker && !p.InTieBreaker {
			continue
		}
		scoped = append(scoped, p)
	}
	return scoped
}

// RemainingCount returns how many non-eliminated players remain.
func (g *Game) RemainingCount() int {
	n := 0
	for i := range g.Players {
		if !g.Players[i].IsEliminated {
			n++
		}
	}
	return n
}

// Timer is the wall-clock deadline record at room:{R}:lowcard:timer
// (spec §3.1). It is data, not a suspended computation, so it
// survives process restarts.
type Timer struct {
	Phase       Phase `json:"phase"`
	ExpiresAt   int64 `json:"expiresAt"`
	RoundNumber int   `json:"roundNumber"`
	CreatedAt   int64 `json:"createdAt"`
}

// Result is the uniform shape every engine entry point returns
// (spec §7, §9): no exceptions for control flow, just typed results.
type Result struct {
	Success bool
	Message string
	IsPvt   bool // shown privately to the caller
	Silent  bool // dropped with no chat output
	Data    map[string]any
}

func ok(msg string, data map[string]any) Result {
	return Result{Success: true, Message: msg, Data: data}
}

func fail(msg string) Result {
	return Result{Success: false, Message: msg, IsPvt: true}
}

func failSilent() Result {
	return Result{Success: false, Silent: true}
}
