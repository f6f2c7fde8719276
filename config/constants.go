package config

import "time"

/* =========================
   ROOM / GAME KEY PATTERNS (Keyed Store)
========================= */

const (
	// Full game snapshot for a room: lowcard:game:{roomId}
	KeyLowcardGame = "lowcard:game:%s"

	// Ordered card deck for a room: lowcard:deck:{roomId}
	KeyLowcardDeck = "lowcard:deck:%s"

	// Phase timer for a room: room:{roomId}:lowcard:timer
	KeyLowcardTimer = "room:%s:lowcard:timer"
	// Glob pattern the Timer Poller scans with on every tick.
	KeyLowcardTimerScan = "room:*:lowcard:timer"

	// Lock Manager keys (§4.1)
	KeyLowcardStartLock = "lowcard:lock:%s"
	KeyLowcardJoinLock  = "lowcard:joinlock:%s"
	KeyLowcardDrawLock  = "lowcard:drawlock:%s"

	// Cached ledger balance: credits:{userId}
	KeyCreditsCache = "credits:%s"

	// Restart Recovery sweep patterns for the sibling games (§4.8)
	KeyDicebotGameScan  = "dicebot:game:*"
	KeyFlagbotBetsScan  = "flagbot:room:*:bets"
)

/* =========================
   PUB/SUB CHANNELS (§6.2)
========================= */

const (
	ChannelGameCommand       = "game:command"
	ChannelChatMessage       = "game:chat:message"
	ChannelCreditsUpdate     = "game:credits:update"
	ChannelPrivateMessage    = "game:private:message"
)

/* =========================
   TTLS
========================= */

const (
	GameSnapshotTTL = 1 * time.Hour
	DeckTTL         = 1 * time.Hour
	TimerTTL        = 120 * time.Second
	StartLockTTL    = 30 * time.Second
	JoinLockTTL     = 15 * time.Second
	DrawLockTTL     = 15 * time.Second
	CreditsCacheTTL = 300 * time.Second
)

/* =========================
   LOCK RETRY BUDGETS
========================= */

const (
	JoinLockAttempts = 5
	JoinLockDelay    = 100 * time.Millisecond
)

/* =========================
   GAME TIMING (§4.7)
========================= */

const (
	JoinPhaseDuration     = 30 * time.Second
	CountdownDuration     = 3 * time.Second
	RoundDuration         = 20 * time.Second
	StaleWaitingGrace     = 40 * time.Second  // "created > 40s ago, no timer" heuristic
	StaleWaitingCleanup   = 120 * time.Second // joinDeadline + 120s absolute staleness
)

/* =========================
   ECONOMY
========================= */

const (
	DefaultMinEntry = 1
	DefaultMaxEntry = 999_999_999
	BigGameMinEntry = 50 // "big game" rooms: no max cap, higher floor

	HouseFeeNumerator   = 10
	HouseFeeDenominator = 100

	MerchantCommissionNumerator   = 10
	MerchantCommissionDenominator = 100
)

// BigGameSubstring is matched case-insensitively against a room's name.
const BigGameSubstring = "big game"
