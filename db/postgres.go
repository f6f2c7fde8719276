package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"lowcard/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore wraps a pgxpool.Pool with the Durable Store operations
// (spec §2.1, §6.4): users.credits, credit_logs, game_history,
// lowcard_games, lowcard_history, merchant_tags, rooms/room_admins.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and ensures the schema exists,
// mirroring the teacher's pool-config-then-InitSchema boot sequence.
func NewPostgresStore(ctx context.Context, env *config.Env) (*PostgresStore, error) {
	if env.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}

	log.Println("🔌 Connecting to PostgreSQL...")

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(env.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ PostgreSQL connected successfully")

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		log.Println("🔌 Closing PostgreSQL connection...")
		s.pool.Close()
	}
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	log.Println("📋 Initializing database schema...")

	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id       TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		role     TEXT NOT NULL DEFAULT 'player',
		credits  BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id       TEXT PRIMARY KEY,
		name     TEXT NOT NULL,
		owner_id TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS room_admins (
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS credit_logs (
		id               BIGSERIAL PRIMARY KEY,
		user_id          TEXT NOT NULL,
		username         TEXT NOT NULL,
		amount           BIGINT NOT NULL,
		transaction_type TEXT NOT NULL,
		description      TEXT NOT NULL,
		timestamp        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_credit_logs_user ON credit_logs(user_id);

	CREATE TABLE IF NOT EXISTS game_history (
		id         BIGSERIAL PRIMARY KEY,
		user_id    TEXT NOT NULL,
		username   TEXT NOT NULL,
		game       TEXT NOT NULL,
		session_id TEXT NOT NULL,
		result     TEXT NOT NULL,
		reward     BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_game_history_session ON game_history(session_id);

	CREATE TABLE IF NOT EXISTS lowcard_games (
		id           BIGSERIAL PRIMARY KEY,
		room_id      TEXT NOT NULL,
		status       TEXT NOT NULL,
		entry_amount BIGINT NOT NULL,
		pot          BIGINT NOT NULL DEFAULT 0,
		player_count INT NOT NULL DEFAULT 0,
		started_by   TEXT NOT NULL,
		winner_id    TEXT,
		commission   BIGINT NOT NULL DEFAULT 0,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		finished_at  TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_lowcard_games_room ON lowcard_games(room_id);

	CREATE TABLE IF NOT EXISTS lowcard_history (
		id           BIGSERIAL PRIMARY KEY,
		game_id      BIGINT NOT NULL,
		room_id      TEXT NOT NULL,
		pot          BIGINT NOT NULL,
		winner_id    TEXT NOT NULL,
		winnings     BIGINT NOT NULL,
		house_fee    BIGINT NOT NULL,
		player_count INT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS merchant_tags (
		merchant_id     TEXT NOT NULL,
		tagged_user_id  TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'active',
		PRIMARY KEY (merchant_id, tagged_user_id)
	);
	`

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	log.Println("✅ Database schema initialized")
	return nil
}

// HealthCheck pings Postgres.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("PostgreSQL connection pool not initialized")
	}
	return s.pool.Ping(ctx)
}

/* =========================
   USERS / CREDITS
========================= */

// GetCredits reads a user's authoritative balance.
func (s *PostgresStore) GetCredits(ctx context.Context, userID string) (int64, error) {
	var credits int64
	err := s.pool.QueryRow(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&credits)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get credits: %w", err)
	}
	return credits, nil
}

// DeductCredits atomically decrements credits by amount only if the
// user has enough. Returns the new balance and whether the deduction
// applied (0 rows updated means insufficient funds).
func (s *PostgresStore) DeductCredits(ctx context.Context, userID string, amount int64) (int64, bool, error) {
	var newBalance int64
	err := s.pool.QueryRow(ctx, `
		UPDATE users SET credits = credits - $2
		WHERE id = $1 AND credits >= $2
		RETURNING credits
	`, userID, amount).Scan(&newBalance)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("deduct credits: %w", err)
	}
	return newBalance, true, nil
}

// CreditCredits unconditionally increments credits by amount, creating
// the user row if it does not exist yet (username is best-effort).
func (s *PostgresStore) CreditCredits(ctx context.Context, userID, username string, amount int64) (int64, error) {
	var newBalance int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, credits) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET credits = users.credits + $3
		RETURNING credits
	`, userID, username, amount).Scan(&newBalance)
	if err != nil {
		return 0, fmt.Errorf("credit credits: %w", err)
	}
	return newBalance, nil
}

// AppendCreditLog appends an immutable credit_logs row.
func (s *PostgresStore) AppendCreditLog(ctx context.Context, userID, username string, amount int64, txType, description string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credit_logs (user_id, username, amount, transaction_type, description)
		VALUES ($1, $2, $3, $4, $5)
	`, userID, username, amount, txType, description)
	if err != nil {
		return fmt.Errorf("append credit log: %w", err)
	}
	return nil
}

/* =========================
   ROOMS
========================= */

// RoomName returns a room's display name, used for the "big game"
// entry-amount override (spec §4.7 step 3).
func (s *PostgresStore) RoomName(ctx context.Context, roomID string) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `SELECT name FROM rooms WHERE id = $1`, roomID).Scan(&name)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("room name: %w", err)
	}
	return name, nil
}

// IsRoomAdmin reports whether userID is an admin of roomID or the
// room's owner.
func (s *PostgresStore) IsRoomAdmin(ctx context.Context, roomID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM rooms WHERE id = $1 AND owner_id = $2
			UNION
			SELECT 1 FROM room_admins WHERE room_id = $1 AND user_id = $2
		)
	`, roomID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("is room admin: %w", err)
	}
	return exists, nil
}

// IsSystemAdmin reports whether userID has the system admin role.
func (s *PostgresStore) IsSystemAdmin(ctx context.Context, userID string) (bool, error) {
	var role string
	err := s.pool.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, userID).Scan(&role)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is system admin: %w", err)
	}
	return role == "admin", nil
}

// UpsertRoom creates a room or updates its name/owner, for seeding and
// room-admin bootstrap tooling.
func (s *PostgresStore) UpsertRoom(ctx context.Context, roomID, name, ownerID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rooms (id, name, owner_id) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = $2, owner_id = $3
	`, roomID, name, ownerID)
	if err != nil {
		return fmt.Errorf("upsert room: %w", err)
	}
	return nil
}

// AddRoomAdmin grants userID room-admin rights over roomID.
func (s *PostgresStore) AddRoomAdmin(ctx context.Context, roomID, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO room_admins (room_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, roomID, userID)
	if err != nil {
		return fmt.Errorf("add room admin: %w", err)
	}
	return nil
}

/* =========================
   GAME HISTORY
========================= */

// InsertGameHistoryLose writes the "result=lose, reward=0" row a game
// start always writes (spec §3.4).
func (s *PostgresStore) InsertGameHistoryLose(ctx context.Context, userID, username, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO game_history (user_id, username, game, session_id, result, reward)
		VALUES ($1, $2, 'lowcard', $3, 'lose', 0)
	`, userID, username, sessionID)
	if err != nil {
		return fmt.Errorf("insert game history (lose): %w", err)
	}
	return nil
}

// InsertGameHistoryWin writes the winner's "result=win" row at finish.
func (s *PostgresStore) InsertGameHistoryWin(ctx context.Context, userID, username, sessionID string, reward int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO game_history (user_id, username, game, session_id, result, reward)
		VALUES ($1, $2, 'lowcard', $3, 'win', $4)
	`, userID, username, sessionID, reward)
	if err != nil {
		return fmt.Errorf("insert game history (win): %w", err)
	}
	return nil
}

/* =========================
   LOWCARD GAME RECORDS
========================= */

// InsertLowcardGame writes the waiting-status summary row captured at
// start, returning its db id for later updates.
func (s *PostgresStore) InsertLowcardGame(ctx context.Context, roomID, startedBy string, entryAmount int64) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO lowcard_games (room_id, status, entry_amount, pot, player_count, started_by)
		VALUES ($1, 'waiting', $2, $2, 1, $3)
		RETURNING id
	`, roomID, entryAmount, startedBy).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert lowcard game: %w", err)
	}
	return id, nil
}

// FinishLowcardGame updates the summary row at game finish and inserts
// the matching lowcard_history row.
func (s *PostgresStore) FinishLowcardGame(ctx context.Context, dbID int64, roomID, winnerID string, pot, winnings, houseFee int64, playerCount int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("finish lowcard game: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE lowcard_games
		SET status = 'finished', pot = $2, player_count = $3, winner_id = $4,
		    commission = $5, finished_at = NOW()
		WHERE id = $1
	`, dbID, pot, playerCount, winnerID, houseFee)
	if err != nil {
		return fmt.Errorf("finish lowcard game: update: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO lowcard_history (game_id, room_id, pot, winner_id, winnings, house_fee, player_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, dbID, roomID, pot, winnerID, winnings, houseFee, playerCount)
	if err != nil {
		return fmt.Errorf("finish lowcard game: insert history: %w", err)
	}

	return tx.Commit(ctx)
}

/* =========================
   MERCHANT TAGS (commission hook)
========================= */

// ActiveMerchantFor returns the merchant id tagging userID, if any.
func (s *PostgresStore) ActiveMerchantFor(ctx context.Context, userID string) (string, bool, error) {
	var merchantID string
	err := s.pool.QueryRow(ctx, `
		SELECT merchant_id FROM merchant_tags WHERE tagged_user_id = $1 AND status = 'active' LIMIT 1
	`, userID).Scan(&merchantID)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("active merchant for: %w", err)
	}
	return merchantID, true, nil
}
