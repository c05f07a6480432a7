package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrUserNotFound is returned when a user row does not exist.
var ErrUserNotFound = errors.New("user not found")

type Repository struct {
	db *sqlx.DB
}

func NewConnection(databaseURL string, maxConns, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// User operations

func (r *Repository) UpsertUser(ctx context.Context, userID int64, username string) error {
	query := `
        INSERT INTO users (user_id, username, created_at)
        VALUES ($1, LOWER($2), $3)
        ON CONFLICT (user_id) DO UPDATE SET username = LOWER($2)`

	_, err := r.db.ExecContext(ctx, query, userID, username, time.Now().UTC())
	return err
}

func (r *Repository) GetUser(ctx context.Context, userID int64) (*User, error) {
	var u User
	query := `SELECT * FROM users WHERE user_id = $1`
	err := r.db.GetContext(ctx, &u, query, userID)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	return &u, err
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	query := `SELECT * FROM users WHERE username = LOWER($1)`
	err := r.db.GetContext(ctx, &u, query, username)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	return &u, err
}

func (r *Repository) SetTier(ctx context.Context, userID int64, tier int, end time.Time) error {
	query := `UPDATE users SET tier = $2, subscription_end = $3 WHERE user_id = $1`
	_, err := r.db.ExecContext(ctx, query, userID, tier, end)
	return err
}

func (r *Repository) SetBlocked(ctx context.Context, userID int64, blocked bool) error {
	query := `UPDATE users SET blocked = $2 WHERE user_id = $1`
	_, err := r.db.ExecContext(ctx, query, userID, blocked)
	return err
}

func (r *Repository) SetVerified(ctx context.Context, userID int64, verified bool) error {
	query := `UPDATE users SET verified = $2 WHERE user_id = $1`
	_, err := r.db.ExecContext(ctx, query, userID, verified)
	return err
}

func (r *Repository) SetBonusGranted(ctx context.Context, userID int64, granted bool) error {
	query := `UPDATE users SET bonus_granted = $2 WHERE user_id = $1`
	_, err := r.db.ExecContext(ctx, query, userID, granted)
	return err
}

func (r *Repository) SetInstruction(ctx context.Context, userID int64, instruction *string) error {
	query := `UPDATE users SET instruction = $2 WHERE user_id = $1`
	_, err := r.db.ExecContext(ctx, query, userID, instruction)
	return err
}

func (r *Repository) SetTemperature(ctx context.Context, userID int64, temperature *float64) error {
	query := `UPDATE users SET temperature = $2 WHERE user_id = $1`
	_, err := r.db.ExecContext(ctx, query, userID, temperature)
	return err
}

func (r *Repository) SetLastUsedModel(ctx context.Context, userID int64, model string) error {
	query := `UPDATE users SET last_used_model = $2 WHERE user_id = $1`
	_, err := r.db.ExecContext(ctx, query, userID, model)
	return err
}

func (r *Repository) SetLastUsedImageModel(ctx context.Context, userID int64, model string) error {
	query := `UPDATE users SET last_used_image_model = $2 WHERE user_id = $1`
	_, err := r.db.ExecContext(ctx, query, userID, model)
	return err
}

// Request ledger operations

func (r *Repository) CountRequestsToday(ctx context.Context, userID int64, day string, mode RequestMode) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM requests WHERE user_id = $1 AND request_day = $2 AND mode = $3`
	err := r.db.GetContext(ctx, &count, query, userID, day, mode)
	return count, err
}

func (r *Repository) AppendRequest(ctx context.Context, userID int64, model, day string, mode RequestMode) error {
	query := `
        INSERT INTO requests (id, user_id, model, request_day, mode, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		uuid.New().String(), userID, model, day, mode, time.Now().UTC())
	return err
}

// System state operations

func (r *Repository) GetSystemState(ctx context.Context, key string) (*SystemState, error) {
	var s SystemState
	query := `SELECT key, value, updated_at FROM system_state WHERE key = $1`
	err := r.db.GetContext(ctx, &s, query, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &s, err
}

func (r *Repository) SetSystemState(ctx context.Context, key, value string) error {
	query := `
        INSERT INTO system_state (key, value, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query, key, value, time.Now().UTC())
	return err
}

// Admin reporting

func (r *Repository) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users`)
	return count, err
}

func (r *Repository) SubscriptionStats(ctx context.Context) ([]TierStat, error) {
	stats := []TierStat{}
	query := `SELECT tier, COUNT(*) AS count FROM users GROUP BY tier ORDER BY tier`
	err := r.db.SelectContext(ctx, &stats, query)
	return stats, err
}

func (r *Repository) GetUsersPaginated(ctx context.Context, limit, offset int) ([]*User, error) {
	users := []*User{}
	query := `SELECT * FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	err := r.db.SelectContext(ctx, &users, query, limit, offset)
	return users, err
}

func (r *Repository) CountRequestsOnDay(ctx context.Context, day string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM requests WHERE request_day = $1`
	err := r.db.GetContext(ctx, &count, query, day)
	return count, err
}
