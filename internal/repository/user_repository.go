package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"chatcore/internal/model"
)

// UserRepository implements C2's UserRepository contract against a MySQL
// users table, grounded on original_source/JdbcUserRepository.java for the
// normalization and insert/update rules.
type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// FindByUsername normalizes u (trim + lowercase) and returns the matching
// user, or (nil, nil) if none exists. Empty input never matches.
func (r *UserRepository) FindByUsername(ctx context.Context, u string) (*model.User, error) {
	key := normalizeUsername(u)
	if key == "" {
		return nil, nil
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, key)

	var user model.User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrapStorage("find user by username", err)
	}
	return &user, nil
}

// ExistsByUsername is the boolean form of FindByUsername.
func (r *UserRepository) ExistsByUsername(ctx context.Context, u string) (bool, error) {
	key := normalizeUsername(u)
	if key == "" {
		return false, nil
	}

	row := r.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE username = ?`, key)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, wrapStorage("check user existence", err)
	}
	return true, nil
}

// Save inserts user when ID is zero, otherwise updates the existing row.
// It rejects a blank username or hash and assigns CreatedAt when unset.
func (r *UserRepository) Save(ctx context.Context, user *model.User) error {
	username := strings.TrimSpace(user.Username)
	if username == "" {
		return &ValidationError{Field: "username", Msg: "must not be blank"}
	}
	hash := strings.TrimSpace(user.PasswordHash)
	if hash == "" {
		return &ValidationError{Field: "passwordHash", Msg: "must not be blank"}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	if user.ID == 0 {
		res, err := r.db.ExecContext(ctx,
			`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
			username, hash, user.CreatedAt)
		if err != nil {
			return wrapStorage("insert user", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return wrapStorage("read inserted user id", err)
		}
		user.ID = id
		return nil
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET username = ?, password_hash = ?, created_at = ? WHERE id = ?`,
		username, hash, user.CreatedAt, user.ID)
	if err != nil {
		return wrapStorage("update user", err)
	}
	return nil
}

func normalizeUsername(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}

// ValidationError is returned by repository methods for input that never
// reaches the store — distinct from StorageError, which wraps store failures.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Msg
}
