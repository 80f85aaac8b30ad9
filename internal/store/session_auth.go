package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

// CreateAuthSession creates a login token for an admin user valid for ttl.
func (s *Store) CreateAuthSession(ctx context.Context, userID int64, ttl time.Duration) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now, now.Add(ttl),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// Authenticate resolves a token to its active user. Unknown, expired or
// deactivated logins yield nil.
func (s *Store) Authenticate(ctx context.Context, token string) (*model.User, error) {
	var (
		sess model.AuthSession
		u    model.User
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT a.id, a.user_id, a.created_at, a.expires_at,
		        u.id, u.username, u.display_name, u.password_hash, u.role, u.active, u.created_at
		 FROM auth_sessions a JOIN users u ON u.id = a.user_id
		 WHERE a.id = ?`, token,
	).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt,
		&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = s.DeleteAuthSession(ctx, token)
		return nil, nil
	}
	if !u.Active {
		return nil, nil
	}
	return &u, nil
}

// DeleteAuthSession removes a login token.
func (s *Store) DeleteAuthSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

// CleanupExpiredSessions removes all expired login tokens.
func (s *Store) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
