package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/lox/skylineoracle/internal/models"
)

// ErrUsernameTaken is returned when another profile already uses a username.
var ErrUsernameTaken = errors.New("username taken")

// UpsertProfile creates or renames a profile. The case-insensitive unique
// index on username decides concurrent claims; the loser gets ErrUsernameTaken.
func (s *Store) UpsertProfile(ctx context.Context, p models.Profile) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO profiles (id, username, avatar_url, created_at)
		VALUES (:id, :username, :avatar_url, :created_at)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			avatar_url = excluded.avatar_url
	`, p)
	if isUniqueViolation(err) {
		return ErrUsernameTaken
	}
	return err
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE")
	}
	return false
}

func (s *Store) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	err := s.db.GetContext(ctx, &p, `SELECT id, username, avatar_url, created_at FROM profiles WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Usernames maps user IDs to usernames for the given IDs. Unknown IDs are omitted.
func (s *Store) Usernames(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT id, username, avatar_url, created_at FROM profiles WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var profiles []models.Profile
	if err := s.db.SelectContext(ctx, &profiles, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, p := range profiles {
		out[p.ID] = p.Username
	}
	return out, nil
}

// SearchProfiles does a case-insensitive substring match on username.
func (s *Store) SearchProfiles(ctx context.Context, query string, limit int) ([]models.Profile, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(query)
	var profiles []models.Profile
	err := s.db.SelectContext(ctx, &profiles, `
		SELECT id, username, avatar_url, created_at
		FROM profiles
		WHERE username LIKE ? ESCAPE '\'
		ORDER BY username COLLATE NOCASE
		LIMIT ?
	`, "%"+escaped+"%", limit)
	return profiles, err
}

func (s *Store) Follow(ctx context.Context, f models.Follow) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO follows (follower_id, followee_id, created_at)
		VALUES (:follower_id, :followee_id, :created_at)
		ON CONFLICT(follower_id, followee_id) DO NOTHING
	`, f)
	return err
}

func (s *Store) Unfollow(ctx context.Context, followerID, followeeID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM follows WHERE follower_id = ? AND followee_id = ?`, followerID, followeeID)
	return err
}

// Following lists the profiles a user follows, oldest follow first.
func (s *Store) Following(ctx context.Context, followerID string) ([]models.Profile, error) {
	var profiles []models.Profile
	err := s.db.SelectContext(ctx, &profiles, `
		SELECT p.id, p.username, p.avatar_url, p.created_at
		FROM follows f
		JOIN profiles p ON p.id = f.followee_id
		WHERE f.follower_id = ?
		ORDER BY f.created_at, p.id
	`, followerID)
	return profiles, err
}

func (s *Store) FollowerCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM follows WHERE followee_id = ?`, userID)
	return n, err
}

func (s *Store) InsertComment(ctx context.Context, c models.Comment) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO comments (id, prediction_id, user_id, text, created_at)
		VALUES (:id, :prediction_id, :user_id, :text, :created_at)
	`, c)
	return err
}

// GetComments lists comments on a prediction, oldest first.
func (s *Store) GetComments(ctx context.Context, predictionID int64) ([]models.Comment, error) {
	var comments []models.Comment
	err := s.db.SelectContext(ctx, &comments, `
		SELECT c.id, c.prediction_id, c.user_id, COALESCE(p.username, '') AS username, c.text, c.created_at
		FROM comments c
		LEFT JOIN profiles p ON p.id = c.user_id
		WHERE c.prediction_id = ?
		ORDER BY c.created_at, c.id
	`, predictionID)
	return comments, err
}
