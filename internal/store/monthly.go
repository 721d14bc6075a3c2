package store

import (
	"context"
	"fmt"

	"github.com/lox/skylineoracle/internal/models"
)

// InsertMonthlyWinner records the champion for a month. It reports false
// if the month already has a winner.
func (s *Store) InsertMonthlyWinner(ctx context.Context, w models.MonthlyWinner) (bool, error) {
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO monthly_winners (user_id, username, score, month_year, created_at)
		VALUES (:user_id, :username, :score, :month_year, :created_at)
		ON CONFLICT(month_year) DO NOTHING
	`, w)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetMonthlyWinners(ctx context.Context) ([]models.MonthlyWinner, error) {
	var winners []models.MonthlyWinner
	err := s.db.SelectContext(ctx, &winners, `
		SELECT id, user_id, username, score, month_year, created_at
		FROM monthly_winners
		ORDER BY created_at DESC, id DESC
	`)
	return winners, err
}

func (s *Store) CountMonthlyWins(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM monthly_winners WHERE user_id = ?`, userID)
	return n, err
}

// PurgeBetween deletes predictions (and their comments) and observations
// dated start..end inclusive, in one transaction.
func (s *Store) PurgeBetween(ctx context.Context, start, end string) (predictions, observations int64, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM comments WHERE prediction_id IN (
			SELECT id FROM predictions WHERE prediction_date >= ? AND prediction_date <= ?
		)
	`, start, end); err != nil {
		return 0, 0, fmt.Errorf("purge comments: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM predictions WHERE prediction_date >= ? AND prediction_date <= ?`, start, end)
	if err != nil {
		return 0, 0, fmt.Errorf("purge predictions: %w", err)
	}
	if predictions, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM actual_weather WHERE date >= ? AND date <= ?`, start, end)
	if err != nil {
		return 0, 0, fmt.Errorf("purge observations: %w", err)
	}
	if observations, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit purge: %w", err)
	}
	return predictions, observations, nil
}
