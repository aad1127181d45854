package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/asterhq/aster/store"
)

func (d *DB) UpsertUserProfile(ctx context.Context, upsert *store.UpsertUserProfile) (*store.UserProfile, error) {
	now := time.Now().Unix()
	stmt := `INSERT INTO user_profile (user_id, display_name, primary_goal, coaching_style, created_ts, updated_ts)
		VALUES (` + placeholders(6) + `)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			primary_goal = EXCLUDED.primary_goal,
			coaching_style = EXCLUDED.coaching_style,
			updated_ts = EXCLUDED.updated_ts
		RETURNING user_id, display_name, primary_goal, coaching_style, created_ts, updated_ts`

	p := &store.UserProfile{}
	err := d.db.QueryRowContext(ctx, stmt,
		upsert.UserID, upsert.DisplayName, upsert.PrimaryGoal, upsert.CoachingStyle, now, now,
	).Scan(&p.UserID, &p.DisplayName, &p.PrimaryGoal, &p.CoachingStyle, &p.CreatedTs, &p.UpdatedTs)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user profile: %w", err)
	}

	return p, nil
}

func (d *DB) GetUserProfile(ctx context.Context, find *store.FindUserProfile) (*store.UserProfile, error) {
	if find.UserID == nil {
		return nil, fmt.Errorf("user id is required")
	}

	query := `SELECT user_id, display_name, primary_goal, coaching_style, created_ts, updated_ts FROM user_profile WHERE user_id = ` + placeholder(1)
	p := &store.UserProfile{}
	err := d.db.QueryRowContext(ctx, query, *find.UserID).Scan(
		&p.UserID, &p.DisplayName, &p.PrimaryGoal, &p.CoachingStyle, &p.CreatedTs, &p.UpdatedTs,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}

	return p, nil
}
