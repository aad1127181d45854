package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/asterhq/aster/store"
)

func (d *DB) CreateNote(ctx context.Context, create *store.Note) (*store.Note, error) {
	fields := []string{"uid", "user_id", "category", "content", "importance", "source_conversation_id", "created_ts"}
	args := []any{create.UID, create.UserID, string(create.Category), create.Content, create.Importance, create.SourceConversationID, create.CreatedTs}

	stmt := `INSERT INTO note (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}

	return create, nil
}

func (d *DB) ListNotes(ctx context.Context, find *store.FindNote) ([]*store.Note, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.Category != nil {
		where, args = append(where, "category = "+placeholder(len(args)+1)), append(args, string(*find.Category))
	}

	query := `SELECT id, uid, user_id, category, content, importance, source_conversation_id, created_ts FROM note WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_ts ASC, id ASC`
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
		if find.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Note, 0)
	for rows.Next() {
		n := &store.Note{}
		var category string
		if err := rows.Scan(&n.ID, &n.UID, &n.UserID, &category, &n.Content, &n.Importance, &n.SourceConversationID, &n.CreatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		n.Category = store.NoteCategory(category)
		list = append(list, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notes: %w", err)
	}

	return list, nil
}

func (d *DB) DeleteNote(ctx context.Context, delete *store.DeleteNote) error {
	where, args := []string{}, []any{}

	if delete.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *delete.ID)
	}
	if delete.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *delete.UserID)
	}

	if len(where) == 0 {
		return fmt.Errorf("no condition to delete")
	}

	stmt := `DELETE FROM note WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}

	return nil
}
