package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/campuslink/campuslink/internal/message"
	"github.com/campuslink/campuslink/internal/notification"
	"github.com/campuslink/campuslink/internal/relationship"
	"github.com/campuslink/campuslink/internal/user"
)

type userRepo struct {
	db *sql.DB
}

func (r *userRepo) Create(ctx context.Context, u user.User) error {
	if u.ID == "" || u.Username == "" || u.CreatedAt.IsZero() {
		return fmt.Errorf("user id, username, and created_at are required")
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO users (id, username, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`, u.ID, u.Username, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id user.ID) (user.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, username, password_hash, created_at
		FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (user.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, username, password_hash, created_at
		FROM users WHERE username = $1`, username)
	return scanUser(row)
}

func scanUser(row *sql.Row) (user.User, error) {
	var u user.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, ErrNotFound
		}
		return user.User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

type relationshipRepo struct {
	db *sql.DB
}

func (r *relationshipRepo) Create(ctx context.Context, rel relationship.Relationship) error {
	if rel.ID == "" || rel.RequesterID == "" || rel.RecipientID == "" || rel.Status == "" || rel.CreatedAt.IsZero() {
		return fmt.Errorf("relationship fields are required")
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO relationships (id, requester_id, recipient_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`, rel.ID, rel.RequesterID, rel.RecipientID, rel.Status, rel.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert relationship: %w", err)
	}
	return nil
}

func (r *relationshipRepo) GetByID(ctx context.Context, id relationship.ID) (relationship.Relationship, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, requester_id, recipient_id, status, created_at
		FROM relationships WHERE id = $1`, id)
	return scanRelationship(row)
}

func (r *relationshipRepo) GetByPair(ctx context.Context, a, b user.ID) (relationship.Relationship, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, requester_id, recipient_id, status, created_at
		FROM relationships
		WHERE (requester_id = $1 AND recipient_id = $2) OR (requester_id = $2 AND recipient_id = $1)`, a, b)
	return scanRelationship(row)
}

func scanRelationship(row *sql.Row) (relationship.Relationship, error) {
	var rel relationship.Relationship
	if err := row.Scan(&rel.ID, &rel.RequesterID, &rel.RecipientID, &rel.Status, &rel.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return relationship.Relationship{}, relationship.ErrNotFound
		}
		return relationship.Relationship{}, fmt.Errorf("select relationship: %w", err)
	}
	return rel, nil
}

func (r *relationshipRepo) UpdateStatus(ctx context.Context, id relationship.ID, status relationship.Status) error {
	res, err := r.db.ExecContext(ctx, `UPDATE relationships SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update relationship status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return relationship.ErrNotFound
	}
	return nil
}

func (r *relationshipRepo) ListByUser(ctx context.Context, userID user.ID, status relationship.Status) ([]relationship.Relationship, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, requester_id, recipient_id, status, created_at
		FROM relationships
		WHERE (requester_id = $1 OR recipient_id = $1) AND status = $2
		ORDER BY created_at`, userID, status)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	var rels []relationship.Relationship
	for rows.Next() {
		var rel relationship.Relationship
		if err := rows.Scan(&rel.ID, &rel.RequesterID, &rel.RecipientID, &rel.Status, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}
	return rels, nil
}

type messageRepo struct {
	db *sql.DB
}

func (r *messageRepo) Save(ctx context.Context, msg message.Message) error {
	if msg.ID == "" || msg.SenderID == "" || msg.ReceiverID == "" {
		return fmt.Errorf("message ids are required")
	}
	if msg.Content == "" || msg.SentAt.IsZero() {
		return fmt.Errorf("content and sent_at are required")
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO messages (id, sender_id, receiver_id, content, sent_at)
		VALUES ($1, $2, $3, $4, $5)`, msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, msg.SentAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *messageRepo) ListConversation(ctx context.Context, a, b user.ID, skip, take int) ([]message.Message, error) {
	if a == "" || b == "" {
		return nil, fmt.Errorf("user ids are required")
	}
	if take <= 0 {
		return nil, fmt.Errorf("take must be positive")
	}
	if skip < 0 {
		skip = 0
	}

	rows, err := r.db.QueryContext(ctx, `SELECT id, sender_id, receiver_id, content, sent_at
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY sent_at DESC, id DESC
		OFFSET $3 LIMIT $4`, a, b, skip, take)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *messageRepo) ListPartners(ctx context.Context, userID user.ID) ([]user.ID, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT
			CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END
		FROM messages
		WHERE sender_id = $1 OR receiver_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list partners: %w", err)
	}
	defer rows.Close()

	var partners []user.ID
	for rows.Next() {
		var id user.ID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan partner: %w", err)
		}
		partners = append(partners, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partners: %w", err)
	}
	return partners, nil
}

func (r *messageRepo) ListRecentForUser(ctx context.Context, userID user.ID, limit int) ([]message.Message, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	rows, err := r.db.QueryContext(ctx, `SELECT id, sender_id, receiver_id, content, sent_at
		FROM messages
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY sent_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]message.Message, error) {
	var msgs []message.Message
	for rows.Next() {
		var msg message.Message
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.SentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

type notificationRepo struct {
	db *sql.DB
}

func (r *notificationRepo) Save(ctx context.Context, n notification.Notification) error {
	if n.ID == "" || n.UserID == "" || n.Kind == "" || n.CreatedAt.IsZero() {
		return fmt.Errorf("notification fields are required")
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO notifications (id, user_id, actor_id, kind, body, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, n.ID, n.UserID, n.ActorID, n.Kind, n.Body, n.Read, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *notificationRepo) ListUnread(ctx context.Context, userID user.ID, limit int) ([]notification.Notification, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	rows, err := r.db.QueryContext(ctx, `SELECT id, user_id, actor_id, kind, body, read, created_at
		FROM notifications
		WHERE user_id = $1 AND read = FALSE
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var ns []notification.Notification
	for rows.Next() {
		var n notification.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.ActorID, &n.Kind, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		ns = append(ns, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return ns, nil
}

func (r *notificationRepo) MarkRead(ctx context.Context, id notification.ID, userID user.ID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = TRUE
		WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
