package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/models"
)

const notificationColumns = `id, recipient_id, event, title, message, payload, status, attempts,
	next_attempt_at, created_at, delivered_at`

func scanNotification(row scanner) (*models.Notification, error) {
	var (
		n         models.Notification
		payload   []byte
		status    string
		delivered sql.NullTime
	)
	if err := row.Scan(&n.ID, &n.RecipientID, &n.Event, &n.Title, &n.Message, &payload, &status,
		&n.Attempts, &n.NextAttemptAt, &n.CreatedAt, &delivered); err != nil {
		return nil, err
	}
	n.Payload = payload
	n.Status = models.NotificationStatus(status)
	if delivered.Valid {
		t := delivered.Time
		n.DeliveredAt = &t
	}
	return &n, nil
}

func (r pgRepo) EnqueueNotification(ctx context.Context, n *models.Notification) error {
	var payload any
	if len(n.Payload) > 0 {
		payload = []byte(n.Payload)
	}
	_, err := r.exec(ctx, "notification", `
		INSERT INTO notifications (id, recipient_id, event, title, message, payload, status, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, n.RecipientID, n.Event, n.Title, n.Message, payload, string(n.Status), n.Attempts,
		n.NextAttemptAt, n.CreatedAt)
	return err
}

func (r pgRepo) ClaimNotifications(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]models.Notification, error) {
	rows, err := r.q.QueryContext(ctx, `
		UPDATE notifications SET next_attempt_at = $2, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+notificationColumns, now, now.Add(lease), limit)
	if err != nil {
		return nil, r.mapErr(err, "notification")
	}
	defer rows.Close()
	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, r.mapErr(err, "notification")
		}
		out = append(out, *n)
	}
	return out, r.mapErr(rows.Err(), "notification")
}

func (r pgRepo) MarkNotificationDelivered(ctx context.Context, id string, at time.Time) error {
	return r.execOne(ctx, "notification",
		`UPDATE notifications SET status = 'delivered', delivered_at = $2 WHERE id = $1`, id, at)
}

func (r pgRepo) MarkNotificationFailed(ctx context.Context, id string, next time.Time, final bool) error {
	if final {
		return r.execOne(ctx, "notification",
			`UPDATE notifications SET status = 'failed' WHERE id = $1`, id)
	}
	return r.execOne(ctx, "notification",
		`UPDATE notifications SET next_attempt_at = $2 WHERE id = $1`, id, next)
}

func (r pgRepo) ListNotifications(ctx context.Context, recipientID string, page models.Page) ([]models.Notification, error) {
	page = page.Normalize()
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications WHERE recipient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, recipientID, page.Limit, page.Skip)
	if err != nil {
		return nil, r.mapErr(err, "notification")
	}
	defer rows.Close()
	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, r.mapErr(err, "notification")
		}
		out = append(out, *n)
	}
	return out, r.mapErr(rows.Err(), "notification")
}

func (r pgRepo) OpenIssue(ctx context.Context, ownerID string, role models.Role) (*models.Issue, error) {
	var (
		is     models.Issue
		irole  string
		status string
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, owner_id, owner_role, status, created_at FROM issues
		WHERE owner_id = $1 AND status = 'open'`, ownerID).
		Scan(&is.ID, &is.OwnerID, &irole, &status, &is.CreatedAt)
	if err == nil {
		is.OwnerRole, is.Status = models.Role(irole), models.IssueStatus(status)
		return &is, nil
	}
	if err != sql.ErrNoRows {
		return nil, r.mapErr(err, "issue")
	}
	is = models.Issue{
		ID:        models.NewID(models.PrefixIssue),
		OwnerID:   ownerID,
		OwnerRole: role,
		Status:    models.IssueOpen,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := r.exec(ctx, "issue", `
		INSERT INTO issues (id, owner_id, owner_role, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		is.ID, is.OwnerID, string(is.OwnerRole), string(is.Status), is.CreatedAt); err != nil {
		return nil, err
	}
	return &is, nil
}

func (r pgRepo) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	var (
		is     models.Issue
		irole  string
		status string
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT id, owner_id, owner_role, status, created_at FROM issues WHERE id = $1`, id).
		Scan(&is.ID, &is.OwnerID, &irole, &status, &is.CreatedAt)
	if err != nil {
		return nil, r.mapErr(err, "issue")
	}
	is.OwnerRole, is.Status = models.Role(irole), models.IssueStatus(status)
	return &is, nil
}

func (r pgRepo) AddIssueMessage(ctx context.Context, m *models.IssueMessage) error {
	if m.IssueID == "" {
		return apperr.Validation("issue id is required")
	}
	_, err := r.exec(ctx, "issue message", `
		INSERT INTO issue_messages (id, issue_id, sender_id, sender, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.IssueID, m.SenderID, string(m.Sender), m.Body, m.CreatedAt)
	return err
}
