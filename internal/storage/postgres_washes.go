package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/models"
)

const washColumns = `id, client_id, washer_id, location_id, wash_type, has_water, has_bucket,
	car_type, car_name, car_color, price, accepted, is_verified, started, completed,
	time_started, time_completed, image_url, created_at`

func scanWash(row scanner) (*models.Wash, error) {
	var (
		w                    models.Wash
		washType             string
		washerID             sql.NullString
		carType, carName     sql.NullString
		carColor             sql.NullString
		started, completedAt sql.NullTime
	)
	if err := row.Scan(&w.ID, &w.ClientID, &washerID, &w.LocationID, &washType, &w.HasWater, &w.HasBucket,
		&carType, &carName, &carColor, &w.Price, &w.Accepted, &w.IsVerified, &w.Started, &w.Completed,
		&started, &completedAt, &w.ImageURL, &w.CreatedAt); err != nil {
		return nil, err
	}
	w.WasherID = washerID.String
	w.WashType = models.WashType(washType)
	if carType.Valid {
		w.Car = &models.Car{Type: carType.String, Name: carName.String, Color: carColor.String}
	}
	if started.Valid {
		t := started.Time
		w.TimeStarted = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		w.TimeCompleted = &t
	}
	return &w, nil
}

func carArgs(c *models.Car) (sql.NullString, sql.NullString, sql.NullString) {
	if c == nil {
		return sql.NullString{}, sql.NullString{}, sql.NullString{}
	}
	return sql.NullString{String: c.Type, Valid: true},
		sql.NullString{String: c.Name, Valid: true},
		sql.NullString{String: c.Color, Valid: true}
}

func (r pgRepo) CreateWash(ctx context.Context, w *models.Wash) error {
	ct, cn, cc := carArgs(w.Car)
	_, err := r.exec(ctx, "wash", `
		INSERT INTO washes (`+washColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		w.ID, w.ClientID, nullString(w.WasherID), w.LocationID, string(w.WashType), w.HasWater, w.HasBucket,
		ct, cn, cc, w.Price, w.Accepted, w.IsVerified, w.Started, w.Completed,
		w.TimeStarted, w.TimeCompleted, w.ImageURL, w.CreatedAt)
	return err
}

func (r pgRepo) GetWash(ctx context.Context, id string) (*models.Wash, error) {
	w, err := scanWash(r.q.QueryRowContext(ctx, `SELECT `+washColumns+` FROM washes WHERE id = $1`, id))
	if err != nil {
		return nil, r.mapErr(err, "wash")
	}
	return w, nil
}

func (r pgRepo) GetWashForUpdate(ctx context.Context, id string) (*models.Wash, error) {
	w, err := scanWash(r.q.QueryRowContext(ctx, `SELECT `+washColumns+` FROM washes WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, r.mapErr(err, "wash")
	}
	return w, nil
}

func (r pgRepo) UpdateWash(ctx context.Context, w *models.Wash) error {
	ct, cn, cc := carArgs(w.Car)
	return r.execOne(ctx, "wash", `
		UPDATE washes SET washer_id = $2, car_type = $3, car_name = $4, car_color = $5, price = $6,
			accepted = $7, is_verified = $8, started = $9, completed = $10,
			time_started = $11, time_completed = $12, image_url = $13
		WHERE id = $1`,
		w.ID, nullString(w.WasherID), ct, cn, cc, w.Price,
		w.Accepted, w.IsVerified, w.Started, w.Completed,
		w.TimeStarted, w.TimeCompleted, w.ImageURL)
}

var progressClause = map[string]string{
	models.ProgressUpcoming:  "NOT accepted",
	models.ProgressPending:   "accepted AND NOT started",
	models.ProgressOngoing:   "started AND NOT completed",
	models.ProgressCompleted: "completed",
}

func (r pgRepo) ListWashes(ctx context.Context, f models.WashFilter) ([]models.Wash, error) {
	var (
		conds []string
		args  []any
	)
	if f.ClientID != "" {
		args = append(args, f.ClientID)
		conds = append(conds, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if f.WasherID != "" {
		args = append(args, f.WasherID)
		conds = append(conds, fmt.Sprintf("washer_id = $%d", len(args)))
	}
	if f.Progress != "" {
		clause, ok := progressClause[f.Progress]
		if !ok {
			return nil, apperr.Validation("unknown progress " + f.Progress)
		}
		conds = append(conds, clause)
	}
	q := `SELECT ` + washColumns + ` FROM washes`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	page := f.Page.Normalize()
	args = append(args, page.Limit, page.Skip)
	q += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, r.mapErr(err, "wash")
	}
	defer rows.Close()
	var out []models.Wash
	for rows.Next() {
		w, err := scanWash(rows)
		if err != nil {
			return nil, r.mapErr(err, "wash")
		}
		out = append(out, *w)
	}
	return out, r.mapErr(rows.Err(), "wash")
}

func (r pgRepo) CreateReview(ctx context.Context, rv *models.Review) error {
	_, err := r.exec(ctx, "review", `
		INSERT INTO reviews (id, wash_id, client_id, washer_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rv.ID, rv.WashID, rv.ClientID, rv.WasherID, rv.Rating, rv.Comment, rv.CreatedAt)
	return err
}

func (r pgRepo) GetReviewByWash(ctx context.Context, washID string) (*models.Review, error) {
	var rv models.Review
	err := r.q.QueryRowContext(ctx, `
		SELECT id, wash_id, client_id, washer_id, rating, comment, created_at
		FROM reviews WHERE wash_id = $1`, washID).
		Scan(&rv.ID, &rv.WashID, &rv.ClientID, &rv.WasherID, &rv.Rating, &rv.Comment, &rv.CreatedAt)
	if err != nil {
		return nil, r.mapErr(err, "review")
	}
	return &rv, nil
}

func (r pgRepo) ReviewStats(ctx context.Context, washerID string) (float64, int, error) {
	var (
		avg   sql.NullFloat64
		count int
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT AVG(rating)::float8, COUNT(*) FROM reviews WHERE washer_id = $1`, washerID).Scan(&avg, &count)
	if err != nil {
		return 0, 0, r.mapErr(err, "review")
	}
	return avg.Float64, count, nil
}

func (r pgRepo) CreateWashMessage(ctx context.Context, m *models.WashMessage) error {
	_, err := r.exec(ctx, "message", `
		INSERT INTO wash_messages (id, wash_id, sender_id, recipient_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.WashID, m.SenderID, m.RecipientID, m.Body, m.CreatedAt)
	return err
}
